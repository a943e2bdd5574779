package cebus

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// Code classifies a validation violation.
type Code string

const (
	CodeInvalidVersion Code = "InvalidVersion"
	CodeMissingField   Code = "MissingField"
	CodeInvalidSource  Code = "InvalidSource"
	CodeInvalidFormat  Code = "InvalidFormat"
)

// Violation describes one failed validation rule.
type Violation struct {
	Code    Code
	Attr    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Attr, v.Message)
}

// ValidationResult reports every violation found in one envelope.
// Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool
	Errors   []Violation
	Warnings []Violation
}

func (r ValidationResult) errorMessage() string {
	msgs := make([]string, len(r.Errors))
	for i, v := range r.Errors {
		msgs[i] = v.String()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks an envelope against the envelope specification and
// accumulates all violations rather than stopping at the first. It is
// pure and safe for concurrent use.
func Validate(e *Envelope) ValidationResult {
	var res ValidationResult

	addErr := func(code Code, attr, msg string) {
		res.Errors = append(res.Errors, Violation{Code: code, Attr: attr, Message: msg})
	}
	addWarn := func(code Code, attr, msg string) {
		res.Warnings = append(res.Warnings, Violation{Code: code, Attr: attr, Message: msg})
	}

	// Exactly one wire format is supported; a version mismatch is
	// always a hard error.
	if e.SpecVersion != SpecVersion {
		addErr(CodeInvalidVersion, "specversion",
			fmt.Sprintf("must be %q, got %q", SpecVersion, e.SpecVersion))
	}

	if e.ID == "" {
		addErr(CodeMissingField, "id", "required attribute is missing or empty")
	}
	if e.Source == "" {
		addErr(CodeMissingField, "source", "required attribute is missing or empty")
	}
	if e.Type == "" {
		addErr(CodeMissingField, "type", "required attribute is missing or empty")
	}

	if e.Source != "" {
		abs, err := validateSourceRef(e.Source)
		if err != nil {
			addErr(CodeInvalidSource, "source", err.Error())
		} else if !abs {
			addWarn(CodeInvalidSource, "source", "accepted as relative URI-reference")
		}
	}

	if e.Time != "" {
		if err := validateTimestamp(e.Time); err != nil {
			addErr(CodeInvalidFormat, "time", err.Error())
		}
	}

	if e.DataContentType != "" {
		if err := validateMediaType(e.DataContentType); err != nil {
			addErr(CodeInvalidFormat, "datacontenttype", err.Error())
		}
	}

	if e.DataSchema != "" {
		if _, err := validateSourceRef(e.DataSchema); err != nil {
			addErr(CodeInvalidFormat, "dataschema", err.Error())
		}
	}

	for name := range e.Extensions {
		if err := validateExtensionName(name); err != nil {
			addErr(CodeInvalidFormat, name, "invalid extension attribute name")
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// validateSourceRef classifies a URI-reference. It first attempts an
// absolute-URI parse; on failure the value is accepted as a relative
// reference as long as it carries no whitespace or control characters.
// The relative branch is deliberately permissive and is reported as a
// warning by Validate rather than tightened to a full RFC 3986
// relative-reference grammar.
func validateSourceRef(s string) (absolute bool, err error) {
	if u, perr := url.Parse(s); perr == nil && u.IsAbs() {
		return true, nil
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false, fmt.Errorf("not a valid URI-reference: contains whitespace or control characters")
		}
	}
	return false, nil
}

// validateTimestamp confirms the value parses as RFC3339 and that
// re-serializing reproduces the original string. The round-trip check
// rejects non-canonical renderings that naive parsers would accept.
func validateTimestamp(s string) error {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("not a valid RFC3339 timestamp: %s", err)
	}
	if t.Format(time.RFC3339Nano) != s && t.Format(time.RFC3339) != s {
		return fmt.Errorf("timestamp %q does not round-trip as RFC3339", s)
	}
	return nil
}

// validateMediaType confirms a type/subtype media-type shape.
func validateMediaType(s string) error {
	// Strip any parameters; only the type/subtype shape is enforced.
	mt := s
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)

	parts := strings.Split(mt, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("not a valid media type: %q", s)
	}
	for _, p := range parts {
		for _, r := range p {
			if unicode.IsSpace(r) || unicode.IsControl(r) {
				return fmt.Errorf("not a valid media type: %q", s)
			}
		}
	}
	return nil
}

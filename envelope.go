package cebus

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// SpecVersion is the envelope format version every envelope must declare.
// No other value is accepted by the validator.
const SpecVersion = "1.0"

var (
	// Reserved attribute names in the wire representation. Extension
	// attributes may not reuse any of these.
	reservedAttrs = map[string]struct{}{
		"specversion":     {},
		"id":              {},
		"source":          {},
		"type":            {},
		"time":            {},
		"subject":         {},
		"datacontenttype": {},
		"dataschema":      {},
		"data":            {},
	}

	// Extension attribute names are 1-20 lowercase alphanumerics,
	// optionally with interior hyphens.
	extNameRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,18}[a-z0-9])?$`)
)

func validateExtensionName(name string) error {
	if !extNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidExtensionName, name)
	}
	if _, ok := reservedAttrs[name]; ok {
		return fmt.Errorf("%w: %q is a reserved attribute", ErrInvalidExtensionName, name)
	}
	return nil
}

// Envelope is the versioned metadata wrapper around one event. It is
// logically immutable: once constructed it flows through validation,
// middleware, and dispatch without mutation. Middleware that needs to
// transform an envelope returns a modified clone.
type Envelope struct {
	// SpecVersion identifies the envelope format. Must be SpecVersion.
	SpecVersion string

	// ID is a producer-scoped unique identifier. NUID, ULID, or UUID
	// are recommended.
	ID string

	// Source is a URI-reference identifying the producer.
	Source string

	// Type is the dot-delimited classification of the event,
	// e.g. "guild.member.joined".
	Type string

	// Time is the RFC3339 timestamp of when the event occurred.
	// Optional; kept as the original string so validation can confirm
	// it re-serializes losslessly.
	Time string

	// Subject names the resource the event is about. Optional.
	Subject string

	// DataContentType is the media type of Data. Optional.
	DataContentType string

	// DataSchema is a URI to a schema that Data adheres to. Optional.
	DataSchema string

	// Data is the opaque event payload.
	Data any

	// Extensions holds additional attributes keyed by names matching
	// the extension naming rule.
	Extensions map[string]any
}

// Clone returns a copy of the envelope with its own extension map.
// The payload is shared, not copied; it is treated as opaque and
// immutable by convention.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Extensions != nil {
		c.Extensions = make(map[string]any, len(e.Extensions))
		for k, v := range e.Extensions {
			c.Extensions[k] = v
		}
	}
	return &c
}

// Extension returns the named extension attribute.
func (e *Envelope) Extension(name string) (any, bool) {
	v, ok := e.Extensions[name]
	return v, ok
}

// MarshalJSON renders the envelope in its canonical wire form:
// lowercase attribute names with extension attributes flattened to the
// top level. Empty optional attributes are omitted.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 9+len(e.Extensions))

	m["specversion"] = e.SpecVersion
	m["id"] = e.ID
	m["source"] = e.Source
	m["type"] = e.Type

	if e.Time != "" {
		m["time"] = e.Time
	}
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	if e.DataContentType != "" {
		m["datacontenttype"] = e.DataContentType
	}
	if e.DataSchema != "" {
		m["dataschema"] = e.DataSchema
	}
	if e.Data != nil {
		m["data"] = e.Data
	}

	for k, v := range e.Extensions {
		if _, ok := reservedAttrs[k]; ok {
			continue
		}
		m[k] = v
	}

	return json.Marshal(m)
}

// UnmarshalJSON parses the canonical wire form. Attributes outside the
// reserved set become extension attributes.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}

	e.SpecVersion = str("specversion")
	e.ID = str("id")
	e.Source = str("source")
	e.Type = str("type")
	e.Time = str("time")
	e.Subject = str("subject")
	e.DataContentType = str("datacontenttype")
	e.DataSchema = str("dataschema")
	e.Data = m["data"]
	e.Extensions = nil

	for k, v := range m {
		if _, ok := reservedAttrs[k]; ok {
			continue
		}
		if e.Extensions == nil {
			e.Extensions = make(map[string]any)
		}
		e.Extensions[k] = v
	}

	return nil
}

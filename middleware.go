package cebus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cebus-io/cebus/clock"
)

var (
	ErrValidationFailed = errors.New("cebus: validation failed")
)

// Middleware is a pipeline stage that receives an envelope and returns
// a possibly transformed envelope before subscriber dispatch. An error
// aborts the publish.
type Middleware func(e *Envelope) (*Envelope, error)

// Policy controls how validation failures are enforced.
type Policy string

const (
	// PolicyStrict aborts the publish on any validation error.
	PolicyStrict Policy = "strict"

	// PolicyWarning reports validation errors but lets the envelope
	// proceed to subscribers.
	PolicyWarning Policy = "warning"

	// PolicyDisabled bypasses the validator entirely.
	PolicyDisabled Policy = "disabled"
)

// Stats is a read-only snapshot of validation statistics.
type Stats struct {
	// Validated is the total number of envelopes run through the
	// validator, passing or failing.
	Validated uint64

	// Failed is the number of envelopes with at least one hard error.
	Failed uint64

	// FailureRate is Failed over Validated.
	FailureRate float64

	// LastError is the message of the most recent failure.
	LastError string

	// ByCode is a histogram of hard errors by violation code.
	ByCode map[Code]uint64

	// AvgTime is the moving average validation duration over a
	// bounded trailing sample window.
	AvgTime time.Duration
}

// ValidationMiddleware wraps Validate with an enforcement policy,
// duration measurement against a delay budget, and rolling statistics.
type ValidationMiddleware struct {
	policy Policy
	budget time.Duration
	window int
	clk    clock.Clock
	warn   func(msg string)

	mu        sync.Mutex
	validated uint64
	failed    uint64
	byCode    map[Code]uint64
	lastErr   string
	samples   []time.Duration
}

// NewValidationMiddleware builds a validation middleware from a
// configuration value. Zero config fields take the DefaultConfig
// values.
func NewValidationMiddleware(cfg Config) *ValidationMiddleware {
	cfg = cfg.withDefaults()
	return &ValidationMiddleware{
		policy: cfg.Policy,
		budget: cfg.DelayBudget,
		window: cfg.StatsWindow,
		clk:    clock.Time,
		byCode: make(map[Code]uint64),
	}
}

// Middleware returns the pipeline stage backed by this instance.
func (m *ValidationMiddleware) Middleware() Middleware {
	return m.handle
}

func (m *ValidationMiddleware) handle(e *Envelope) (*Envelope, error) {
	if m.policy == PolicyDisabled {
		return e, nil
	}

	start := m.clk.Now()
	res := Validate(e)
	elapsed := m.clk.Now().Sub(start)

	// Slow validation is an operational signal only; it never affects
	// validity.
	if m.budget > 0 && elapsed > m.budget {
		m.warnf("validation of %q took %s, budget is %s", e.Type, elapsed, m.budget)
	}

	m.record(res, elapsed)

	if !res.Valid {
		msg := res.errorMessage()
		if m.policy == PolicyStrict {
			return nil, fmt.Errorf("%w: %s", ErrValidationFailed, msg)
		}
		m.warnf("invalid envelope %q allowed through: %s", e.Type, msg)
	}

	return e, nil
}

func (m *ValidationMiddleware) record(res ValidationResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.validated++
	if !res.Valid {
		m.failed++
		m.lastErr = res.errorMessage()
		for _, v := range res.Errors {
			m.byCode[v.Code]++
		}
	}

	m.samples = append(m.samples, elapsed)
	if len(m.samples) > m.window {
		m.samples = m.samples[len(m.samples)-m.window:]
	}
}

// Stats returns a snapshot of the counters. It never mutates state.
func (m *ValidationMiddleware) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Validated: m.validated,
		Failed:    m.failed,
		LastError: m.lastErr,
		ByCode:    make(map[Code]uint64, len(m.byCode)),
	}
	for k, v := range m.byCode {
		s.ByCode[k] = v
	}
	if m.validated > 0 {
		s.FailureRate = float64(m.failed) / float64(m.validated)
	}
	if len(m.samples) > 0 {
		var sum time.Duration
		for _, d := range m.samples {
			sum += d
		}
		s.AvgTime = sum / time.Duration(len(m.samples))
	}
	return s
}

// Reset clears all counters and samples.
func (m *ValidationMiddleware) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.validated = 0
	m.failed = 0
	m.lastErr = ""
	m.byCode = make(map[Code]uint64)
	m.samples = nil
}

func (m *ValidationMiddleware) warnf(format string, args ...any) {
	if m.warn != nil {
		m.warn(fmt.Sprintf(format, args...))
	}
}

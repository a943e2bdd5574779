package clock

import "time"

var (
	Time Clock = &realClock{}
)

// Clock abstracts wall-clock time so that timestamping and duration
// measurement can be made deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

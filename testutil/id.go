package testutil

import "fmt"

// IDGen generates deterministic sequential identifiers in order to
// make assertions on generated envelope IDs.
type IDGen struct {
	prefix string
	n      int
	last   string
}

// New implements the id.ID interface.
func (g *IDGen) New() string {
	g.n++
	g.last = fmt.Sprintf("%s-%d", g.prefix, g.n)
	return g.last
}

// Last returns the last ID that was generated.
func (g *IDGen) Last() string {
	return g.last
}

func NewIDGen(prefix string) *IDGen {
	return &IDGen{prefix: prefix}
}

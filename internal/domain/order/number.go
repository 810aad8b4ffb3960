package order

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NumberGenerator produces human-readable order numbers of the form
// ORD-YYMMDD-NNNN, where NNNN is a random suffix in [1000, 9999].
// Uniqueness is not guaranteed here; stores enforce it and callers retry.
type NumberGenerator struct {
	now    func() time.Time
	suffix func() int
}

// NewNumberGenerator returns a generator using the current UTC date.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{
		now:    func() time.Time { return time.Now().UTC() },
		suffix: func() int { return 1000 + rand.IntN(9000) },
	}
}

// Next returns a new candidate order number.
func (g *NumberGenerator) Next() string {
	return fmt.Sprintf("ORD-%s-%04d", g.now().Format("060102"), g.suffix())
}

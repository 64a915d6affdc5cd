package peer

import (
	"math/rand"
	"time"
)

// Generator decides when an idle philosopher gets hungry. Each peer owns
// its own Generator; it is not goroutine-safe.
type Generator struct {
	rng      *rand.Rand
	prob     float64
	thinkMin time.Duration
	thinkMax time.Duration
}

// NewGenerator returns a generator that, after each think interval drawn
// uniformly from [thinkMin, thinkMax], asks for the table with probability
// prob.
func NewGenerator(seed int64, prob float64, thinkMin, thinkMax time.Duration) *Generator {
	if thinkMax < thinkMin {
		thinkMax = thinkMin
	}
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		prob:     prob,
		thinkMin: thinkMin,
		thinkMax: thinkMax,
	}
}

// Hungry reports whether the peer should request the table now.
func (g *Generator) Hungry() bool {
	if g.prob >= 1 {
		return true
	}
	return g.rng.Float64() < g.prob
}

// Think returns how long to wait before the next Hungry check.
func (g *Generator) Think() time.Duration {
	span := g.thinkMax - g.thinkMin
	if span <= 0 {
		return g.thinkMin
	}
	return g.thinkMin + time.Duration(g.rng.Int63n(int64(span)+1))
}

// Package backoff computes reconnect delays with exponential growth, a cap and symmetric jitter.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultJitter is the default symmetric jitter fraction (±10%).
const DefaultJitter = 0.1

// Calculator computes the delay before a reconnect attempt.
// It is safe for concurrent use.
type Calculator struct {
	base   time.Duration
	max    time.Duration
	jitter float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a Calculator. A nil seed uses the global unseeded source;
// a non-nil seed makes the jitter sequence reproducible.
func New(base, maxDelay time.Duration, jitter float64, seed *uint64) *Calculator {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = DefaultJitter
	}

	c := &Calculator{
		base:   base,
		max:    maxDelay,
		jitter: jitter,
	}
	if seed != nil {
		c.rnd = rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	return c
}

// Nominal returns min(base * 2^(attempt-1), max) without jitter.
func (c *Calculator) Nominal(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.base) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.max) || math.IsInf(delay, 1) {
		return c.max
	}
	return time.Duration(delay)
}

// Delay returns the jittered delay for attempt. Attempts below 1 are treated as 1.
// The result is always strictly positive.
func (c *Calculator) Delay(attempt int) time.Duration {
	nominal := float64(c.Nominal(attempt))
	delay := nominal + nominal*c.jitter*(2*c.float64()-1)

	d := time.Duration(math.Floor(delay))
	if d < 1 {
		d = 1
	}
	return d
}

func (c *Calculator) float64() float64 {
	if c.rnd == nil {
		return rand.Float64()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Float64()
}

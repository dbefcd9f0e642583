// Package retry provides the exponential backoff policy used by every
// connection supervisor. One policy instance is built per driver from its
// configured parameters and consumed identically everywhere, instead of
// scattering backoff arithmetic across adapters.
package retry

import (
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Policy describes exponential backoff with a cap and optional jitter.
type Policy struct {
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for the backoff curve
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// DefaultPolicy returns sensible defaults for reconnect loops.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Normalize clamps degenerate configuration so a bad config entry can never
// produce a zero or negative delay loop.
func (p Policy) Normalize() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy().InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy().MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy().Multiplier
	}
	if p.Multiplier > 1000 {
		p.Multiplier = 1000
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt, starting at
// attempt 0. With jitter enabled the result is randomized between 50% and
// 100% of the computed delay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.Normalize()

	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		next := time.Duration(float64(delay) * p.Multiplier)
		if next <= delay || next > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
		delay = next
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.AddJitter && delay > 0 {
		randMu.Lock()
		factor := 0.5 + randSource.Float64()*0.5
		randMu.Unlock()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

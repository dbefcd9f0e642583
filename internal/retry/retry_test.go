package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_ExponentialGrowth(t *testing.T) {
	p := Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    false, // Disable for predictable tests
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
}

func TestDelay_CappedAtMax(t *testing.T) {
	p := Policy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    false,
	}

	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(100))
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	p := Policy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(2) // 4s without jitter
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestNormalize_DegenerateConfig(t *testing.T) {
	p := Policy{InitialDelay: -1, MaxDelay: 0, Multiplier: 0.1}.Normalize()

	assert.Equal(t, DefaultPolicy().InitialDelay, p.InitialDelay)
	assert.Equal(t, DefaultPolicy().MaxDelay, p.MaxDelay)
	assert.Equal(t, DefaultPolicy().Multiplier, p.Multiplier)
}

func TestNormalize_MaxBelowInitial(t *testing.T) {
	p := Policy{
		InitialDelay: 10 * time.Second,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}.Normalize()

	assert.Equal(t, 10*time.Second, p.MaxDelay)
}

package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls the delay between reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter spreads each delay uniformly over [d*(1-Jitter), d]. Zero
	// disables jitter; values above 1 are treated as 1.
	Jitter float64
}

// DefaultBackoff doubles from 500ms up to 5s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    500 * time.Millisecond,
		Multiplier: 2,
		Max:        5 * time.Second,
	}
}

// NextBackoff returns the delay after the given failed attempt (1-based).
// The result never exceeds cfg.Max when Max is positive.
func NextBackoff(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(cfg.Initial) * math.Pow(mult, float64(attempt-1))
	if cfg.Max > 0 && d > float64(cfg.Max) {
		d = float64(cfg.Max)
	}
	if j := math.Min(cfg.Jitter, 1); j > 0 {
		f := 1 - j/2
		if rng != nil {
			f = 1 - j*rng.Float64()
		}
		d *= f
	}
	return time.Duration(d)
}

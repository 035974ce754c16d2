package invoker

import (
	"math"
	"time"

	"orgrender/internal/config"
)

// Backoff is the client retry policy.
type Backoff struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
	Min        time.Duration
	Max        time.Duration
	Factor     float64
	Randomize  bool
}

// BackoffFromConfig builds the policy from the retry section.
func BackoffFromConfig(cfg *config.Config) Backoff {
	return Backoff{
		MaxRetries: cfg.Retry.MaxRetries,
		Min:        cfg.MinTimeout(),
		Max:        cfg.MaxTimeout(),
		Factor:     cfg.Retry.Factor,
		Randomize:  cfg.Retry.Randomize,
	}
}

// Delay returns the wait before retry n (0-based). rnd supplies a value in
// [0,1) and is only consulted when Randomize is set.
func (b Backoff) Delay(n int, rnd func() float64) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	jitter := 1.0
	if b.Randomize && rnd != nil {
		jitter += rnd()
	}
	delay := jitter * float64(b.Min) * math.Pow(factor, float64(n))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

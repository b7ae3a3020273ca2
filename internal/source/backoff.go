package source

import "time"

// Default restart parameters for the Stream source.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Backoff is an exponential restart policy: Initial doubling up to Max, for at
// most MaxRetries attempts. Zero fields take the defaults.
type Backoff struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxRetries <= 0 {
		b.MaxRetries = defaultMaxRetries
	}
	if b.Initial <= 0 {
		b.Initial = defaultBackoff
	}
	if b.Max <= 0 {
		b.Max = defaultMaxBackoff
	}
	return b
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

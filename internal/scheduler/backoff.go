package scheduler

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Config tunes both schedulers.
type Config struct {
	// InitialBackoff is the first retry delay after a failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// RandomizationFactor spreads retries; 0 keeps delays exact.
	RandomizationFactor float64
	// MinInterval is the lower bound of the server-suggested next ping delay.
	MinInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
		MinInterval:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor >= 1 {
		c.RandomizationFactor = 0
	}
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	return c
}

// retryDelay doubles from InitialBackoff up to MaxBackoff. Not safe for concurrent use.
type retryDelay struct {
	cfg Config
	exp *backoff.ExponentialBackOff
}

func newRetryDelay(cfg Config) *retryDelay {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialBackoff
	exp.MaxInterval = cfg.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = cfg.RandomizationFactor
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryDelay{cfg: cfg, exp: exp}
}

// Next returns the delay for this failure and advances to the following one.
// A delay that overflowed or ran out resets the sequence.
func (r *retryDelay) Next() time.Duration {
	d := r.exp.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		r.exp.Reset()
		d = r.exp.NextBackOff()
	}
	return d
}

func (r *retryDelay) Reset() { r.exp.Reset() }

package workqueue

import (
	"context"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config groups all tunables. Values are taken from environment variables with
// the prefix "IAM_WQ_". Example: IAM_WQ_WORKERS=4 IAM_WQ_MAX_ATTEMPTS=5 .
type Config struct {
	Workers        int           `envconfig:"WORKERS"         default:"2"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"64"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"500ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"30s"`

	// NetworkPoll is how often a job waiting for connectivity re-probes.
	NetworkPoll time.Duration `envconfig:"NETWORK_POLL" default:"5s"`

	// ErrorHandler is called after a job failed for good. Leave nil if you do not care.
	ErrorHandler func(key string, err error) `ignored:"true"`

	// Online reports connectivity for jobs submitted with RequireNetwork.
	// Nil means always online.
	Online func(ctx context.Context) bool `ignored:"true"`
}

// LoadConfig populates Config from environment variables (prefix IAM_WQ_).
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process("IAM_WQ", &c)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.NetworkPoll <= 0 {
		c.NetworkPoll = 5 * time.Second
	}
	return c
}

package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Job is a unit of background work.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Constraints gate when a job may run.
type Constraints struct {
	RequireNetwork bool
}

var (
	// ErrQueueFull reports back-pressure: the worker queue stayed full for EnqueueTimeout.
	ErrQueueFull = errors.New("work queue full")

	// ErrQueueClosed reports that Stop was called; no further work is accepted.
	ErrQueueClosed = errors.New("work queue closed")
)

// JobError is handed to the ErrorHandler when a job gives up.
type JobError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// kind is the metric label of key: the part before the first ':'.
func kind(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

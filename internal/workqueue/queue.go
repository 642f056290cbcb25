// Package workqueue runs background jobs on a small keyed worker pool. Jobs with
// the same key run in FIFO order on one worker; delayed jobs are unique per key.
package workqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/observability"
	"inapp-messaging/internal/remote"
)

type queuedJob struct {
	ctx         context.Context
	key         string
	job         Job
	constraints Constraints
}

// Queue is the work-queuing collaborator used by the scheduler and the
// impression reporter.
type Queue struct {
	cfg    Config
	queues []chan queuedJob
	log    zerolog.Logger

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	mu      sync.Mutex
	delayed map[string]*time.Timer
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l zerolog.Logger) Option { return func(q *Queue) { q.log = l } }

// New starts the workers.
func New(cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:     cfg,
		queues:  make([]chan queuedJob, cfg.Workers),
		log:     log.Logger,
		done:    make(chan struct{}),
		delayed: map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(q)
	}
	for i := range q.queues {
		ch := make(chan queuedJob, cfg.QueueSize)
		q.queues[i] = ch
		q.wg.Add(1)
		go q.runWorker(ch)
	}
	return q
}

// Submit enqueues job on the worker owning key.
//
//   - Returns ErrQueueClosed after Stop.
//   - Returns ErrQueueFull if the worker queue stays full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
func (q *Queue) Submit(ctx context.Context, key string, job Job, c Constraints) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	ch := q.queues[q.workerFor(key)]
	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job, constraints: c}:
		observability.WorkSubmitted.WithLabelValues(kind(key)).Inc()
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

// SubmitAfter submits job once delay has passed. A pending delayed job with the
// same key is replaced.
func (q *Queue) SubmitAfter(key string, delay time.Duration, job Job, c Constraints) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.delayed[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.delayed[key] == t {
			delete(q.delayed, key)
		}
		q.mu.Unlock()

		if err := q.Submit(context.Background(), key, job, c); err != nil {
			q.handleError(key, 0, err)
		}
	})
	q.delayed[key] = t
	return nil
}

// Cancel drops the pending delayed job for key. It reports whether one was pending.
func (q *Queue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.delayed[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(q.delayed, key)
	return true
}

// Pending reports whether a delayed job for key is waiting.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.delayed[key]
	return ok
}

// Stop drops delayed jobs, lets every worker drain its queue, and waits for
// them. It is idempotent.
func (q *Queue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	for key, t := range q.delayed {
		t.Stop()
		delete(q.delayed, key)
	}
	q.mu.Unlock()

	q.log.Debug().Int("workers", len(q.queues)).Msg("work queue stopping")
	close(q.done)
	q.wg.Wait()
	q.log.Debug().Msg("work queue stopped")
}

// Close lets Queue satisfy io.Closer.
func (q *Queue) Close() error {
	q.Stop()
	return nil
}

func (q *Queue) runWorker(ch <-chan queuedJob) {
	defer q.wg.Done()
	for {
		select {
		case qj := <-ch:
			if qj.job != nil {
				q.execute(qj)
			}
		case <-q.done:
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						_ = q.runOnce(qj)
					}
				default:
					return
				}
			}
		}
	}
}

// execute runs qj with retries. Irrecoverable errors fail fast.
func (q *Queue) execute(qj queuedJob) {
	if err := qj.ctx.Err(); err != nil {
		q.handleError(qj.key, 0, err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = q.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		if qj.constraints.RequireNetwork {
			if err := q.waitOnline(qj.ctx); err != nil {
				q.handleError(qj.key, attempt-1, err)
				return
			}
		}
		err := q.runOnce(qj)
		if err == nil {
			return
		}
		if remote.IsIrrecoverable(err) || attempt >= q.cfg.MaxAttempts {
			q.handleError(qj.key, attempt, err)
			return
		}

		wait := exp.NextBackOff()
		q.log.Debug().Err(err).Str("key", qj.key).Int("attempt", attempt).Dur("retry_in", wait).Msg("job failed, retrying")
		select {
		case <-time.After(wait):
		case <-q.done:
			q.handleError(qj.key, attempt, err)
			return
		case <-qj.ctx.Done():
			q.handleError(qj.key, attempt, qj.ctx.Err())
			return
		}
	}
}

// runOnce runs the job, turning a panic into an error.
func (q *Queue) runOnce(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("key", qj.key).Interface("panic", r).Msg("job panicked")
			err = &panicError{value: r}
		}
	}()
	return qj.job.Run(qj.ctx)
}

// waitOnline blocks until Online reports connectivity, the queue stops, or ctx ends.
func (q *Queue) waitOnline(ctx context.Context) error {
	if q.cfg.Online == nil {
		return nil
	}
	for {
		if q.cfg.Online(ctx) {
			return nil
		}
		select {
		case <-time.After(q.cfg.NetworkPoll):
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) handleError(key string, attempts int, err error) {
	observability.WorkFailed.WithLabelValues(kind(key)).Inc()
	jerr := &JobError{Key: key, Attempts: attempts, Err: err}
	q.log.Warn().Err(err).Str("key", key).Int("attempts", attempts).Msg("job failed")
	if q.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("work queue error handler panicked")
		}
	}()
	q.cfg.ErrorHandler(key, jerr)
}

func (q *Queue) workerFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.queues)))
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("job panicked: %v", e.value) }

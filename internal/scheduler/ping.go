// Package scheduler decides when the campaign catalog and the backend config are
// refreshed. Execution goes through the work queue; the calls themselves are
// supplied by the caller.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/observability"
	"inapp-messaging/internal/remote"
	"inapp-messaging/internal/workqueue"
)

// Work-queue keys. A reschedule replaces the pending job with the same key.
const (
	PingKey   = "ping"
	ConfigKey = "config"
)

// Enqueuer is the slice of the work queue the schedulers need.
type Enqueuer interface {
	SubmitAfter(key string, delay time.Duration, job workqueue.Job, c workqueue.Constraints) error
	Cancel(key string) bool
}

// PingFunc performs one ping call.
type PingFunc func(ctx context.Context) (*remote.PingResponse, error)

// PingScheduler refreshes the catalog periodically. Success schedules the next
// ping at the server hint; failure retries with exponential backoff.
type PingScheduler struct {
	queue   Enqueuer
	ping    PingFunc
	onSync  func(*remote.PingResponse)
	onError func(error)
	cfg     Config
	log     zerolog.Logger

	mu        sync.Mutex
	retry     *retryDelay
	disabled  bool
	lastDelay time.Duration
	failures  int
}

// PingOption configures a PingScheduler.
type PingOption func(*PingScheduler)

// OnSync is called with every successful ping response before the next ping is scheduled.
func OnSync(fn func(*remote.PingResponse)) PingOption {
	return func(s *PingScheduler) { s.onSync = fn }
}

// OnPingError receives scheduling infrastructure errors.
func OnPingError(fn func(error)) PingOption {
	return func(s *PingScheduler) { s.onError = fn }
}

func WithPingLogger(l zerolog.Logger) PingOption {
	return func(s *PingScheduler) { s.log = l }
}

// NewPingScheduler starts disabled; Enable once the backend config allows pings.
func NewPingScheduler(queue Enqueuer, ping PingFunc, cfg Config, opts ...PingOption) *PingScheduler {
	cfg = cfg.withDefaults()
	s := &PingScheduler{
		queue:    queue,
		ping:     ping,
		cfg:      cfg,
		log:      log.Logger,
		retry:    newRetryDelay(cfg),
		disabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues a ping after delay, replacing any pending one. It is a no-op
// while disabled.
func (s *PingScheduler) Schedule(delay time.Duration) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		s.log.Debug().Msg("pings disabled, not scheduling")
		return
	}
	s.lastDelay = delay
	s.mu.Unlock()

	observability.NextPingDelay.Set(delay.Seconds())
	err := s.queue.SubmitAfter(PingKey, delay, workqueue.JobFunc(s.run), workqueue.Constraints{RequireNetwork: true})
	if err != nil {
		s.log.Error().Err(err).Msg("could not schedule ping")
		if s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.log.Debug().Dur("delay", delay).Msg("ping scheduled")
}

// PingNow schedules an immediate ping, e.g. when the backend asked for one.
func (s *PingScheduler) PingNow() { s.Schedule(0) }

func (s *PingScheduler) run(ctx context.Context) error {
	resp, err := s.ping(ctx)
	if err != nil {
		s.OnFailure(err)
		return nil
	}
	s.OnSuccess(resp)
	return nil
}

// OnSuccess hands resp to the sync hook, resets the backoff and schedules the
// next ping at max(nextPingMillis, MinInterval).
func (s *PingScheduler) OnSuccess(resp *remote.PingResponse) {
	observability.Pings.WithLabelValues("success").Inc()
	if s.onSync != nil && resp != nil {
		s.onSync(resp)
	}

	s.mu.Lock()
	s.retry.Reset()
	s.failures = 0
	s.mu.Unlock()

	var next time.Duration
	if resp != nil {
		next = time.Duration(resp.NextPingMillis) * time.Millisecond
	}
	if next < s.cfg.MinInterval {
		next = s.cfg.MinInterval
	}
	s.Schedule(next)
}

// OnFailure schedules a retry after the current backoff delay and doubles it.
func (s *PingScheduler) OnFailure(err error) {
	observability.Pings.WithLabelValues("failure").Inc()
	s.mu.Lock()
	delay := s.retry.Next()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("ping failed")
	s.Schedule(delay)
}

// Disable cancels the pending ping and ignores further scheduling until Enable.
func (s *PingScheduler) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
	s.queue.Cancel(PingKey)
}

func (s *PingScheduler) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = false
}

func (s *PingScheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// LastDelay is the delay of the most recently scheduled ping.
func (s *PingScheduler) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelay
}

// Reset disables pings and restarts the backoff sequence.
func (s *PingScheduler) Reset() {
	s.Disable()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry.Reset()
	s.failures = 0
	s.lastDelay = 0
}

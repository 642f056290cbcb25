package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/repository"
	"inapp-messaging/internal/workqueue"
)

// ConfigFunc fetches and stores the backend config.
type ConfigFunc func(ctx context.Context) (repository.BackendConfig, error)

// ConfigScheduler fetches the backend config, retrying with backoff, and gates
// the PingScheduler on the result.
type ConfigScheduler struct {
	queue   Enqueuer
	fetch   ConfigFunc
	pings   *PingScheduler
	onError func(error)
	log     zerolog.Logger

	mu    sync.Mutex
	retry *retryDelay
}

func NewConfigScheduler(queue Enqueuer, fetch ConfigFunc, pings *PingScheduler, cfg Config, onError func(error)) *ConfigScheduler {
	return &ConfigScheduler{
		queue:   queue,
		fetch:   fetch,
		pings:   pings,
		onError: onError,
		log:     log.Logger,
		retry:   newRetryDelay(cfg.withDefaults()),
	}
}

// Start schedules an immediate fetch.
func (s *ConfigScheduler) Start() { s.schedule(0) }

func (s *ConfigScheduler) schedule(delay time.Duration) {
	err := s.queue.SubmitAfter(ConfigKey, delay, workqueue.JobFunc(s.run), workqueue.Constraints{RequireNetwork: true})
	if err != nil {
		s.log.Error().Err(err).Msg("could not schedule config fetch")
		if s.onError != nil {
			s.onError(err)
		}
	}
}

func (s *ConfigScheduler) run(ctx context.Context) error {
	cfg, err := s.fetch(ctx)
	if err != nil {
		s.mu.Lock()
		delay := s.retry.Next()
		s.mu.Unlock()
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("config fetch failed")
		s.schedule(delay)
		return nil
	}

	s.mu.Lock()
	s.retry.Reset()
	s.mu.Unlock()

	if !cfg.Enabled {
		s.log.Info().Int("rollout", cfg.RolloutPercentage).Msg("messaging disabled for this device")
		s.pings.Disable()
		return nil
	}
	s.pings.Enable()
	s.pings.PingNow()
	return nil
}

// Stop cancels a pending fetch.
func (s *ConfigScheduler) Stop() {
	s.queue.Cancel(ConfigKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry.Reset()
}

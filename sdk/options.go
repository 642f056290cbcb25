package sdk

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/display"
	"inapp-messaging/internal/localstate"
	"inapp-messaging/internal/scheduler"
	"inapp-messaging/internal/workqueue"
)

type settings struct {
	httpClient *http.Client
	timeout    time.Duration
	work       *workqueue.Config
	scheduler  scheduler.Config
	store      localstate.Store
	log        zerolog.Logger
	onError    func(error)
	verifier   display.ContextVerifier
	images     display.ImageLoader
	noImages   bool
	now        func() time.Time
	online     func(ctx context.Context) bool
}

func defaultSettings() settings {
	return settings{
		timeout:   20 * time.Second,
		scheduler: scheduler.DefaultConfig(),
		log:       log.Logger,
		now:       time.Now,
	}
}

// Option configures Messaging.
type Option func(*settings)

// WithHTTPClient routes backend calls through hc.
func WithHTTPClient(hc *http.Client) Option { return func(s *settings) { s.httpClient = hc } }

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithWorkQueue tunes the background work queue. Without it the IAM_WQ_*
// environment is read.
func WithWorkQueue(cfg workqueue.Config) Option { return func(s *settings) { s.work = &cfg } }

// WithScheduler tunes ping and config backoff.
func WithScheduler(cfg scheduler.Config) Option { return func(s *settings) { s.scheduler = cfg } }

// WithStateStore persists campaign state across restarts, e.g. localstate.OpenSQLite.
func WithStateStore(st localstate.Store) Option { return func(s *settings) { s.store = st } }

func WithLogger(l zerolog.Logger) Option { return func(s *settings) { s.log = l } }

// WithErrorHandler receives background failures. It must not block.
func WithErrorHandler(fn func(error)) Option { return func(s *settings) { s.onError = fn } }

// WithContextVerifier installs the host veto hook.
func WithContextVerifier(v ContextVerifier) Option { return func(s *settings) { s.verifier = v } }

// WithImageLoader replaces the default image fetcher.
func WithImageLoader(l display.ImageLoader) Option { return func(s *settings) { s.images = l } }

// WithoutImagePrefetch hands campaigns to the surface without fetching their image.
func WithoutImagePrefetch() Option { return func(s *settings) { s.noImages = true } }

func WithClock(now func() time.Time) Option { return func(s *settings) { s.now = now } }

// WithConnectivity gates network jobs on online.
func WithConnectivity(online func(ctx context.Context) bool) Option {
	return func(s *settings) { s.online = online }
}

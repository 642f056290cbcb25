// Package sdk is the host-facing API of the in-app messaging client: it logs
// app events, keeps the campaign catalog in sync with the backend and shows
// matching campaigns on the registered display surface.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/display"
	"inapp-messaging/internal/engine"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/impression"
	"inapp-messaging/internal/localstate"
	"inapp-messaging/internal/remote"
	"inapp-messaging/internal/repository"
	"inapp-messaging/internal/scheduler"
	"inapp-messaging/internal/workqueue"
)

// Campaign is the campaign snapshot handed to the surface.
type Campaign = campaign.Campaign

var (
	// ErrInvalidConfiguration is returned by Configure for an empty key or URL.
	ErrInvalidConfiguration = errors.New("subscription key and config url are required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("messaging closed")
)

// maxPendingEvents bounds the events kept while waiting for a catalog.
const maxPendingEvents = 100

// Messaging wires the repositories, matching engine, display manager,
// schedulers and impression reporter together. Create it with New.
type Messaging struct {
	host      *repository.HostRepository
	account   *repository.AccountRepository
	config    *repository.ConfigRepository
	campaigns *repository.CampaignRepository
	events    *repository.EventRepository
	queue     *repository.ReadyQueue
	displayed *repository.DisplayedRepository

	client   *remote.Client
	work     *workqueue.Queue
	engine   *engine.Engine
	display  *display.Manager
	pings    *scheduler.PingScheduler
	configs  *scheduler.ConfigScheduler
	reporter *impression.Reporter
	store    localstate.Store

	cfg settings
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	userKey string
	closed  bool
}

// New builds a Messaging instance for the host app. Nothing talks to the
// backend until Configure.
func New(host HostInfo, opts ...Option) (*Messaging, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}

	var wq workqueue.Config
	if cfg.work != nil {
		wq = *cfg.work
	} else {
		loaded, err := workqueue.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("work queue config: %w", err)
		}
		wq = loaded
	}
	if cfg.store == nil {
		cfg.store = localstate.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Messaging{
		host:      repository.NewHostRepository(host),
		account:   repository.NewAccountRepository(),
		config:    repository.NewConfigRepository(),
		campaigns: repository.NewCampaignRepository(cfg.store),
		events:    repository.NewEventRepository(maxPendingEvents),
		queue:     repository.NewReadyQueue(),
		displayed: repository.NewDisplayedRepository(),
		store:     cfg.store,
		cfg:       cfg,
		log:       cfg.log.With().Str("component", "inapp-messaging").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}

	clientOpts := []remote.Option{remote.WithLogger(m.log)}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(cfg.httpClient))
	}
	clientOpts = append(clientOpts, remote.WithTimeout(cfg.timeout))
	m.client = remote.New(clientOpts...)

	wq.ErrorHandler = func(key string, err error) { m.reportError(err) }
	wq.Online = cfg.online
	m.work = workqueue.New(wq, workqueue.WithLogger(m.log))

	m.engine = engine.New(m.events, m.campaigns, m.queue,
		engine.WithClock(cfg.now),
		engine.WithLogger(m.log),
		engine.WithQueuedHook(m.onQueued),
	)
	m.reporter = impression.NewReporter(m.work, m.sendImpressions, m.host, m.account,
		impression.WithClock(cfg.now),
		impression.WithLogger(m.log),
		impression.WithErrorHandler(m.reportError),
	)

	images := cfg.images
	if images == nil && !cfg.noImages {
		images = display.NewImageLoader(m.client.FetchImage)
	}
	m.display = display.NewManager(display.Deps{
		Campaigns:   m.campaigns,
		Queue:       m.queue,
		Displayed:   m.displayed,
		Config:      m.config,
		Permission:  permissionChecker{m},
		Impressions: m.reporter,
		Images:      images,
	},
		display.WithClock(cfg.now),
		display.WithLogger(m.log),
		display.WithFollowUp(func(e *event.Event) { m.engine.LogEvent(e) }),
		display.WithPerformPing(func() { m.pings.PingNow() }),
	)
	m.display.SetContextVerifier(cfg.verifier)

	m.pings = scheduler.NewPingScheduler(m.work, m.ping, cfg.scheduler,
		scheduler.OnSync(m.onSync),
		scheduler.OnPingError(m.reportError),
		scheduler.WithPingLogger(m.log),
	)
	m.configs = scheduler.NewConfigScheduler(m.work, m.fetchConfig, m.pings, cfg.scheduler, m.reportError)
	return m, nil
}

// Configure sets the backend credentials, restores the local campaign state
// and starts the config fetch.
func (m *Messaging) Configure(ctx context.Context, subscriptionKey, configURL string) error {
	if subscriptionKey == "" || configURL == "" {
		return ErrInvalidConfiguration
	}
	if m.isClosed() {
		return ErrClosed
	}
	m.host.SetSubscription(subscriptionKey, configURL)

	m.mu.Lock()
	m.userKey = m.account.UserKey()
	key := m.userKey
	m.mu.Unlock()
	if err := m.campaigns.SwitchUser(ctx, key); err != nil {
		m.reportError(fmt.Errorf("restore campaign state: %w", err))
	}

	m.configs.Start()
	m.log.Info().Str("config_url", configURL).Msg("messaging configured")
	return nil
}

// LogEvent records e and queues the campaigns it satisfies. A nil event is ignored.
func (m *Messaging) LogEvent(e *Event) {
	if e == nil || m.isClosed() {
		return
	}
	m.engine.LogEvent(e)
}

// RegisterDisplaySurface attaches the screen campaigns are shown on and tries
// to show the next queued campaign.
func (m *Messaging) RegisterDisplaySurface(s Surface) {
	m.display.Register(s)
	m.async(m.display.DisplayNext)
}

// UnregisterDisplaySurface detaches the surface; pending display attempts are dropped.
func (m *Messaging) UnregisterDisplaySurface() { m.display.Unregister() }

// CloseMessage removes the campaign on screen without counting an impression.
// With clearQueued every queued campaign is dropped as well.
func (m *Messaging) CloseMessage(clearQueued bool) {
	m.async(func(ctx context.Context) error { return m.display.CloseCurrent(ctx, clearQueued) })
}

// HandleInteraction closes the campaign on screen after the user interacted with it.
func (m *Messaging) HandleInteraction(in Interaction) {
	m.async(func(ctx context.Context) error {
		err := m.display.Close(ctx, in)
		if errors.Is(err, display.ErrNothingDisplayed) {
			m.log.Debug().Msg("interaction ignored; no campaign on screen")
			return nil
		}
		m.persist()
		return err
	})
}

// CurrentCampaign returns the id of the campaign on screen.
func (m *Messaging) CurrentCampaign() (string, bool) { return m.display.Current() }

// SetContextVerifier installs or clears the host veto hook.
func (m *Messaging) SetContextVerifier(v ContextVerifier) { m.display.SetContextVerifier(v) }

// RegisterUserInfoProvider sets the identity source. A different user switches
// the local campaign state and refreshes the catalog.
func (m *Messaging) RegisterUserInfoProvider(p UserInfoProvider) {
	m.account.SetProvider(p)
	key := m.account.UserKey()

	m.mu.Lock()
	changed := key != m.userKey
	m.userKey = key
	m.mu.Unlock()
	if !changed {
		return
	}

	m.log.Info().Msg("user changed, switching campaign state")
	m.persist()
	m.display.Reset()
	m.queue.Reset()
	m.engine.Reset()
	if err := m.campaigns.SwitchUser(m.ctx, key); err != nil {
		m.reportError(fmt.Errorf("switch user state: %w", err))
	}
	if m.pings.Enabled() {
		m.pings.PingNow()
	}
}

// Reset drops all session state and stops syncing until Configure is called again.
func (m *Messaging) Reset() {
	m.configs.Stop()
	m.pings.Reset()
	m.display.Reset()
	m.queue.Reset()
	m.events.Reset()
	m.displayed.Reset()
	m.engine.Reset()
	m.campaigns.Reset()
	m.config.Reset()
	m.account.Reset()
	m.mu.Lock()
	m.userKey = ""
	m.mu.Unlock()
}

// Close persists campaign state and stops background work. It is idempotent.
func (m *Messaging) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.configs.Stop()
	m.pings.Disable()
	m.cancel()
	m.wg.Wait()
	m.work.Stop()
	m.persist()
	return m.store.Close()
}

func (m *Messaging) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// async runs fn in the background, reporting its error.
func (m *Messaging) async(fn func(ctx context.Context) error) {
	if m.isClosed() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := fn(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.reportError(err)
		}
	}()
}

func (m *Messaging) onQueued(ids []string) {
	m.display.Queued(ids)
	m.async(m.display.DisplayNext)
}

func (m *Messaging) onSync(resp *remote.PingResponse) {
	at := m.cfg.now()
	if resp.CurrentPingMillis > 0 {
		at = time.UnixMilli(resp.CurrentPingMillis)
	}
	m.campaigns.Sync(resp.Campaigns(), at)
	m.log.Info().Int("campaigns", m.campaigns.Len()).Int64("next_ping_ms", resp.NextPingMillis).Msg("campaigns synced")
	m.display.Prune()
	m.persist()
	if len(m.engine.Reconcile()) == 0 && m.queue.Len() > 0 {
		m.async(m.display.DisplayNext)
	}
}

func (m *Messaging) persist() {
	if err := m.campaigns.Persist(context.WithoutCancel(m.ctx)); err != nil {
		m.reportError(fmt.Errorf("persist campaign state: %w", err))
	}
}

func (m *Messaging) reportError(err error) {
	if err == nil {
		return
	}
	m.log.Warn().Err(err).Msg("background failure")
	if m.cfg.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("error handler panicked")
		}
	}()
	m.cfg.onError(err)
}

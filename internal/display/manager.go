package display

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/observability"
	"inapp-messaging/internal/repository"
)

// Enabler reports whether the backend config currently allows messaging.
type Enabler interface {
	Enabled() bool
}

// Deps are the collaborators of a Manager. Permission, Impressions and Images are optional.
type Deps struct {
	Campaigns   *repository.CampaignRepository
	Queue       *repository.ReadyQueue
	Displayed   *repository.DisplayedRepository
	Config      Enabler
	Permission  PermissionChecker
	Impressions ImpressionReporter
	Images      ImageLoader
}

// Manager shows at most one campaign at a time from the ready queue.
type Manager struct {
	deps Deps
	now  func() time.Time
	log  zerolog.Logger

	onFollowUp    func(*event.Event)
	onPerformPing func()

	mu         sync.Mutex
	surface    Surface
	generation uint64
	busy       bool
	again      bool
	current    string
	shown      campaign.Campaign
	verifier   ContextVerifier
	permitted  map[string]bool
	states     map[string]State
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithFollowUp receives the event embedded in a clicked button or content.
func WithFollowUp(fn func(*event.Event)) Option { return func(m *Manager) { m.onFollowUp = fn } }

// WithPerformPing is called when a permission response asks for a ping.
func WithPerformPing(fn func()) Option { return func(m *Manager) { m.onPerformPing = fn } }

func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		deps:      deps,
		now:       time.Now,
		log:       log.Logger,
		permitted: map[string]bool{},
		states:    map[string]State{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetContextVerifier installs or clears the host veto hook.
func (m *Manager) SetContextVerifier(v ContextVerifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifier = v
}

// Register attaches the surface campaigns are shown on.
func (m *Manager) Register(s Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surface = s
	m.generation++
}

// Unregister detaches the surface. Pending attempts for it are cancelled and a
// campaign on screen goes back to the queue.
func (m *Manager) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surface = nil
	m.generation++
	if m.current != "" {
		m.deps.Campaigns.SetDoNotClear(m.current, false)
		m.states[m.current] = StateQueued
		m.current = ""
	}
}

// Current returns the id of the campaign on screen.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

// State returns the last known state of campaign id.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

func (m *Manager) setState(id string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = s
}

// Queued marks ids as waiting for display.
func (m *Manager) Queued(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.states[id] = StateQueued
	}
}

func (m *Manager) discard(id string, s State) {
	m.deps.Queue.Remove(id)
	m.setState(id, s)
	if s == StateRejected {
		m.setState(id, StateDiscarded)
	}
}

// stale reports whether the surface changed since gen was taken.
func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.generation || m.surface == nil
}

// DisplayNext shows the first queued campaign that is eligible, permitted and
// not vetoed. It is a no-op without a surface, while a campaign is displayed or
// while messaging is disabled. A call made while another pass runs makes that
// pass run once more when it ends.
func (m *Manager) DisplayNext(ctx context.Context) error {
	m.mu.Lock()
	if m.busy {
		m.again = true
		m.mu.Unlock()
		return nil
	}
	m.busy = true
	m.mu.Unlock()

	for {
		err := m.displayPass(ctx)
		m.mu.Lock()
		again := m.again && err == nil
		m.again = false
		if !again {
			m.busy = false
		}
		m.mu.Unlock()
		if !again {
			return err
		}
	}
}

func (m *Manager) displayPass(ctx context.Context) error {
	m.mu.Lock()
	if m.surface == nil || m.current != "" {
		m.mu.Unlock()
		return nil
	}
	if m.deps.Config != nil && !m.deps.Config.Enabled() {
		m.mu.Unlock()
		m.log.Debug().Msg("messaging disabled, skipping display")
		return nil
	}
	gen := m.generation
	verifier := m.verifier
	m.mu.Unlock()

	now := m.now()
	for _, id := range m.deps.Queue.Snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, ok := m.deps.Campaigns.Get(id)
		if !ok || !Eligible(c, now, "") {
			m.log.Debug().Str("campaign_id", id).Msg("campaign no longer eligible")
			m.discard(id, StateDiscarded)
			continue
		}
		if verifier != nil && !verifier(c.Contexts(), c.Payload.Title) {
			m.log.Debug().Str("campaign_id", id).Strs("contexts", c.Contexts()).Msg("context verifier vetoed campaign")
			continue
		}

		permitted, stop := m.checkPermission(ctx, c, gen)
		if stop {
			return nil
		}
		if !permitted {
			continue
		}
		m.setState(id, StateApproved)

		var img *Image
		if url := c.Payload.Resource.ImageURL; url != "" && m.deps.Images != nil {
			loaded, err := m.deps.Images.Load(ctx, url)
			if err != nil {
				m.log.Warn().Err(err).Str("campaign_id", id).Msg("image fetch failed, skipping campaign")
				m.setState(id, StateQueued)
				continue
			}
			img = loaded
		}

		if delay := time.Duration(c.Payload.Settings.Display.DelayMillis) * time.Millisecond; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.setState(id, StateQueued)
				return ctx.Err()
			}
		}
		return m.show(ctx, c, img, gen)
	}
	return nil
}

// checkPermission runs the remote check once per campaign and session. Test
// campaigns skip it. stop is set when the pass must end.
func (m *Manager) checkPermission(ctx context.Context, c campaign.Campaign, gen uint64) (permitted, stop bool) {
	m.mu.Lock()
	done := m.permitted[c.ID]
	m.mu.Unlock()
	if done || c.IsTest || m.deps.Permission == nil {
		return true, false
	}

	m.setState(c.ID, StatePermissionChecking)
	perm, err := m.deps.Permission.CheckPermission(ctx, c)
	if m.stale(gen) {
		m.log.Debug().Str("campaign_id", c.ID).Msg("surface changed during permission check, discarding result")
		m.setState(c.ID, StateQueued)
		return false, true
	}
	if err != nil {
		observability.PermissionChecks.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("campaign_id", c.ID).Msg("display permission check failed, skipping display")
		m.setState(c.ID, StateQueued)
		return false, true
	}
	if perm.PerformPing && m.onPerformPing != nil {
		m.onPerformPing()
	}
	if !perm.Display {
		observability.PermissionChecks.WithLabelValues("denied").Inc()
		m.log.Info().Str("campaign_id", c.ID).Msg("display not permitted")
		m.discard(c.ID, StateRejected)
		return false, false
	}
	observability.PermissionChecks.WithLabelValues("granted").Inc()
	m.mu.Lock()
	m.permitted[c.ID] = true
	m.mu.Unlock()
	return true, false
}

func (m *Manager) show(ctx context.Context, c campaign.Campaign, img *Image, gen uint64) error {
	m.mu.Lock()
	if gen != m.generation || m.surface == nil || m.current != "" {
		m.states[c.ID] = StateQueued
		m.mu.Unlock()
		return nil
	}
	surface := m.surface
	m.current = c.ID
	m.shown = c
	m.states[c.ID] = StateDisplaying
	m.mu.Unlock()

	m.deps.Campaigns.SetDoNotClear(c.ID, true)
	if err := surface.Show(ctx, Message{Campaign: c, Image: img, Extensions: c.Extensions()}); err != nil {
		m.mu.Lock()
		if m.current == c.ID {
			m.current = ""
		}
		m.states[c.ID] = StateQueued
		m.mu.Unlock()
		m.deps.Campaigns.SetDoNotClear(c.ID, false)
		m.log.Error().Err(err).Str("campaign_id", c.ID).Msg("surface failed to show campaign")
		return err
	}
	observability.Displays.Inc()
	m.log.Info().Str("campaign_id", c.ID).Msg("campaign displayed")
	return nil
}

// Close ends the displayed campaign: one impression is consumed, the display is
// recorded, impressions are reported, a follow-up event is fed back and the next
// queued campaign is tried.
func (m *Manager) Close(ctx context.Context, in Interaction) error {
	m.mu.Lock()
	id := m.current
	shown := m.shown
	if id == "" {
		m.mu.Unlock()
		return ErrNothingDisplayed
	}
	m.current = ""
	m.states[id] = StateClosed
	m.mu.Unlock()

	c, ok := m.deps.Campaigns.DecrementImpressions(id)
	if !ok {
		c = shown
	}
	m.deps.Displayed.MarkDisplayed(id, m.now())
	m.deps.Campaigns.IncrementClosed(id)
	if in.OptOut {
		m.deps.Campaigns.OptOut(id)
	}
	m.deps.Campaigns.SetDoNotClear(id, false)
	m.deps.Queue.Remove(id)
	m.log.Info().Str("campaign_id", id).Bool("opt_out", in.OptOut).Int("impressions_left", c.ImpressionsLeft).Msg("campaign closed")

	if m.deps.Impressions != nil {
		if err := m.deps.Impressions.Report(ctx, c, in.impressionTypes()); err != nil {
			m.log.Warn().Err(err).Str("campaign_id", id).Msg("could not queue impression report")
		}
	}
	if in.FollowUp != nil && m.onFollowUp != nil {
		if ev := in.FollowUp.FollowUpEvent(); ev != nil {
			m.onFollowUp(ev)
		}
	}
	return m.DisplayNext(ctx)
}

// CloseCurrent removes the campaign on screen without consuming an impression.
// With clearQueue the ready queue is emptied too; otherwise the next campaign is tried.
func (m *Manager) CloseCurrent(ctx context.Context, clearQueue bool) error {
	m.mu.Lock()
	id := m.current
	surface := m.surface
	m.current = ""
	if id != "" {
		m.states[id] = StateDiscarded
	}
	m.mu.Unlock()

	if id != "" {
		m.deps.Campaigns.SetDoNotClear(id, false)
		m.deps.Queue.Remove(id)
		if surface != nil {
			surface.Dismiss(id)
		}
	}
	if clearQueue {
		for _, queued := range m.deps.Queue.Snapshot() {
			m.setState(queued, StateDiscarded)
		}
		m.deps.Queue.Reset()
		return nil
	}
	return m.DisplayNext(ctx)
}

// Prune drops queued campaigns that a sync removed or made ineligible.
func (m *Manager) Prune() {
	now := m.now()
	current, _ := m.Current()
	var dropped []string
	m.deps.Queue.Retain(func(id string) bool {
		if id == current {
			return true
		}
		c, ok := m.deps.Campaigns.Get(id)
		if ok && Eligible(c, now, "") {
			return true
		}
		dropped = append(dropped, id)
		return false
	})
	for _, id := range dropped {
		m.setState(id, StateDiscarded)
	}
}

// Reset forgets session state: permissions, states and the displayed campaign.
func (m *Manager) Reset() {
	m.mu.Lock()
	id, surface := m.current, m.surface
	m.current = ""
	m.shown = campaign.Campaign{}
	m.generation++
	m.permitted = map[string]bool{}
	m.states = map[string]State{}
	m.mu.Unlock()

	if id != "" && surface != nil {
		surface.Dismiss(id)
	}
}

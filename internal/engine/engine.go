// Package engine matches logged events against campaign triggers and queues the
// campaigns whose triggers are newly satisfied.
package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/observability"
	"inapp-messaging/internal/repository"
)

// Engine runs matching passes over the repositories. Passes are serialized.
type Engine struct {
	events    *repository.EventRepository
	campaigns *repository.CampaignRepository
	queue     *repository.ReadyQueue
	matcher   *Matcher
	now       func() time.Time
	log       zerolog.Logger

	mu sync.Mutex
	// persistent event keys already used per campaign id in this session
	persistentUsed map[string]map[string]struct{}
	onQueued       func(ids []string)
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithQueuedHook is called after a pass queued at least one campaign.
func WithQueuedHook(fn func(ids []string)) Option { return func(e *Engine) { e.onQueued = fn } }

func New(events *repository.EventRepository, campaigns *repository.CampaignRepository, queue *repository.ReadyQueue, opts ...Option) *Engine {
	e := &Engine{
		events:         events,
		campaigns:      campaigns,
		queue:          queue,
		matcher:        NewMatcher(),
		now:            time.Now,
		log:            log.Logger,
		persistentUsed: map[string]map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetQueuedHook replaces the hook installed by WithQueuedHook.
func (e *Engine) SetQueuedHook(fn func(ids []string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onQueued = fn
}

// LogEvent stores ev and runs a matching pass. It returns the newly queued campaign ids.
func (e *Engine) LogEvent(ev *event.Event) []string {
	if ev == nil {
		return nil
	}
	observability.EventsLogged.WithLabelValues(ev.Type.String()).Inc()
	e.events.Add(ev)
	return e.Reconcile()
}

// Match is the pure matching step: campaigns are considered in order and may each be
// satisfied by any of their triggers. A non-persistent event can satisfy several
// campaigns in one pass and is reported once in Consumed. A persistent event is skipped
// for a campaign when used reports it was already spent on that campaign.
func (e *Engine) Match(events []*event.Event, candidates []campaign.Campaign, used func(campaignID string, ev *event.Event) bool) Result {
	var res Result
	consumed := map[*event.Event]struct{}{}
	for _, c := range candidates {
		ev, ok := e.matcher.CampaignMatches(c, events, func(ev *event.Event) bool {
			return ev.IsPersistent && used != nil && used(c.ID, ev)
		})
		if !ok {
			continue
		}
		res.Matched = append(res.Matched, c.ID)
		if ev.IsPersistent {
			continue
		}
		if _, seen := consumed[ev]; !seen {
			consumed[ev] = struct{}{}
			res.Consumed = append(res.Consumed, ev)
		}
	}
	return res
}

// Reconcile runs one matching pass: pending events against the campaigns that can still
// be shown and are not queued yet. Matched campaigns are queued; matched non-persistent
// events are removed from the pending store.
func (e *Engine) Reconcile() []string {
	e.mu.Lock()
	queued, hook := e.reconcileLocked()
	e.mu.Unlock()

	if len(queued) > 0 && hook != nil {
		hook(queued)
	}
	return queued
}

func (e *Engine) reconcileLocked() ([]string, func([]string)) {
	events := e.events.Snapshot()
	if len(events) == 0 {
		return nil, e.onQueued
	}
	now := e.now()
	var candidates []campaign.Campaign
	for _, c := range e.campaigns.All() {
		if e.queue.Contains(c.ID) || c.IsOptedOut || !c.HasImpressionsLeft() || c.Expired(now) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, e.onQueued
	}

	byID := make(map[string]campaign.Campaign, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	res := e.Match(events, candidates, e.persistentSpent)

	var queued []string
	for _, id := range res.Matched {
		e.markPersistent(byID[id], events)
		if e.queue.Add(id) {
			queued = append(queued, id)
		}
	}
	e.events.Consume(res.Consumed)

	if len(queued) > 0 {
		observability.CampaignsMatched.Add(float64(len(queued)))
		e.log.Debug().Strs("campaign_ids", queued).Int("consumed_events", len(res.Consumed)).Msg("campaigns ready for display")
	}
	return queued, e.onQueued
}

func (e *Engine) persistentSpent(campaignID string, ev *event.Event) bool {
	_, ok := e.persistentUsed[campaignID][ev.Key()]
	return ok
}

// markPersistent records every persistent event that satisfies c so it does not
// re-queue c again in this session.
func (e *Engine) markPersistent(c campaign.Campaign, events []*event.Event) {
	for _, ev := range events {
		if !ev.IsPersistent {
			continue
		}
		for _, t := range c.Triggers {
			if e.matcher.TriggerMatches(t, ev) {
				if e.persistentUsed[c.ID] == nil {
					e.persistentUsed[c.ID] = map[string]struct{}{}
				}
				e.persistentUsed[c.ID][ev.Key()] = struct{}{}
				break
			}
		}
	}
}

// Reset forgets which persistent events were spent.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persistentUsed = map[string]map[string]struct{}{}
}

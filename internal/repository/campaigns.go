package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"inapp-messaging/internal/cache"
	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/localstate"
)

// catalog is immutable once stored; writers build a new one.
type catalog struct {
	order      []string
	byID       map[string]campaign.Campaign
	doNotClear map[string]bool
	lastSync   time.Time
}

func (c catalog) clone() catalog {
	out := catalog{
		order:      append([]string(nil), c.order...),
		byID:       make(map[string]campaign.Campaign, len(c.byID)),
		doNotClear: make(map[string]bool, len(c.doNotClear)),
		lastSync:   c.lastSync,
	}
	for k, v := range c.byID {
		out.byID[k] = v
	}
	for k, v := range c.doNotClear {
		out.doNotClear[k] = v
	}
	return out
}

// CampaignRepository owns the synced campaign catalog and its local state
// (impressions left, opt-out, close count). Readers get copies; a sync is
// visible to readers all at once.
type CampaignRepository struct {
	mu    sync.Mutex // serializes writers
	snap  cache.Snapshot[catalog]
	store localstate.Store
	key   string
}

func NewCampaignRepository(store localstate.Store) *CampaignRepository {
	return &CampaignRepository{store: store, key: stateKey("")}
}

func stateKey(user string) string { return "campaigns:" + user }

func (r *CampaignRepository) current() catalog {
	c, ok := r.snap.Load()
	if !ok {
		return catalog{byID: map[string]campaign.Campaign{}, doNotClear: map[string]bool{}}
	}
	return c
}

// All returns the catalog in sync order.
func (r *CampaignRepository) All() []campaign.Campaign {
	c := r.current()
	out := make([]campaign.Campaign, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (r *CampaignRepository) Get(id string) (campaign.Campaign, bool) {
	c, ok := r.current().byID[id]
	return c, ok
}

// LastSync is the time of the last successful sync.
func (r *CampaignRepository) LastSync() time.Time { return r.current().lastSync }

func (r *CampaignRepository) Len() int { return len(r.current().order) }

// Sync replaces the catalog with data. Local state survives for campaigns kept by id;
// impressionsLeft follows a changed maxImpressions by the number already consumed.
// Campaigns marked do-not-clear stay even when missing from data.
func (r *CampaignRepository) Sync(data []campaign.Data, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current()
	next := catalog{
		byID:       make(map[string]campaign.Campaign, len(data)),
		doNotClear: map[string]bool{},
		lastSync:   at,
	}
	for _, d := range data {
		if d.ID == "" {
			continue
		}
		c := campaign.New(d)
		if prev, ok := old.byID[d.ID]; ok {
			c.IsOptedOut = prev.IsOptedOut
			c.TimesClosed = prev.TimesClosed
			used := prev.MaxImpressions - prev.ImpressionsLeft
			if used < 0 {
				used = 0
			}
			c.ImpressionsLeft = d.MaxImpressions - used
			if c.ImpressionsLeft < 0 {
				c.ImpressionsLeft = 0
			}
		}
		if _, dup := next.byID[d.ID]; !dup {
			next.order = append(next.order, d.ID)
		}
		next.byID[d.ID] = c
	}
	for _, id := range old.order {
		if !old.doNotClear[id] {
			continue
		}
		next.doNotClear[id] = true
		if _, ok := next.byID[id]; !ok {
			next.order = append(next.order, id)
			next.byID[id] = old.byID[id]
		}
	}
	r.snap.Store(next)
}

// update applies fn to a copy of campaign id and stores the result.
func (r *CampaignRepository) update(id string, fn func(c *campaign.Campaign)) (campaign.Campaign, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current()
	c, ok := cur.byID[id]
	if !ok {
		return campaign.Campaign{}, false
	}
	next := cur.clone()
	fn(&c)
	next.byID[id] = c
	r.snap.Store(next)
	return c, true
}

// DecrementImpressions consumes one impression unless the campaign is infinite.
func (r *CampaignRepository) DecrementImpressions(id string) (campaign.Campaign, bool) {
	return r.update(id, func(c *campaign.Campaign) {
		if c.InfiniteImpressions {
			return
		}
		if c.ImpressionsLeft > 0 {
			c.ImpressionsLeft--
		}
	})
}

func (r *CampaignRepository) OptOut(id string) (campaign.Campaign, bool) {
	return r.update(id, func(c *campaign.Campaign) { c.IsOptedOut = true })
}

// IncrementClosed bumps the close counter and returns the new value.
func (r *CampaignRepository) IncrementClosed(id string) int {
	c, _ := r.update(id, func(c *campaign.Campaign) { c.TimesClosed++ })
	return c.TimesClosed
}

// SetDoNotClear protects a campaign that is on screen from removal by a sync.
func (r *CampaignRepository) SetDoNotClear(id string, keep bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current()
	if _, ok := cur.byID[id]; !ok {
		return
	}
	next := cur.clone()
	if keep {
		next.doNotClear[id] = true
	} else {
		delete(next.doNotClear, id)
	}
	r.snap.Store(next)
}

// SwitchUser points persistence at the state of another user and reloads it.
func (r *CampaignRepository) SwitchUser(ctx context.Context, user string) error {
	r.mu.Lock()
	r.key = stateKey(user)
	r.mu.Unlock()
	r.snap.Clear()
	return r.Restore(ctx)
}

// Persist writes the catalog with its local state to the store.
func (r *CampaignRepository) Persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	key := r.key
	r.mu.Unlock()
	b, err := json.Marshal(r.All())
	if err != nil {
		return fmt.Errorf("encode campaigns: %w", err)
	}
	return r.store.Put(ctx, key, b)
}

// Restore loads the persisted catalog. A missing entry is not an error.
func (r *CampaignRepository) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.store.Get(ctx, r.key)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var saved []campaign.Campaign
	if err := json.Unmarshal(b, &saved); err != nil {
		return fmt.Errorf("decode campaigns: %w", err)
	}
	next := catalog{byID: map[string]campaign.Campaign{}, doNotClear: map[string]bool{}}
	for _, c := range saved {
		if _, dup := next.byID[c.ID]; dup || c.ID == "" {
			continue
		}
		next.order = append(next.order, c.ID)
		next.byID[c.ID] = c
	}
	r.snap.Store(next)
	return nil
}

func (r *CampaignRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Clear()
}

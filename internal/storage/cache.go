package storage

import (
	"context"
	"sync"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/remote"
)

// Cache is the in-memory catalog the HTTP handlers serve from, plus a tally of
// impressions received since start.
type Cache struct {
	mu          sync.RWMutex
	campaigns   []campaign.Data
	byID        map[string]int
	impressions map[string]map[remote.ImpressionType]int
}

func NewCache() *Cache {
	return &Cache{
		byID:        map[string]int{},
		impressions: map[string]map[remote.ImpressionType]int{},
	}
}

func (c *Cache) GetCampaigns() []campaign.Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]campaign.Data(nil), c.campaigns...)
}

func (c *Cache) UpdateCampaigns(campaigns []campaign.Data) {
	byID := make(map[string]int, len(campaigns))
	for i, d := range campaigns {
		byID[d.ID] = i
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.campaigns = campaigns
	c.byID = byID
}

func (c *Cache) Find(id string) (campaign.Data, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return campaign.Data{}, false
	}
	return c.campaigns[i], true
}

// RecordImpressions adds req to the tally. It never fails.
func (c *Cache) RecordImpressions(_ context.Context, req remote.ImpressionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.impressions[req.CampaignID]
	if !ok {
		t = map[remote.ImpressionType]int{}
		c.impressions[req.CampaignID] = t
	}
	for _, imp := range req.Impressions {
		t[imp.Type]++
	}
	return nil
}

// Tally returns the count of impressions of typ received for id.
func (c *Cache) Tally(id string, typ remote.ImpressionType) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.impressions[id][typ]
}

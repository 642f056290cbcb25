package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/localstate"
	"inapp-messaging/internal/remote"
)

func TestEventRepository(t *testing.T) {
	r := NewEventRepository(3)
	start1, start2 := event.NewAppStart(), event.NewAppStart()
	login := event.NewLoginSuccessful()

	r.Add(start1)
	r.Add(start2)
	r.Add(login)
	assert.Equal(t, 2, r.Len(), "persistent events stored once")

	r.Consume([]*event.Event{start1, login})
	assert.Equal(t, []*event.Event{start1}, r.Snapshot(), "persistent events are never consumed")

	for i := 0; i < 4; i++ {
		e, err := event.NewCustom(fmt.Sprintf("e%d", i))
		require.NoError(t, err)
		r.Add(e)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Same(t, start1, snap[0], "overflow drops oldest non-persistent")
	assert.Equal(t, "e2", snap[1].Name)

	r.Reset()
	assert.Zero(t, r.Len())
}

func data(id string, max int) campaign.Data {
	return campaign.Data{ID: id, MaxImpressions: max, Payload: campaign.Payload{Title: id}}
}

func TestCampaignRepository_SyncPreservesState(t *testing.T) {
	r := NewCampaignRepository(nil)
	t0 := time.Unix(100, 0)
	r.Sync([]campaign.Data{data("a", 3), data("b", 1), data("c", 2)}, t0)

	_, ok := r.DecrementImpressions("a")
	require.True(t, ok)
	r.OptOut("b")
	assert.Equal(t, 1, r.IncrementClosed("a"))
	assert.Equal(t, 2, r.IncrementClosed("a"))

	t1 := time.Unix(200, 0)
	r.Sync([]campaign.Data{data("a", 5), data("b", 1), data("d", 1)}, t1)

	a, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, a.ImpressionsLeft, "one of five consumed")
	assert.Equal(t, 2, a.TimesClosed)
	b, _ := r.Get("b")
	assert.True(t, b.IsOptedOut)
	_, ok = r.Get("c")
	assert.False(t, ok, "campaigns missing from sync are dropped")
	assert.Equal(t, t1, r.LastSync())

	ids := []string{}
	for _, c := range r.All() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "d"}, ids)
}

func TestCampaignRepository_ConcurrentUpdates(t *testing.T) {
	r := NewCampaignRepository(nil)
	r.Sync([]campaign.Data{data("a", 1000), data("b", 1)}, time.Unix(100, 0))

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.IncrementClosed("a")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.DecrementImpressions("a")
			}
		}()
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.Sync([]campaign.Data{data("a", 1000), data("b", 1)}, time.Unix(int64(200+w*perWorker+i), 0))
			}
		}(w)
	}
	wg.Wait()

	a, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, a.TimesClosed)
	assert.Equal(t, 1000-workers*perWorker, a.ImpressionsLeft)
}

func TestCampaignRepository_DoNotClear(t *testing.T) {
	r := NewCampaignRepository(nil)
	r.Sync([]campaign.Data{data("a", 1), data("b", 1)}, time.Now())
	r.SetDoNotClear("a", true)

	r.Sync([]campaign.Data{data("b", 1)}, time.Now())
	_, ok := r.Get("a")
	assert.True(t, ok, "on-screen campaign survives sync")

	r.SetDoNotClear("a", false)
	r.Sync([]campaign.Data{data("b", 1)}, time.Now())
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestCampaignRepository_DecrementInfinite(t *testing.T) {
	r := NewCampaignRepository(nil)
	d := data("inf", 0)
	d.InfiniteImpressions = true
	r.Sync([]campaign.Data{d, data("one", 1)}, time.Now())

	c, _ := r.DecrementImpressions("inf")
	assert.Equal(t, 0, c.ImpressionsLeft)
	assert.True(t, c.HasImpressionsLeft())

	c, _ = r.DecrementImpressions("one")
	assert.Equal(t, 0, c.ImpressionsLeft)
	c, _ = r.DecrementImpressions("one")
	assert.Equal(t, 0, c.ImpressionsLeft, "never negative")

	_, ok := r.DecrementImpressions("missing")
	assert.False(t, ok)
}

func TestCampaignRepository_PersistRestore(t *testing.T) {
	ctx := context.Background()
	store := localstate.NewMemoryStore()

	r := NewCampaignRepository(store)
	require.NoError(t, r.SwitchUser(ctx, "user-1"))
	r.Sync([]campaign.Data{data("a", 2)}, time.Now())
	r.DecrementImpressions("a")
	require.NoError(t, r.Persist(ctx))

	fresh := NewCampaignRepository(store)
	require.NoError(t, fresh.SwitchUser(ctx, "user-1"))
	a, ok := fresh.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, a.ImpressionsLeft)

	require.NoError(t, fresh.SwitchUser(ctx, "user-2"))
	assert.Zero(t, fresh.Len(), "state is per user")
}

func TestReadyQueue(t *testing.T) {
	q := NewReadyQueue()
	assert.True(t, q.Add("a"))
	assert.True(t, q.Add("b"))
	assert.False(t, q.Add("a"))
	assert.Equal(t, []string{"a", "b"}, q.Snapshot())

	q.Retain(func(id string) bool { return id != "a" })
	assert.Equal(t, []string{"b"}, q.Snapshot())
	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.Zero(t, q.Len())
}

func TestDisplayedRepository(t *testing.T) {
	d := NewDisplayedRepository()
	_, ok := d.Last("a")
	assert.False(t, ok)
	d.MarkDisplayed("a", time.Unix(1, 0))
	d.MarkDisplayed("a", time.Unix(2, 0))
	assert.Equal(t, 2, d.Count("a"))
	last, _ := d.Last("a")
	assert.Equal(t, time.Unix(2, 0), last)
}

type userInfo struct{ user, tracking, token string }

func (u userInfo) UserID() string               { return u.user }
func (u userInfo) IDTrackingIdentifier() string { return u.tracking }
func (u userInfo) AccessToken() string          { return u.token }

func TestAccountRepository(t *testing.T) {
	r := NewAccountRepository()
	assert.Empty(t, r.UserIdentifiers())
	assert.Equal(t, "", r.UserKey())

	r.SetProvider(userInfo{user: "u1", tracking: "t1", token: "tok"})
	assert.Equal(t, []remote.UserIdentifier{
		{ID: "u1", Type: remote.IDTypeUserID},
		{ID: "t1", Type: remote.IDTypeIDTracking},
	}, r.UserIdentifiers())
	assert.Equal(t, "tok", r.AccessToken())
	assert.Len(t, r.UserKey(), 16)
}

func TestConfigRepository(t *testing.T) {
	r := NewConfigRepository()
	assert.False(t, r.Enabled())

	resp := remote.ConfigResponse{Data: remote.ConfigData{RolloutPercentage: 100,
		Endpoints: remote.Endpoints{Ping: "p"}}}
	cfg := r.Update(resp, "device", time.Now())
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "p", cfg.PingURL)
	assert.True(t, r.Enabled())

	resp.Data.RolloutPercentage = 0
	r.Update(resp, "device", time.Now())
	assert.False(t, r.Enabled())
}

func TestInRollout(t *testing.T) {
	b := Bucket("device-123")
	assert.GreaterOrEqual(t, b, 1)
	assert.LessOrEqual(t, b, 100)
	assert.True(t, InRollout("device-123", b))
	if b > 1 {
		assert.False(t, InRollout("device-123", b-1))
	}
	assert.False(t, InRollout("any", 0))
	assert.True(t, InRollout("any", 100))
}

func TestHostRepository(t *testing.T) {
	r := NewHostRepository(HostInfo{AppID: "com.app"})
	info := r.Info()
	assert.NotEmpty(t, info.DeviceID)
	assert.Equal(t, remote.PlatformAndroid, info.Platform)

	r.SetSubscription("key", "https://config")
	assert.Equal(t, "key", r.Info().SubscriptionKey)
	assert.Equal(t, "com.app", r.Info().AppID)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-messaging/internal/api"
	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/remote"
	"inapp-messaging/internal/storage"
)

type MockStore struct {
	campaigns []campaign.Data
	err       error
}

func (m *MockStore) LoadActiveCampaigns(ctx context.Context) ([]campaign.Data, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.campaigns, nil
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

func live(id string) campaign.Data {
	return campaign.Data{ID: id, MaxImpressions: 1, HasNoEndDate: true}
}

func expired(id string) campaign.Data {
	d := campaign.Data{ID: id, MaxImpressions: 1}
	d.Payload.Settings.Display.EndTimeMillis = fixedNow.Add(-time.Minute).UnixMilli()
	return d
}

func newTestServer(campaigns []campaign.Data) (*Server, *storage.Cache) {
	cache := storage.NewCache()
	cache.UpdateCampaigns(campaigns)
	srv := New(&MockStore{campaigns: campaigns}, cache, api.Settings{
		BaseURL:           "http://backend.test",
		RolloutPercentage: 50,
		NextPingMillis:    60_000,
		SubscriptionKeys:  []string{"sub-1"},
		Now:               func() time.Time { return fixedNow },
	})
	return srv, cache
}

func do(t *testing.T, h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set(remote.HeaderSubscriptionID, "sub-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestConfig_Scenarios(t *testing.T) {
	srv, _ := newTestServer(nil)

	w := do(t, srv.Handler(), http.MethodGet, "/v1/config?platform=1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing appId")

	w = do(t, srv.Handler(), http.MethodGet, "/v1/config?platform=1&appId=com.app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp remote.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Data.RolloutPercentage)
	assert.Equal(t, "http://backend.test/v1/ping", resp.Data.Endpoints.Ping)
	assert.Equal(t, "http://backend.test/v1/impressions", resp.Data.Endpoints.Impression)
	assert.Equal(t, "http://backend.test/v1/display_permission", resp.Data.Endpoints.DisplayPermission)
}

func TestSubscriptionRequired(t *testing.T) {
	srv, _ := newTestServer(nil)
	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "other", http.StatusUnauthorized},
		{"accepted", "sub-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/config?appId=a", nil)
			if tt.key != "" {
				req.Header.Set(remote.HeaderSubscriptionID, tt.key)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestPing_SkipsExpired(t *testing.T) {
	srv, _ := newTestServer([]campaign.Data{live("1"), expired("2"), live("3")})

	w := do(t, srv.Handler(), http.MethodPost, "/v1/ping", remote.PingRequest{AppVersion: "1.0"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp remote.PingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var ids []string
	for _, d := range resp.Campaigns() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"1", "3"}, ids)
	assert.Equal(t, int64(60_000), resp.NextPingMillis)
	assert.Equal(t, fixedNow.UnixMilli(), resp.CurrentPingMillis)

	w = do(t, srv.Handler(), http.MethodPost, "/v1/ping", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty body")
}

func TestDisplayPermission_Scenarios(t *testing.T) {
	srv, _ := newTestServer([]campaign.Data{live("1"), expired("2")})
	tests := []struct {
		name       string
		campaignID string
		wantStatus int
		want       remote.DisplayPermissionResponse
	}{
		{"missing id", "", http.StatusBadRequest, remote.DisplayPermissionResponse{}},
		{"live", "1", http.StatusOK, remote.DisplayPermissionResponse{Display: true}},
		{"expired", "2", http.StatusOK, remote.DisplayPermissionResponse{PerformPing: true}},
		{"unknown", "9", http.StatusOK, remote.DisplayPermissionResponse{PerformPing: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/v1/display_permission",
				remote.DisplayPermissionRequest{CampaignID: tt.campaignID})
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got remote.DisplayPermissionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingSink struct{}

func (failingSink) RecordImpressions(context.Context, remote.ImpressionRequest) error {
	return context.DeadlineExceeded
}

func TestImpressions_Tally(t *testing.T) {
	srv, cache := newTestServer([]campaign.Data{live("1")})
	req := remote.ImpressionRequest{
		CampaignID: "1",
		Impressions: []remote.Impression{
			{Type: remote.ImpressionShown, Timestamp: 1},
			{Type: remote.ImpressionExit, Timestamp: 1},
		},
	}

	w := do(t, srv.Handler(), http.MethodPost, "/v1/impressions", req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, cache.Tally("1", remote.ImpressionShown))
	assert.Equal(t, 1, cache.Tally("1", remote.ImpressionExit))
	assert.Equal(t, 0, cache.Tally("1", remote.ImpressionOptOut))

	w = do(t, srv.Handler(), http.MethodPost, "/v1/impressions", remote.ImpressionRequest{CampaignID: "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "no impressions")

	failing := New(&MockStore{}, storage.NewCache(), api.Settings{}, failingSink{})
	w = do(t, failing.Handler(), http.MethodPost, "/v1/impressions", req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartCacheRefresher(t *testing.T) {
	tests := []struct {
		name         string
		mockStore    *MockStore
		wantCampaign int
	}{
		{
			name:         "successful refresh updates cache",
			mockStore:    &MockStore{campaigns: []campaign.Data{live("1")}},
			wantCampaign: 1,
		},
		{
			name:         "error refresh leaves cache empty",
			mockStore:    &MockStore{err: context.DeadlineExceeded},
			wantCampaign: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cache := storage.NewCache()
			srv := New(tt.mockStore, cache, api.Settings{})

			srv.StartCacheRefresher(ctx, time.Hour)
			time.Sleep(100 * time.Millisecond)

			assert.Len(t, cache.GetCampaigns(), tt.wantCampaign)
		})
	}
}

func TestRefresh_KeepsCacheOnError(t *testing.T) {
	store := &MockStore{campaigns: []campaign.Data{live("1")}}
	cache := storage.NewCache()
	srv := New(store, cache, api.Settings{})

	require.NoError(t, srv.Refresh(context.Background()))
	store.err = context.Canceled
	assert.Error(t, srv.Refresh(context.Background()))
	_, ok := cache.Find("1")
	assert.True(t, ok)
}

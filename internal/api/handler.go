// Package api serves the backend endpoints the SDK talks to: config, ping,
// display permission and impressions.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/remote"
)

// Catalog is the campaign set served by ping and consulted by display permission.
type Catalog interface {
	GetCampaigns() []campaign.Data
	Find(id string) (campaign.Data, bool)
}

// ImpressionSink receives every accepted impression report.
type ImpressionSink interface {
	RecordImpressions(ctx context.Context, req remote.ImpressionRequest) error
}

type Settings struct {
	// BaseURL prefixes the advertised endpoints; empty derives it from the request.
	BaseURL           string
	RolloutPercentage int
	NextPingMillis    int64
	// SubscriptionKeys limits access; empty accepts any non-empty key.
	SubscriptionKeys []string
	Now              func() time.Time
}

type Handler struct {
	catalog  Catalog
	sinks    []ImpressionSink
	settings Settings
}

func NewHandler(catalog Catalog, settings Settings, sinks ...ImpressionSink) *Handler {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Handler{catalog: catalog, sinks: sinks, settings: settings}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.settings.BaseURL != "" {
		return strings.TrimRight(h.settings.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Config advertises the endpoints and rollout percentage.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("appId") == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}
	base := h.baseURL(r)
	writeJSON(w, http.StatusOK, remote.ConfigResponse{Data: remote.ConfigData{
		Endpoints: remote.Endpoints{
			Ping:              base + "/v1/ping",
			Impression:        base + "/v1/impressions",
			DisplayPermission: base + "/v1/display_permission",
		},
		RolloutPercentage: h.settings.RolloutPercentage,
	}})
}

// Ping returns the campaigns that can still be shown.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	var req remote.PingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	now := h.settings.Now()
	resp := remote.PingResponse{
		Data:              []remote.PingCampaign{},
		NextPingMillis:    h.settings.NextPingMillis,
		CurrentPingMillis: now.UnixMilli(),
	}
	for _, d := range h.catalog.GetCampaigns() {
		if campaign.New(d).Expired(now) {
			continue
		}
		resp.Data = append(resp.Data, remote.PingCampaign{CampaignData: d})
	}
	log.Debug().Int("campaigns", len(resp.Data)).Int("identifiers", len(req.UserIdentifiers)).Msg("ping served")
	writeJSON(w, http.StatusOK, resp)
}

// DisplayPermission allows campaigns that are still live. A campaign the
// catalog no longer knows is refused and the client is told to ping.
func (h *Handler) DisplayPermission(w http.ResponseWriter, r *http.Request) {
	var req remote.DisplayPermissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaignId is required")
		return
	}
	d, ok := h.catalog.Find(req.CampaignID)
	if !ok {
		writeJSON(w, http.StatusOK, remote.DisplayPermissionResponse{Display: false, PerformPing: true})
		return
	}
	expired := campaign.New(d).Expired(h.settings.Now())
	writeJSON(w, http.StatusOK, remote.DisplayPermissionResponse{Display: !expired, PerformPing: expired})
}

// Impressions accepts an impression report.
func (h *Handler) Impressions(w http.ResponseWriter, r *http.Request) {
	var req remote.ImpressionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CampaignID == "" || len(req.Impressions) == 0 {
		writeError(w, http.StatusBadRequest, "campaignId and impressions are required")
		return
	}
	for _, s := range h.sinks {
		if err := s.RecordImpressions(r.Context(), req); err != nil {
			log.Error().Err(err).Str("campaign_id", req.CampaignID).Msg("record impressions")
			writeError(w, http.StatusInternalServerError, "could not record impressions")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequireSubscription rejects requests without an accepted Subscription-Id header.
func (h *Handler) RequireSubscription(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, k := range h.settings.SubscriptionKeys {
		allowed[k] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(remote.HeaderSubscriptionID)
		if key == "" || (len(allowed) > 0 && !allowed[key]) {
			writeError(w, http.StatusUnauthorized, "unknown subscription")
			return
		}
		next.ServeHTTP(w, r)
	})
}

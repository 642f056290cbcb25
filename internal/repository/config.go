package repository

import (
	"hash/fnv"
	"time"

	"inapp-messaging/internal/cache"
	"inapp-messaging/internal/remote"
)

// BackendConfig is an immutable snapshot of the last successful config fetch.
type BackendConfig struct {
	Enabled              bool
	RolloutPercentage    int
	PingURL              string
	ImpressionURL        string
	DisplayPermissionURL string
	FetchedAt            time.Time
}

// ConfigRepository holds the current BackendConfig.
type ConfigRepository struct {
	snap cache.Snapshot[BackendConfig]
}

func NewConfigRepository() *ConfigRepository { return &ConfigRepository{} }

// Update replaces the snapshot from a config response. Enablement buckets
// deviceID into 1..100 and compares it with the rollout percentage.
func (r *ConfigRepository) Update(resp remote.ConfigResponse, deviceID string, at time.Time) BackendConfig {
	cfg := BackendConfig{
		RolloutPercentage:    resp.Data.RolloutPercentage,
		PingURL:              resp.Data.Endpoints.Ping,
		ImpressionURL:        resp.Data.Endpoints.Impression,
		DisplayPermissionURL: resp.Data.Endpoints.DisplayPermission,
		FetchedAt:            at,
	}
	cfg.Enabled = InRollout(deviceID, cfg.RolloutPercentage)
	r.snap.Store(cfg)
	return cfg
}

// Current returns the snapshot and whether a config was fetched yet.
func (r *ConfigRepository) Current() (BackendConfig, bool) { return r.snap.Load() }

// Enabled is false until a config enabling the SDK has been fetched.
func (r *ConfigRepository) Enabled() bool {
	cfg, ok := r.snap.Load()
	return ok && cfg.Enabled
}

func (r *ConfigRepository) Reset() { r.snap.Clear() }

// InRollout reports whether deviceID falls into the first pct percent of buckets.
func InRollout(deviceID string, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return Bucket(deviceID) <= pct
}

// Bucket maps deviceID to a stable value in 1..100.
func Bucket(deviceID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32()%100) + 1
}

package sdk

import (
	"context"
	"errors"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/display"
	"inapp-messaging/internal/remote"
	"inapp-messaging/internal/repository"
)

// errNotConfigured is returned by backend calls made before a config was fetched.
var errNotConfigured = errors.New("backend config not fetched")

func (m *Messaging) credentials() remote.Credentials {
	info := m.host.Info()
	return remote.Credentials{
		SubscriptionKey: info.SubscriptionKey,
		DeviceID:        info.DeviceID,
		AccessToken:     m.account.AccessToken(),
	}
}

func (m *Messaging) fetchConfig(ctx context.Context) (repository.BackendConfig, error) {
	info := m.host.Info()
	resp, err := m.client.FetchConfig(ctx, info.ConfigURL, m.credentials(), remote.ConfigRequest{
		Platform:   info.Platform,
		AppID:      info.AppID,
		SDKVersion: info.SDKVersion,
		AppVersion: info.AppVersion,
		Locale:     info.Locale,
	})
	if err != nil {
		return repository.BackendConfig{}, err
	}
	cfg := m.config.Update(*resp, info.DeviceID, m.cfg.now())
	m.log.Info().Bool("enabled", cfg.Enabled).Int("rollout", cfg.RolloutPercentage).Msg("backend config fetched")
	return cfg, nil
}

func (m *Messaging) ping(ctx context.Context) (*remote.PingResponse, error) {
	cfg, ok := m.config.Current()
	if !ok {
		return nil, errNotConfigured
	}
	return m.client.Ping(ctx, cfg.PingURL, m.credentials(), remote.PingRequest{
		AppVersion:      m.host.Info().AppVersion,
		UserIdentifiers: m.account.UserIdentifiers(),
	})
}

func (m *Messaging) sendImpressions(ctx context.Context, req remote.ImpressionRequest) error {
	cfg, ok := m.config.Current()
	if !ok {
		return errNotConfigured
	}
	return m.client.ReportImpressions(ctx, cfg.ImpressionURL, m.credentials(), req)
}

// permissionChecker asks the display-permission endpoint on behalf of the display manager.
type permissionChecker struct{ m *Messaging }

func (p permissionChecker) CheckPermission(ctx context.Context, c campaign.Campaign) (display.Permission, error) {
	m := p.m
	cfg, ok := m.config.Current()
	if !ok || !cfg.Enabled {
		return display.Permission{}, errNotConfigured
	}
	info := m.host.Info()
	var lastPing int64
	if t := m.campaigns.LastSync(); !t.IsZero() {
		lastPing = t.UnixMilli()
	}
	resp, err := m.client.CheckDisplayPermission(ctx, cfg.DisplayPermissionURL, m.credentials(), remote.DisplayPermissionRequest{
		CampaignID:       c.ID,
		AppVersion:       info.AppVersion,
		SDKVersion:       info.SDKVersion,
		Locale:           info.Locale,
		LastPingInMillis: lastPing,
		UserIdentifiers:  m.account.UserIdentifiers(),
		Platform:         info.Platform,
	})
	if err != nil {
		return display.Permission{}, err
	}
	return display.Permission{Display: resp.Display, PerformPing: resp.PerformPing}, nil
}

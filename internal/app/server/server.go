// Package server runs the campaign backend: it keeps the catalog cache fresh
// from Postgres or a fixture file and serves the SDK endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/api"
	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/config"
	"inapp-messaging/internal/listener"
	"inapp-messaging/internal/storage"
)

// CatalogLoader loads the active campaigns.
type CatalogLoader interface {
	LoadActiveCampaigns(ctx context.Context) ([]campaign.Data, error)
}

type Server struct {
	store   CatalogLoader
	cache   *storage.Cache
	handler http.Handler
}

// New serves cache through the api router. Impressions always reach the cache
// tally and then every extra sink.
func New(store CatalogLoader, cache *storage.Cache, settings api.Settings, sinks ...api.ImpressionSink) *Server {
	h := api.NewHandler(cache, settings, append([]api.ImpressionSink{cache}, sinks...)...)
	return &Server{store: store, cache: cache, handler: api.Router(h)}
}

func (s *Server) Handler() http.Handler { return s.handler }

// Refresh reloads the catalog into the cache. On error the cache is unchanged.
func (s *Server) Refresh(ctx context.Context) error {
	campaigns, err := s.store.LoadActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	s.cache.UpdateCampaigns(campaigns)
	log.Debug().Int("campaigns", len(campaigns)).Msg("catalog refreshed")
	return nil
}

// StartCacheRefresher refreshes now and then every interval until ctx is done.
func (s *Server) StartCacheRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		if err := s.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("initial catalog refresh")
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("catalog refresh")
				}
			}
		}
	}()
}

func settingsFrom(cfg config.Config) api.Settings {
	return api.Settings{
		BaseURL:           cfg.Server.BaseURL,
		RolloutPercentage: cfg.Catalog.RolloutPercentage,
		NextPingMillis:    cfg.Catalog.NextPingMillis,
		SubscriptionKeys:  cfg.Catalog.SubscriptionKeys,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *Server
	cache := storage.NewCache()
	switch cfg.Catalog.Source {
	case "fixture":
		srv = New(storage.FixtureStore{Path: cfg.Catalog.FixturePath}, cache, settingsFrom(cfg))
	case "postgres":
		store, err := storage.New(rootCtx, cfg)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		srv = New(store, cache, settingsFrom(cfg), store)
		go listener.ListenAndRefresh(rootCtx, store, srv.Refresh, cfg.Listener.Channel, cfg.Backoff())
	default:
		return fmt.Errorf("unknown catalog source %q", cfg.Catalog.Source)
	}

	if err := srv.Refresh(rootCtx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}
	srv.StartCacheRefresher(rootCtx, cfg.RefreshInterval())

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("catalog", cfg.Catalog.Source).Msg("http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	case <-rootCtx.Done():
	}
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel()
	return httpSrv.Shutdown(shCtx)
}

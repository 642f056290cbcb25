package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/config"
	"inapp-messaging/internal/remote"
)

// Store reads the campaign catalog from Postgres and records impressions.
type Store struct {
	pool    *pgxpool.Pool
	channel string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadActiveCampaigns returns the active campaigns in priority order. The data
// column holds the campaign document as served by the ping endpoint.
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]campaign.Data, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, data
		FROM campaigns
		WHERE status = 'ACTIVE'
		ORDER BY priority, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []campaign.Data
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var d campaign.Data
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode campaign %s: %w", id, err)
		}
		d.ID = id
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordImpressions stores one row per impression in a single batch.
func (s *Store) RecordImpressions(ctx context.Context, req remote.ImpressionRequest) error {
	if len(req.Impressions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, imp := range req.Impressions {
		batch.Queue(`
			INSERT INTO impressions (campaign_id, type, is_test, app_version, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
		`, req.CampaignID, int(imp.Type), req.IsTest, req.AppVersion, time.UnixMilli(imp.Timestamp))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range req.Impressions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert impression: %w", err)
		}
	}
	return nil
}

// ListenChannel is the NOTIFY channel raised by the campaigns trigger.
func (s *Store) ListenChannel() string {
	if s.channel != "" {
		return s.channel
	}
	return "campaigns_changed"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

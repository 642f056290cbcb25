// Package listener refreshes the campaign catalog on Postgres NOTIFY.
package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// debounce drops notifications arriving this soon after a refresh.
const debounce = 200 * time.Millisecond

// RefreshFunc reloads the catalog.
type RefreshFunc func(ctx context.Context) error

// Notifier is the part of storage.Store the listener needs.
type Notifier interface {
	PgxPool() *pgxpool.Pool
	ListenChannel() string
}

// ListenAndRefresh LISTENs on channel and calls refresh per change burst until
// ctx is done. A lost connection is re-acquired after a jittered backoff.
func ListenAndRefresh(ctx context.Context, st Notifier, refresh RefreshFunc, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for ctx.Err() == nil {
		err := listen(ctx, st.PgxPool(), refresh, channel)
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listener connection lost")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, pool *pgxpool.Pool, refresh RefreshFunc, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for catalog changes")

	var lastRefresh time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if time.Since(lastRefresh) < debounce {
			continue
		}
		lastRefresh = time.Now()
		log.Info().Str("channel", ntf.Channel).Msg("catalog change; refreshing")
		if err := refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh catalog")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}

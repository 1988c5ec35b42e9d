package postgresbackend

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// IsReadOnly implements backend.Backend by checking pg_is_in_recovery(),
// which is true on a standby that the backend has failed over to.
func (b *Backend) IsReadOnly(ctx context.Context) (bool, error) {
	var ro bool
	if err := b.pool.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&ro); err != nil {
		return false, wrapUnavailable(err)
	}
	return ro, nil
}

// Reset implements backend.Backend. Intended for tests.
func (b *Backend) Reset(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		TRUNCATE messagebus_counters, messagebus_channel_backlog, messagebus_global_backlog
	`)
	return wrapUnavailable(err)
}

// ExpireAllBacklogs implements backend.Backend by dropping backlog content
// immediately, leaving counters (and hence future ids) intact.
func (b *Backend) ExpireAllBacklogs(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `TRUNCATE messagebus_channel_backlog, messagebus_global_backlog`)
	return wrapUnavailable(err)
}

// AfterFork implements backend.Backend. pgxpool manages its own connection
// lifecycle per-connection rather than per-process, so there is nothing to
// re-establish; idle connections are simply handed back to the pool.
func (b *Backend) AfterFork(ctx context.Context) error {
	return nil
}

// Destroy implements backend.Backend.
func (b *Backend) Destroy(ctx context.Context) error {
	if b.sweepCancel != nil {
		b.sweepCancel()
	}
	b.pool.Close()
	return nil
}

// runAgeSweep approximates the shared-store backend's TTL-based age
// trimming (§4.12): since SQL has no native per-row TTL, a sweep runs every
// SweepInterval and drops a channel's entire backlog once MaxBacklogAge has
// elapsed since its most recent publish, matching the "whole backlog
// dropped atomically" contract that age trimming is documented as
// permitted to have.
func (b *Backend) runAgeSweep(ctx context.Context) {
	if b.cfg.MaxBacklogAge <= 0 {
		return
	}

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.sweepAgedBacklogs(ctx); err != nil {
				log.Warn().Err(err).Msg("postgres backend: age sweep failed")
			}
		}
	}
}

func (b *Backend) sweepAgedBacklogs(ctx context.Context) error {
	cutoff := time.Now().Add(-b.cfg.MaxBacklogAge)

	rows, err := b.pool.Query(ctx, `
		SELECT DISTINCT channel FROM messagebus_channel_backlog
		WHERE channel NOT IN (
			SELECT channel FROM messagebus_channel_backlog WHERE created_at > $1
		)
	`, cutoff)
	if err != nil {
		return err
	}
	var staleChannels []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			rows.Close()
			return err
		}
		staleChannels = append(staleChannels, channel)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, channel := range staleChannels {
		if _, err := b.pool.Exec(ctx, `DELETE FROM messagebus_channel_backlog WHERE channel = $1`, channel); err != nil {
			return err
		}
	}
	return nil
}

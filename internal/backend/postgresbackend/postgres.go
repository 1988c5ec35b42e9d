// Package postgresbackend implements backend.Backend against PostgreSQL
// (§4.12): plain tables standing in for the shared-store backend's sorted
// sets, and LISTEN/NOTIFY standing in for its fan-out channel. It proves
// the Backend Contract is store-agnostic, and is the default backend for
// deployments that already run Postgres and would rather not add Redis.
package postgresbackend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

// Backend is the relational implementation of backend.Backend.
type Backend struct {
	cfg  Config
	pool *pgxpool.Pool

	sweepCancel context.CancelFunc
}

// New connects to Postgres, ensures the schema exists, and starts the
// age-based trimming sweep.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: connect: %w", err)
	}

	b := &Backend{cfg: cfg, pool: pool}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres backend: ensure schema: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	b.sweepCancel = cancel
	go b.runAgeSweep(sweepCtx)

	return b, nil
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err)
}

const upsertCounterSQL = `
INSERT INTO messagebus_counters (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = messagebus_counters.value + 1
RETURNING value
`

const insertChannelBacklogSQL = `
INSERT INTO messagebus_channel_backlog (channel, message_id, global_id, encoded)
VALUES ($1, $2, $3, $4)
`

const insertGlobalBacklogSQL = `
INSERT INTO messagebus_global_backlog (global_id, channel, message_id)
VALUES ($1, $2, $3)
`

const deleteChannelBacklogSQL = `
DELETE FROM messagebus_channel_backlog WHERE channel = $1 AND message_id <= $2
`

const deleteGlobalBacklogSQL = `
DELETE FROM messagebus_global_backlog WHERE global_id <= $1
`

// Publish implements backend.Backend. The whole step runs in one
// transaction: allocate both counters, insert both backlog rows,
// conditionally trim, and NOTIFY -- the relational equivalent of the
// shared-store backend's atomic Lua script.
func (b *Backend) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (uint64, error) {
	maxBacklogSize := b.cfg.MaxBacklogSize
	if opts.MaxBacklogSize > 0 {
		maxBacklogSize = opts.MaxBacklogSize
	}
	clearEvery := b.cfg.ClearEvery
	if clearEvery == 0 {
		clearEvery = 1
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	defer tx.Rollback(ctx)

	var globalID, messageID uint64
	if err := tx.QueryRow(ctx, upsertCounterSQL, globalCounterName).Scan(&globalID); err != nil {
		return 0, wrapUnavailable(err)
	}
	if err := tx.QueryRow(ctx, upsertCounterSQL, channelCounterName(channel)).Scan(&messageID); err != nil {
		return 0, wrapUnavailable(err)
	}

	encoded := message.Encode(message.Message{
		GlobalID:  globalID,
		MessageID: messageID,
		Channel:   channel,
		Data:      data,
		UserIDs:   opts.UserIDs,
		GroupIDs:  opts.GroupIDs,
		ClientIDs: opts.ClientIDs,
		SiteID:    opts.SiteID,
	})

	if _, err := tx.Exec(ctx, insertChannelBacklogSQL, channel, messageID, globalID, encoded); err != nil {
		return 0, wrapUnavailable(err)
	}
	if _, err := tx.Exec(ctx, insertGlobalBacklogSQL, globalID, channel, messageID); err != nil {
		return 0, wrapUnavailable(err)
	}

	if maxBacklogSize > 0 && messageID > maxBacklogSize && messageID%clearEvery == 0 {
		if _, err := tx.Exec(ctx, deleteChannelBacklogSQL, channel, messageID-maxBacklogSize); err != nil {
			return 0, wrapUnavailable(err)
		}
	}
	if b.cfg.MaxGlobalBacklogSize > 0 && globalID > b.cfg.MaxGlobalBacklogSize && globalID%clearEvery == 0 {
		if _, err := tx.Exec(ctx, deleteGlobalBacklogSQL, globalID-b.cfg.MaxGlobalBacklogSize); err != nil {
			return 0, wrapUnavailable(err)
		}
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(encoded)); err != nil {
		return 0, wrapUnavailable(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, wrapUnavailable(err)
	}
	return messageID, nil
}

// LastID implements backend.Backend.
func (b *Backend) LastID(ctx context.Context, channel string) (uint64, error) {
	return b.counter(ctx, channelCounterName(channel))
}

// LastIDs implements backend.Backend.
func (b *Backend) LastIDs(ctx context.Context, channels []string) ([]uint64, error) {
	ids := make([]uint64, len(channels))
	for i, channel := range channels {
		id, err := b.LastID(ctx, channel)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (b *Backend) counter(ctx context.Context, name string) (uint64, error) {
	var v uint64
	err := b.pool.QueryRow(ctx, "SELECT value FROM messagebus_counters WHERE name = $1", name).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, wrapUnavailable(err)
	}
	return v, nil
}

// Backlog implements backend.Backend.
func (b *Backend) Backlog(ctx context.Context, channel string, afterID uint64) ([]message.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT encoded FROM messagebus_channel_backlog
		WHERE channel = $1 AND message_id > $2
		ORDER BY message_id ASC
	`, channel, afterID)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return scanEncoded(rows)
}

// GlobalBacklog implements backend.Backend. The join against
// messagebus_channel_backlog means a row whose per-channel entry has
// since been trimmed is silently omitted, matching invariant 5.
func (b *Backend) GlobalBacklog(ctx context.Context, afterGlobalID uint64) ([]message.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT cb.encoded
		FROM messagebus_global_backlog gb
		JOIN messagebus_channel_backlog cb
		  ON cb.channel = gb.channel AND cb.message_id = gb.message_id
		WHERE gb.global_id > $1
		ORDER BY gb.global_id ASC
	`, afterGlobalID)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return scanEncoded(rows)
}

func scanEncoded(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]message.Message, error) {
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return nil, wrapUnavailable(err)
		}
		m, err := message.Decode(encoded)
		if err != nil {
			log.Warn().Err(err).Msg("postgres backend: skipping malformed backlog row")
			continue
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return msgs, nil
}

// GetMessage implements backend.Backend.
func (b *Backend) GetMessage(ctx context.Context, channel string, messageID uint64) (message.Message, bool, error) {
	var encoded []byte
	err := b.pool.QueryRow(ctx, `
		SELECT encoded FROM messagebus_channel_backlog WHERE channel = $1 AND message_id = $2
	`, channel, messageID).Scan(&encoded)
	if err != nil {
		if isNoRows(err) {
			return message.Message{}, false, nil
		}
		return message.Message{}, false, wrapUnavailable(err)
	}

	m, err := message.Decode(encoded)
	if err != nil {
		return message.Message{}, false, nil
	}
	return m, true, nil
}

var _ backend.Backend = (*Backend)(nil)

package postgresbackend

import "context"

// notifyChannel is the fixed NOTIFY channel name every process LISTENs on;
// it stands in for the shared-store backend's fan-out channel (§4.12).
const notifyChannel = "messagebus_events"

// globalCounterName is reserved in messagebus_counters; per-channel rows
// use the "channel:" prefix below so a channel literally named
// "__global__" can never collide with it.
const globalCounterName = "__global__"

func channelCounterName(channel string) string {
	return "channel:" + channel
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS messagebus_counters (
	name  text PRIMARY KEY,
	value bigint NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messagebus_channel_backlog (
	channel    text NOT NULL,
	message_id bigint NOT NULL,
	global_id  bigint NOT NULL,
	encoded    bytea NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (channel, message_id)
);

CREATE TABLE IF NOT EXISTS messagebus_global_backlog (
	global_id  bigint PRIMARY KEY,
	channel    text NOT NULL,
	message_id bigint NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messagebus_channel_backlog_created_at_idx
	ON messagebus_channel_backlog (channel, created_at);
`

func (b *Backend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, schemaDDL)
	return err
}

// Package backend declares the store-agnostic contract every message bus
// storage implementation satisfies (§4.1): the canonical shared-store
// (Redis-compatible) backend, a relational backend over PostgreSQL, and an
// in-memory backend for tests and dependency-free single instances.
package backend

import (
	"context"

	"github.com/yousty/message-bus/internal/message"
)

// Handler is invoked once per delivered message on a Subscribe or
// GlobalSubscribe stream. Returning an error does not stop the stream; it
// is logged by the backend and delivery continues with the next message.
type Handler func(message.Message) error

// PublishOptions is the closed set of options recognized by Publish (§4.1,
// §4.3). Zero values mean "use the backend's configured defaults".
type PublishOptions struct {
	MaxBacklogAge  int64 // seconds; 0 means use the backend default
	MaxBacklogSize uint64
	SiteID         string
	UserIDs        []string
	GroupIDs       []string
	ClientIDs      []string

	// QueueInMemory is part of the recognized option set. None of the
	// backends in this module buffer publishes in process memory: each
	// ignores the flag, and a publish against an unreachable store fails
	// the caller immediately.
	QueueInMemory bool
}

// Backend is the abstract store contract described in §4.1. Every method
// may fail with ErrBackendUnavailable; otherwise behavior is as documented
// on each method.
type Backend interface {
	// Publish atomically allocates a global_id and a per-channel
	// message_id, persists the message to both backlogs, publishes it on
	// the fan-out channel, and conditionally trims. It returns the
	// assigned per-channel message_id.
	Publish(ctx context.Context, channel string, data []byte, opts PublishOptions) (uint64, error)

	// LastID returns the last assigned message_id for channel, or 0 if the
	// channel has never been published to.
	LastID(ctx context.Context, channel string) (uint64, error)

	// LastIDs returns LastID for each channel, in the same order.
	LastIDs(ctx context.Context, channels []string) ([]uint64, error)

	// Backlog returns messages on channel with message_id > afterID, in
	// ascending order.
	Backlog(ctx context.Context, channel string, afterID uint64) ([]message.Message, error)

	// GlobalBacklog returns messages across all channels with global_id >
	// afterGlobalID, in ascending order. Entries whose per-channel record
	// has since been trimmed are omitted.
	GlobalBacklog(ctx context.Context, afterGlobalID uint64) ([]message.Message, error)

	// GetMessage returns a single message by (channel, message_id), or
	// found=false if it does not exist or has been trimmed.
	GetMessage(ctx context.Context, channel string, messageID uint64) (msg message.Message, found bool, err error)

	// Subscribe delivers every future message on channel to handler, in
	// message_id order, starting with any retained backlog after afterID.
	// It blocks until ctx is cancelled or GlobalUnsubscribe is called.
	Subscribe(ctx context.Context, channel string, afterID uint64, handler Handler) error

	// GlobalSubscribe is the authoritative delivery stream: every message
	// across every channel, in global_id order, starting with any
	// retained backlog after afterGlobalID. It blocks until ctx is
	// cancelled or GlobalUnsubscribe is called.
	GlobalSubscribe(ctx context.Context, afterGlobalID uint64, handler Handler) error

	// GlobalUnsubscribe unblocks a currently running GlobalSubscribe by
	// sending a distinguished sentinel through the fan-out channel.
	GlobalUnsubscribe(ctx context.Context) error

	// Reset drops all backlogs and counters. Intended for tests.
	Reset(ctx context.Context) error

	// ExpireAllBacklogs immediately drops every backlog without waiting
	// for the age bound, leaving counters intact.
	ExpireAllBacklogs(ctx context.Context) error

	// AfterFork re-establishes backend connections after a process fork.
	AfterFork(ctx context.Context) error

	// Destroy releases all resources held by the backend.
	Destroy(ctx context.Context) error

	// IsReadOnly reports whether the backing store is currently read-only
	// (e.g. a Redis replica that the primary has failed over to).
	IsReadOnly(ctx context.Context) (bool, error)
}

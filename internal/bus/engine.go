// Package bus implements the in-process reliable-pubsub engine (§4.3): the
// per-process subscriber registry, the blocking wait-for-messages
// primitive, filter dispatch, and the Client Session / Identity Hooks /
// Reliable-PubSub Loop that sit around it.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
	"github.com/yousty/message-bus/internal/observability"
)

// Engine holds the backend instance, the subscriber registry, the filter
// chain, identity hooks, and lifecycle state (§4.3).
type Engine struct {
	backend backend.Backend
	hooks   IdentityHooks
	filters *FilterChain
	log     zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	byChan   map[string]map[uint64]*localSub
	wildcard map[uint64]*localSub
	nextSub  uint64

	stopped   chan struct{}
	stopOnce  sync.Once
}

// localSub is one registered in-process listener, installed either by
// WaitForMessages (one per blocked long-poll) or directly via
// LocalSubscribe (used by tests and non-HTTP consumers).
type localSub struct {
	id      uint64
	channel string // "" means the global wildcard set
	handler func(message.Message)
}

// Subscription is the handle returned by LocalSubscribe, usable with
// LocalUnsubscribe.
type Subscription struct {
	id      uint64
	channel string
}

// NewEngine constructs an Engine around a ready backend.
func NewEngine(b backend.Backend, hooks IdentityHooks, filters *FilterChain, log zerolog.Logger) *Engine {
	if filters == nil {
		filters = NewFilterChain()
	}
	return &Engine{
		backend:  b,
		hooks:    hooks,
		filters:  filters,
		log:      log,
		byChan:   make(map[string]map[uint64]*localSub),
		wildcard: make(map[uint64]*localSub),
		stopped:  make(chan struct{}),
	}
}

// SetMetrics attaches the Prometheus series that Publish, LocalSubscribe,
// LocalUnsubscribe and the reliable-pubsub Loop record into.
// Optional; an Engine with no metrics attached behaves identically,
// skipping every recording call.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// namespaceChannel applies the site namespacing rule from §4.3: when
// siteID is set, the channel is rewritten to "/siteid/<site_id><channel>"
// before it ever reaches the backend.
func namespaceChannel(channel, siteID string) string {
	if siteID == "" {
		return channel
	}
	return fmt.Sprintf("/siteid/%s%s", siteID, channel)
}

// Publish implements the Publish API (§4.3): constructs the Message via
// the backend and returns the assigned per-channel message_id.
func (e *Engine) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (uint64, error) {
	target := namespaceChannel(channel, opts.SiteID)

	if ro, err := e.backend.IsReadOnly(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.RecordBackendError("publish")
		}
		return 0, err
	} else if ro {
		if e.metrics != nil {
			e.metrics.RecordBackendError("publish")
		}
		return 0, backend.ErrBackendReadOnly
	}

	start := time.Now()
	id, err := e.backend.Publish(ctx, target, data, opts)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordBackendError("publish")
		}
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.RecordPublish(channel, time.Since(start))
	}
	return id, nil
}

// LocalSubscribe registers an in-process listener that receives every
// message delivered via the reliable-pubsub loop matching channel. An
// empty channel subscribes to every channel (the global wildcard set).
func (e *Engine) LocalSubscribe(channel string, handler func(message.Message)) *Subscription {
	id := atomic.AddUint64(&e.nextSub, 1)
	sub := &localSub{id: id, channel: channel, handler: handler}

	e.mu.Lock()
	if channel == "" {
		e.wildcard[id] = sub
	} else {
		if e.byChan[channel] == nil {
			e.byChan[channel] = make(map[uint64]*localSub)
		}
		e.byChan[channel][id] = sub
	}
	count := len(e.byChan[channel])
	e.mu.Unlock()

	if channel != "" && e.metrics != nil {
		e.metrics.SetSubscribers(channel, count)
	}

	return &Subscription{id: id, channel: channel}
}

// LocalUnsubscribe removes a subscription installed by LocalSubscribe.
func (e *Engine) LocalUnsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	e.mu.Lock()
	if sub.channel == "" {
		delete(e.wildcard, sub.id)
		e.mu.Unlock()
		return
	}
	var count int
	if set, ok := e.byChan[sub.channel]; ok {
		delete(set, sub.id)
		count = len(set)
		if count == 0 {
			delete(e.byChan, sub.channel)
		}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetSubscribers(sub.channel, count)
	}
}

// Dispatch runs the server-filter step and then fans the message out to
// every matching local subscriber (§4.3 step 1; steps 2-3 run per-session
// inside WaitForMessages/Session, since they depend on each session's
// identity). Called exclusively by the reliable-pubsub loop.
func (e *Engine) Dispatch(m message.Message) {
	filtered, ok := e.filters.ApplyServer(m)
	if !ok {
		return
	}

	e.mu.Lock()
	recipients := make([]*localSub, 0, len(e.wildcard))
	for _, sub := range e.wildcard {
		recipients = append(recipients, sub)
	}
	if set, ok := e.byChan[filtered.Channel]; ok {
		for _, sub := range set {
			recipients = append(recipients, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range recipients {
		sub.handler(filtered)
	}
}

// Backend exposes the underlying backend for the reliable-pubsub loop and
// for diagnostics; it is not part of the public contract callers should
// depend on beyond that.
func (e *Engine) Backend() backend.Backend {
	return e.backend
}

// Filters exposes the filter chain for registration at construction time.
func (e *Engine) Filters() *FilterChain {
	return e.filters
}

// Identity resolves request identity using the configured hooks.
func (e *Engine) Identity() IdentityHooks {
	return e.hooks
}

// Stopping reports whether Shutdown has been called; WaitForMessages uses
// this to satisfy the "engine is stopping" wake condition (§4.3).
func (e *Engine) Stopping() <-chan struct{} {
	return e.stopped
}

// AfterFork re-establishes backend connections after a process fork
// (§4.3). The reliable-pubsub loop itself is restarted by its owner (the
// entrypoint), since the Engine does not own the loop's goroutine.
func (e *Engine) AfterFork(ctx context.Context) error {
	return e.backend.AfterFork(ctx)
}

// Shutdown marks the engine as stopping, waking every blocked
// WaitForMessages call so in-flight long-polls can return promptly.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Log exposes the engine's logger to collaborators constructed alongside
// it (the HTTP handler, the reliable-pubsub loop).
func (e *Engine) Log() zerolog.Logger {
	return e.log
}

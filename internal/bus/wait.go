package bus

import (
	"context"
	"sync"
	"time"

	"github.com/yousty/message-bus/internal/message"
)

// WaitForMessages implements the blocking wait primitive (§4.3): it
// suspends until a message arrives on one of the watched channels above
// its cursor, the timeout elapses, or the engine is stopping.
//
// cursors keys are raw (un-namespaced) channel names, matching what a
// Session carries; identity.SiteID (if set) is applied before watching.
func (e *Engine) WaitForMessages(ctx context.Context, identity Identity, cursors map[string]uint64, timeout time.Duration) ([]message.Message, error) {
	if len(cursors) == 0 {
		return nil, nil
	}

	namespacedCursors := make(map[string]uint64, len(cursors))
	rawByNamespaced := make(map[string]string, len(cursors))
	for raw, after := range cursors {
		namespaced := namespaceChannel(raw, identity.SiteID)
		namespacedCursors[namespaced] = after
		rawByNamespaced[namespaced] = raw
	}

	var mu sync.Mutex
	var results []message.Message
	woke := make(chan struct{}, 1)
	signal := func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	}

	subs := make([]*Subscription, 0, len(namespacedCursors))
	for channel, after := range namespacedCursors {
		raw := rawByNamespaced[channel]
		sub := e.LocalSubscribe(channel, func(m message.Message) {
			if m.MessageID <= after {
				return
			}
			m.Channel = raw
			mu.Lock()
			results = append(results, m)
			mu.Unlock()
			signal()
		})
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			e.LocalUnsubscribe(sub)
		}
	}()

	// Re-check the backlog now that subscriptions are registered. This
	// closes the race window between the caller's initial catch-up read
	// and subscription here: a publish landing in that window would
	// otherwise be missed by both paths.
	for channel, after := range namespacedCursors {
		backlog, err := e.backend.Backlog(ctx, channel, after)
		if err != nil {
			return nil, err
		}
		if len(backlog) > 0 {
			raw := rawByNamespaced[channel]
			for _, m := range backlog {
				m.Channel = raw
				mu.Lock()
				results = append(results, m)
				mu.Unlock()
			}
		}
	}

	mu.Lock()
	already := len(results) > 0
	mu.Unlock()

	if !already {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-woke:
		case <-timer.C:
		case <-ctx.Done():
		case <-e.stopped:
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return dedupByChannelAndID(results), nil
}

// dedupByChannelAndID drops duplicate (channel, message_id) pairs, keeping
// the first occurrence. The backlog re-check and a concurrent live
// dispatch can otherwise both deliver the same message.
func dedupByChannelAndID(msgs []message.Message) []message.Message {
	if len(msgs) < 2 {
		return msgs
	}
	type key struct {
		channel string
		id      uint64
	}
	seen := make(map[key]struct{}, len(msgs))
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		k := key{m.Channel, m.MessageID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

package redisbackend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

// Subscribe implements backend.Backend by delegating to GlobalSubscribe and
// filtering to the requested channel. afterID is translated to a global_id
// via GetMessage on a best-effort basis: if the message has since been
// trimmed, afterID is used directly as a global cursor, which at worst
// replays a handful of already-seen messages on other channels (harmless,
// since they are filtered out here) -- see DESIGN.md's Open Question notes.
func (r *Backend) Subscribe(ctx context.Context, channel string, afterID uint64, handler backend.Handler) error {
	afterGlobalID := afterID
	if afterID > 0 {
		if m, found, err := r.GetMessage(ctx, channel, afterID); err == nil && found {
			afterGlobalID = m.GlobalID
		}
	}

	return r.GlobalSubscribe(ctx, afterGlobalID, func(m message.Message) error {
		if m.Channel != channel {
			return nil
		}
		return handler(m)
	})
}

// GlobalSubscribe implements backend.Backend's authoritative delivery
// stream per the catch-up/live-handoff algorithm in §4.2.
func (r *Backend) GlobalSubscribe(ctx context.Context, afterGlobalID uint64, handler backend.Handler) error {
	highestID := afterGlobalID
	for {
		done, err := r.globalSubscribeOnce(ctx, &highestID, handler)
		if done {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Msg("redis backend: global subscribe lost connection, reconnecting")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// globalSubscribeOnce runs one connection's worth of the subscribe loop.
// done=true means the caller should stop retrying (clean unsubscribe, or
// context cancellation); done=false means reconnect after the backoff.
func (r *Backend) globalSubscribeOnce(ctx context.Context, highestID *uint64, handler backend.Handler) (done bool, err error) {
	if err := r.catchUp(ctx, highestID, handler); err != nil {
		return false, err
	}

	sub := r.client.Subscribe(ctx, r.fanout)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}

	// Catch up again to close the race window between the first catch-up
	// read and the subscription actually taking effect.
	if err := r.catchUp(ctx, highestID, handler); err != nil {
		return false, err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return false, errors.New("redis backend: subscription channel closed")
			}
			if raw.Payload == unsubSentinel {
				return true, nil
			}

			m, err := message.Decode([]byte(raw.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("redis backend: malformed message on fan-out channel")
				continue
			}

			if m.GlobalID == *highestID+1 {
				*highestID = m.GlobalID
				if err := handler(m); err != nil {
					log.Warn().Err(err).Msg("redis backend: global subscribe handler returned an error")
				}
			} else if err := r.catchUp(ctx, highestID, handler); err != nil {
				return false, err
			}
		}
	}
}

// GlobalUnsubscribe implements backend.Backend by publishing a sentinel
// that every running GlobalSubscribe recognizes and exits on.
func (r *Backend) GlobalUnsubscribe(ctx context.Context) error {
	return wrapUnavailable(r.client.Publish(ctx, r.fanout, unsubSentinel).Err())
}

// catchUp runs process_global_backlog with up to 4 attempts: the first 3
// raise on a detected gap (sleeping a random 0-50ms before retrying), and
// the last is tolerant, dispatching past any remaining gap so the loop
// always terminates.
func (r *Backend) catchUp(ctx context.Context, highestID *uint64, handler backend.Handler) error {
	for attempt := 0; attempt < 4; attempt++ {
		raiseOnGap := attempt < 3

		newHigh, err := r.processGlobalBacklog(ctx, *highestID, raiseOnGap, handler)
		if err == nil {
			*highestID = newHigh
			return nil
		}
		if !errors.Is(err, backend.ErrBacklogOutOfOrder) {
			return err
		}

		select {
		case <-time.After(time.Duration(rand.Intn(50)) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil // unreachable: the final attempt never raises
}

// processGlobalBacklog walks the global backlog strictly after h, dispatching
// contiguous messages and advancing h. If the store's counter is behind h
// (the store was reset), it restarts from the beginning.
func (r *Backend) processGlobalBacklog(ctx context.Context, h uint64, raiseOnGap bool, handler backend.Handler) (uint64, error) {
	lastGlobalID, err := r.counter(ctx, globalIDCounterKey)
	if err != nil {
		return h, err
	}
	if h > lastGlobalID {
		h = 0
	}

	msgs, err := r.GlobalBacklog(ctx, h)
	if err != nil {
		return h, err
	}

	for _, m := range msgs {
		switch {
		case m.GlobalID == h+1:
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("redis backend: global subscribe handler returned an error")
			}
			h = m.GlobalID
		case raiseOnGap:
			return h, fmt.Errorf("%w: expected global_id %d, got %d", backend.ErrBacklogOutOfOrder, h+1, m.GlobalID)
		case m.GlobalID > h:
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("redis backend: global subscribe handler returned an error")
			}
			h = m.GlobalID
		}
	}
	return h, nil
}

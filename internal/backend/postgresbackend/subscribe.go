package postgresbackend

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

// unsubSentinel is NOTIFYed to unblock a running GlobalSubscribe, mirroring
// the shared-store backend's fan-out sentinel.
const unsubSentinel = "$$MESSAGE_BUS_UNSUBSCRIBE$$"

// Subscribe implements backend.Backend by delegating to GlobalSubscribe and
// filtering to the requested channel, exactly as the shared-store backend
// does -- see its comment for the afterID-to-global_id translation.
func (b *Backend) Subscribe(ctx context.Context, channel string, afterID uint64, handler backend.Handler) error {
	afterGlobalID := afterID
	if afterID > 0 {
		if m, found, err := b.GetMessage(ctx, channel, afterID); err == nil && found {
			afterGlobalID = m.GlobalID
		}
	}

	return b.GlobalSubscribe(ctx, afterGlobalID, func(m message.Message) error {
		if m.Channel != channel {
			return nil
		}
		return handler(m)
	})
}

// GlobalSubscribe implements backend.Backend using PostgreSQL LISTEN/NOTIFY
// in place of the shared-store backend's fan-out channel, but the same
// catch-up/live-handoff algorithm (§4.2) driving delivery order.
func (b *Backend) GlobalSubscribe(ctx context.Context, afterGlobalID uint64, handler backend.Handler) error {
	highestID := afterGlobalID
	for {
		done, err := b.globalSubscribeOnce(ctx, &highestID, handler)
		if done {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Msg("postgres backend: global subscribe lost connection, reconnecting")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Backend) globalSubscribeOnce(ctx context.Context, highestID *uint64, handler backend.Handler) (done bool, err error) {
	if err := b.catchUp(ctx, highestID, handler); err != nil {
		return false, err
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return false, err
	}

	if err := b.catchUp(ctx, highestID, handler); err != nil {
		return false, err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return false, err
		}

		if notification.Payload == unsubSentinel {
			return true, nil
		}

		m, err := message.Decode([]byte(notification.Payload))
		if err != nil {
			log.Warn().Err(err).Msg("postgres backend: malformed message on NOTIFY channel")
			continue
		}

		if m.GlobalID == *highestID+1 {
			*highestID = m.GlobalID
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("postgres backend: global subscribe handler returned an error")
			}
		} else if err := b.catchUp(ctx, highestID, handler); err != nil {
			return false, err
		}
	}
}

// GlobalUnsubscribe implements backend.Backend.
func (b *Backend) GlobalUnsubscribe(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, unsubSentinel)
	return wrapUnavailable(err)
}

// catchUp mirrors the shared-store backend's gap-retry algorithm exactly:
// up to 3 attempts raise on a detected gap and retry after a short random
// sleep, and the final attempt tolerates any remaining gap.
func (b *Backend) catchUp(ctx context.Context, highestID *uint64, handler backend.Handler) error {
	for attempt := 0; attempt < 4; attempt++ {
		raiseOnGap := attempt < 3

		newHigh, err := b.processGlobalBacklog(ctx, *highestID, raiseOnGap, handler)
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
	return nil
}

func (b *Backend) processGlobalBacklog(ctx context.Context, h uint64, raiseOnGap bool, handler backend.Handler) (uint64, error) {
	lastGlobalID, err := b.counter(ctx, globalCounterName)
	if err != nil {
		return h, err
	}
	if h > lastGlobalID {
		h = 0
	}

	msgs, err := b.GlobalBacklog(ctx, h)
	if err != nil {
		return h, err
	}

	for _, m := range msgs {
		switch {
		case m.GlobalID == h+1:
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("postgres backend: global subscribe handler returned an error")
			}
			h = m.GlobalID
		case raiseOnGap:
			return h, fmt.Errorf("%w: expected global_id %d, got %d", backend.ErrBacklogOutOfOrder, h+1, m.GlobalID)
		case m.GlobalID > h:
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("postgres backend: global subscribe handler returned an error")
			}
			h = m.GlobalID
		}
	}
	return h, nil
}

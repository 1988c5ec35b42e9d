package bus

import (
	"context"
	"sync"

	"github.com/yousty/message-bus/internal/message"
)

// Loop is the single background task per process that bridges
// Backend.GlobalSubscribe into Engine.Dispatch (§4.7). The backend's own
// GlobalSubscribe implementation already owns the 1-second retry-forever
// behavior on connection loss; Loop's job is simply to run it, and to
// unwind it cleanly on Stop.
type Loop struct {
	engine *Engine

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewLoop constructs a Loop bound to engine. Call Start to begin
// delivering.
func NewLoop(engine *Engine) *Loop {
	return &Loop{engine: engine}
}

// Start launches the background goroutine. afterGlobalID is the cursor to
// resume from; a fresh process normally passes 0, since per-session
// catch-up (Session.catchUp) reads the backend directly and does not
// depend on the loop having replayed history.
func (l *Loop) Start(afterGlobalID uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		err := l.engine.backend.GlobalSubscribe(ctx, afterGlobalID, func(m message.Message) error {
			if l.engine.metrics != nil {
				l.engine.metrics.SetGlobalID(m.GlobalID)
			}
			l.engine.Dispatch(m)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			l.engine.log.Error().Err(err).Msg("reliable-pubsub loop exited unexpectedly")
		}
	}()
}

// Stop unblocks the running GlobalSubscribe via GlobalUnsubscribe and
// waits for the goroutine to return (§4.7: "on engine shutdown it calls
// backend.global_unsubscribe() and joins").
func (l *Loop) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.once.Do(func() {
		_ = l.engine.backend.GlobalUnsubscribe(ctx)
	})
	select {
	case <-l.done:
	case <-ctx.Done():
		l.cancel()
		<-l.done
	}
	return nil
}

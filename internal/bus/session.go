package bus

import (
	"context"
	"sort"
	"time"

	"github.com/yousty/message-bus/internal/message"
)

// Session represents one long-poll request's state (§4.4): identity,
// per-channel cursors, the long-poll deadline, and the streaming flag. It
// is owned by the HTTP handler that creates it and discarded when the
// response completes.
type Session struct {
	engine     *Engine
	Identity   Identity
	Cursors    map[string]uint64
	Deadline   time.Time
	Streaming  bool
	SinceEpoch string
}

// NewSession builds a Session from already-parsed request state. The HTTP
// handler is responsible for the actual parsing (§4.5/§6).
func NewSession(engine *Engine, identity Identity, cursors map[string]uint64, deadline time.Time, streaming bool, sinceEpoch string) *Session {
	return &Session{
		engine:     engine,
		Identity:   identity,
		Cursors:    cursors,
		Deadline:   deadline,
		Streaming:  streaming,
		SinceEpoch: sinceEpoch,
	}
}

// Collect runs the Session lifecycle (§4.4 steps 2-4): an initial
// catch-up read against the backend; if that comes back empty and there
// is something to watch, it blocks in the Engine until woken or timed
// out. The returned messages have already passed server filters (applied
// at dispatch time, long before they reach here) and are run through the
// session-visibility check and client filters before being returned.
func (s *Session) Collect(ctx context.Context) ([]message.Message, error) {
	caughtUp, err := s.catchUp(ctx)
	if err != nil {
		return nil, err
	}
	if len(caughtUp) > 0 || len(s.Cursors) == 0 {
		return s.filterVisible(caughtUp), nil
	}

	timeout := time.Until(s.Deadline)
	if timeout < 0 {
		timeout = 0
	}
	waited, err := s.engine.WaitForMessages(ctx, s.Identity, s.Cursors, timeout)
	if err != nil {
		return nil, err
	}
	return s.filterVisible(waited), nil
}

func (s *Session) catchUp(ctx context.Context) ([]message.Message, error) {
	var out []message.Message
	for channel, after := range s.Cursors {
		target := namespaceChannel(channel, s.Identity.SiteID)
		msgs, err := s.engine.backend.Backlog(ctx, target, after)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			m.Channel = channel
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID < out[j].GlobalID })
	return out, nil
}

// filterVisible applies the session-visibility check and client filters
// (§4.3 steps 2-3) to every message, dropping any that fail either.
func (s *Session) filterVisible(msgs []message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.VisibleTo(s.Identity.UserID, s.Identity.GroupIDs, s.Identity.ClientID, s.Identity.SiteID) {
			continue
		}
		filtered, ok := s.engine.filters.ApplyClient(m, s.Identity)
		if !ok {
			continue
		}
		out = append(out, filtered)
	}
	return out
}

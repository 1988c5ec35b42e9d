package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yousty/message-bus/internal/bus"
	"github.com/yousty/message-bus/internal/message"
)

// streamBoundary separates consecutive chunks in a streaming response. A
// client reading the chunked body splits on this token the same way it
// would split on the newline in the wire format (§6).
const streamBoundary = "\n--messagebus--\n"

// handlePoll implements the main long-poll endpoint (§4.5): POST or GET
// /<base>/<client_id>/poll. It builds a Session from the request and
// either returns its result directly or, in streaming mode, keeps the
// connection open and emits one chunk per catch-up/wait cycle until the
// long-poll deadline.
func (s *Server) handlePoll(c *fiber.Ctx) error {
	clientID := c.Params("client_id")
	if clientID == "" {
		return sendError(c, fiber.StatusBadRequest, "CLIENT_ERROR", "client_id is required")
	}

	cursors, err := parseCursors(c)
	if err != nil {
		return sendError(c, fiber.StatusBadRequest, "CLIENT_ERROR", err.Error())
	}

	identity := s.engine.Identity().Resolve(c)
	identity.ClientID = clientID

	deadline := time.Now().Add(s.cfg.Bus.LongPollTimeout)

	if !isStreamingRequest(c) {
		return s.respondOnce(c, identity, cursors, deadline)
	}
	return s.respondStreaming(c, identity, cursors, deadline)
}

func isStreamingRequest(c *fiber.Ctx) bool {
	switch c.Get("X-MessageBus-Stream") {
	case "1", "true":
		return true
	}
	switch c.Query("__stream") {
	case "1", "true":
		return true
	}
	return false
}

// respondOnce runs a single Session lifecycle and emits it as one JSON
// array, empty on timeout (the non-streaming keepalive case, §4.5).
func (s *Server) respondOnce(c *fiber.Ctx, identity bus.Identity, cursors map[string]uint64, deadline time.Time) error {
	var done func(string)
	if s.metrics != nil {
		done = s.metrics.LongpollStarted()
	}

	session := bus.NewSession(s.engine, identity, cursors, deadline, false, "")
	msgs, err := session.Collect(c.Context())
	if err != nil {
		if done != nil {
			done("error")
		}
		logger := s.engine.Log()
		logger.Error().Err(err).Str("client_id", identity.ClientID).Msg("long-poll collect failed")
		return sendError(c, fiber.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "backend unavailable")
	}

	if done != nil {
		if len(msgs) > 0 {
			done("messages")
		} else {
			done("timeout")
		}
	}
	return c.JSON(toWireSlice(msgs))
}

// respondStreaming holds the connection open, running repeated Session
// cycles bounded by the keepalive interval and emitting one chunk per
// cycle, until the overall long-poll deadline is reached. Each chunk
// advances the caller's cursors so a later cycle's catch-up read does not
// redeliver what an earlier chunk already sent.
func (s *Server) respondStreaming(c *fiber.Ctx, identity bus.Identity, cursors map[string]uint64, deadline time.Time) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	c.Status(fiber.StatusOK)

	keepalive := s.cfg.Bus.KeepaliveInterval
	engine := s.engine

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for {
			now := time.Now()
			if !now.Before(deadline) {
				return
			}
			cycleDeadline := now.Add(keepalive)
			if cycleDeadline.After(deadline) {
				cycleDeadline = deadline
			}

			// The stream writer runs past the handler's return on its
			// own goroutine, so it cannot rely on the request's Context
			// surviving; cycleDeadline already bounds how long Collect
			// may block.
			session := bus.NewSession(engine, identity, cursors, cycleDeadline, true, "")
			msgs, err := session.Collect(context.Background())
			if err != nil {
				logger := engine.Log()
				logger.Error().Err(err).Str("client_id", identity.ClientID).Msg("streaming long-poll collect failed")
				return
			}

			encoded, err := json.Marshal(toWireSlice(msgs))
			if err != nil {
				logger := engine.Log()
				logger.Error().Err(err).Msg("failed to encode streamed chunk")
				return
			}
			if _, err := w.Write(encoded); err != nil {
				return
			}
			if _, err := w.WriteString(streamBoundary); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			for _, m := range msgs {
				if m.MessageID > cursors[m.Channel] {
					cursors[m.Channel] = m.MessageID
				}
			}
		}
	})
	return nil
}

func toWireSlice(msgs []message.Message) []message.WireJSON {
	out := make([]message.WireJSON, len(msgs))
	for i, m := range msgs {
		out[i] = message.ToWireJSON(m)
	}
	return out
}

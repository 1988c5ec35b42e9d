package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// reservedParams are request parameter names that never name a channel
// cursor (§6): they are consumed by the handler itself. __seq is the
// client's own dedup counter; __stream selects streaming mode when set
// via query string rather than the X-MessageBus-Stream header (§4.5
// leaves the exact selection mechanism to the implementation).
var reservedParams = map[string]bool{
	"__seq":    true,
	"__stream": true,
}

// parseCursors builds the channel -> last_seen_id map from the request
// body (POST, JSON or form-urlencoded) or query string (GET), per §6.
// Any non-integer cursor value is a ClientError (400), never retried.
func parseCursors(c *fiber.Ctx) (map[string]uint64, error) {
	if c.Method() == fiber.MethodGet {
		return parseCursorArgs(c.Context().QueryArgs())
	}

	contentType := c.Get(fiber.HeaderContentType)
	if len(contentType) >= len(fiber.MIMEApplicationJSON) && contentType[:len(fiber.MIMEApplicationJSON)] == fiber.MIMEApplicationJSON {
		var raw map[string]json.Number
		if err := json.Unmarshal(c.Body(), &raw); err != nil {
			return nil, fmt.Errorf("malformed JSON cursor map: %w", err)
		}
		cursors := make(map[string]uint64, len(raw))
		for channel, n := range raw {
			if reservedParams[channel] {
				continue
			}
			id, err := strconv.ParseUint(n.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cursor for channel %q is not a non-negative integer", channel)
			}
			cursors[channel] = id
		}
		return cursors, nil
	}

	return parseCursorArgs(c.Context().PostArgs())
}

// argsVisitor is satisfied by both fasthttp's *Args types (query and post),
// letting parseCursorArgs handle GET and form-encoded POST identically.
type argsVisitor interface {
	VisitAll(f func(key, value []byte))
}

func parseCursorArgs(args argsVisitor) (map[string]uint64, error) {
	cursors := make(map[string]uint64)
	var parseErr error
	args.VisitAll(func(key, value []byte) {
		if parseErr != nil {
			return
		}
		channel := string(key)
		if reservedParams[channel] {
			return
		}
		id, err := strconv.ParseUint(string(value), 10, 64)
		if err != nil {
			parseErr = fmt.Errorf("cursor for channel %q is not a non-negative integer", channel)
			return
		}
		cursors[channel] = id
	})
	return cursors, parseErr
}

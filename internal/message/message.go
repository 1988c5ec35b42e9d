// Package message defines the wire-level Message record shared by every
// backend implementation and the HTTP boundary.
package message

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
)

// Message is an immutable record carrying a publish's identity, channel,
// and payload. GlobalID is monotonic across the whole bus; MessageID is
// monotonic per Channel. Messages are never mutated after Decode/publish;
// filters that need to change a Message produce a new value.
type Message struct {
	GlobalID  uint64
	MessageID uint64
	Channel   string
	Data      []byte

	UserIDs   []string
	GroupIDs  []string
	ClientIDs []string
	SiteID    string
}

// Clone returns a deep copy safe for filters to mutate.
func (m Message) Clone() Message {
	c := m
	c.Data = append([]byte(nil), m.Data...)
	c.UserIDs = append([]string(nil), m.UserIDs...)
	c.GroupIDs = append([]string(nil), m.GroupIDs...)
	c.ClientIDs = append([]string(nil), m.ClientIDs...)
	return c
}

// VisibleTo reports whether the message's allow-sets permit delivery to the
// given identity, per the session-visibility rule in the bus engine's
// filter pipeline: empty allow-sets mean "no scoping on this dimension".
func (m Message) VisibleTo(userID string, groupIDs []string, clientID, siteID string) bool {
	if m.SiteID != "" && m.SiteID != siteID {
		return false
	}
	if len(m.UserIDs) > 0 && !contains(m.UserIDs, userID) {
		return false
	}
	if len(m.ClientIDs) > 0 && !contains(m.ClientIDs, clientID) {
		return false
	}
	if len(m.GroupIDs) > 0 && !anyIntersect(m.GroupIDs, groupIDs) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Encode renders the message using the wire format defined by the
// contract: a header line "global_id|message_id|channel" followed by "\n"
// followed by the raw payload bytes. Only the first newline is significant,
// so payloads may themselves contain newlines.
//
// When a message carries scoping (UserIDs/GroupIDs/ClientIDs/SiteID), a
// fourth "|"-separated field is appended to the header holding those sets
// URL-encoded. Unscoped messages, the overwhelming majority, keep the
// exact three-field header; the fourth field exists only so that a
// Redis/Postgres-backed backend's catch-up and live paths see the same
// scoping a caller published with, rather than silently dropping it on
// the one backend (memory) that happens to hold onto the Go struct.
func Encode(m Message) []byte {
	header := fmt.Sprintf("%d|%d|%s", m.GlobalID, m.MessageID, m.Channel)
	if scope := EncodeScope(m.UserIDs, m.GroupIDs, m.ClientIDs, m.SiteID); scope != "" {
		header += "|" + scope
	}
	buf := make([]byte, 0, len(header)+1+len(m.Data))
	buf = append(buf, header...)
	buf = append(buf, '\n')
	buf = append(buf, m.Data...)
	return buf
}

// Decode parses the wire format produced by Encode. It returns
// ErrMalformed if the buffer has no header line or the header does not
// have at least three "|"-separated fields.
func Decode(raw []byte) (Message, error) {
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return Message{}, fmt.Errorf("%w: missing header separator", ErrMalformed)
	}
	header := raw[:idx]
	payload := raw[idx+1:]

	// A channel name containing "|" is ambiguous once a fourth field is
	// possible; channels are path-like ("/chat", "/orders/42") and are
	// not expected to contain "|" in practice.
	parts := bytes.SplitN(header, []byte{'|'}, 4)
	if len(parts) < 3 {
		return Message{}, fmt.Errorf("%w: expected at least 3 header fields, got %d", ErrMalformed, len(parts))
	}

	globalID, err := strconv.ParseUint(string(parts[0]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: invalid global_id: %v", ErrMalformed, err)
	}
	messageID, err := strconv.ParseUint(string(parts[1]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: invalid message_id: %v", ErrMalformed, err)
	}

	m := Message{
		GlobalID:  globalID,
		MessageID: messageID,
		Channel:   string(parts[2]),
		Data:      append([]byte{}, payload...),
	}
	if len(parts) == 4 {
		decodeScope(string(parts[3]), &m)
	}
	return m, nil
}

// EncodeScope renders the optional scoping fields as a single "|"-safe
// token using url.Values, so it composes with the "|"-delimited header
// without needing its own escaping rules. It is exported so backends that
// assign global_id/message_id server-side (the Redis Lua script, the
// Postgres upsert) can precompute the scope token in Go and pass it down
// as an opaque argument rather than reimplementing the encoding.
func EncodeScope(userIDs, groupIDs, clientIDs []string, siteID string) string {
	if len(userIDs) == 0 && len(groupIDs) == 0 && len(clientIDs) == 0 && siteID == "" {
		return ""
	}
	v := url.Values{}
	for _, id := range userIDs {
		v.Add("u", id)
	}
	for _, id := range groupIDs {
		v.Add("g", id)
	}
	for _, id := range clientIDs {
		v.Add("c", id)
	}
	if siteID != "" {
		v.Set("s", siteID)
	}
	return v.Encode()
}

func decodeScope(raw string, m *Message) {
	v, err := url.ParseQuery(raw)
	if err != nil {
		return
	}
	m.UserIDs = v["u"]
	m.GroupIDs = v["g"]
	m.ClientIDs = v["c"]
	m.SiteID = v.Get("s")
}

package message

import "encoding/json"

// WireJSON is the shape a Message takes in an HTTP long-poll response:
// {global_id, message_id, channel, data}. Data is re-encoded as a JSON
// value rather than a base64 string whenever the payload itself is valid
// JSON, matching "data is passed through as produced by the server-side
// filters (may be a string or a nested JSON value)" from §6.
type WireJSON struct {
	GlobalID  uint64          `json:"global_id"`
	MessageID uint64          `json:"message_id"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
}

// ToWireJSON converts a Message to its HTTP response representation.
func ToWireJSON(m Message) WireJSON {
	data := m.Data
	if !json.Valid(data) {
		encoded, _ := json.Marshal(string(data))
		data = encoded
	}
	return WireJSON{
		GlobalID:  m.GlobalID,
		MessageID: m.MessageID,
		Channel:   m.Channel,
		Data:      json.RawMessage(data),
	}
}

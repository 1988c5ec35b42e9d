package bus

import (
	"sort"
	"strings"

	"github.com/yousty/message-bus/internal/message"
)

// ServerFilter runs once per message before dispatch to any session; it
// may mutate the message (returning the replacement) or drop it entirely
// for every subscriber by returning ok=false.
type ServerFilter func(m message.Message) (out message.Message, ok bool)

// ClientFilter runs once per (message, session) pair, after the session
// visibility check passes; it shapes the wire payload for that specific
// client and may also drop it (e.g. a per-client redaction rule).
type ClientFilter func(m message.Message, identity Identity) (out message.Message, ok bool)

// FilterChain is an ordered map from channel-prefix to an ordered list of
// filters, matching the engine's filter-pipeline step (§4.3): the filters
// of every registered prefix that matches the channel run, longest prefix
// first, and within one prefix in registration order.
type FilterChain struct {
	server map[string][]ServerFilter
	client map[string][]ClientFilter
}

// NewFilterChain returns an empty chain.
func NewFilterChain() *FilterChain {
	return &FilterChain{
		server: make(map[string][]ServerFilter),
		client: make(map[string][]ClientFilter),
	}
}

// RegisterServerFilter appends f to the filter list for channelPrefix.
// An empty prefix matches every channel.
func (c *FilterChain) RegisterServerFilter(channelPrefix string, f ServerFilter) {
	c.server[channelPrefix] = append(c.server[channelPrefix], f)
}

// RegisterClientFilter appends f to the client filter list for
// channelPrefix.
func (c *FilterChain) RegisterClientFilter(channelPrefix string, f ClientFilter) {
	c.client[channelPrefix] = append(c.client[channelPrefix], f)
}

// ApplyServer runs every server filter registered against a prefix of
// m.Channel, longest prefix first, stopping at the first drop.
func (c *FilterChain) ApplyServer(m message.Message) (message.Message, bool) {
	for _, prefix := range matchingPrefixes(c.server, m.Channel) {
		for _, f := range c.server[prefix] {
			var ok bool
			m, ok = f(m)
			if !ok {
				return message.Message{}, false
			}
		}
	}
	return m, true
}

// ApplyClient runs every client filter registered against a prefix of
// m.Channel against the given session identity.
func (c *FilterChain) ApplyClient(m message.Message, identity Identity) (message.Message, bool) {
	for _, prefix := range matchingPrefixes(c.client, m.Channel) {
		for _, f := range c.client[prefix] {
			var ok bool
			m, ok = f(m, identity)
			if !ok {
				return message.Message{}, false
			}
		}
	}
	return m, true
}

func matchingPrefixes[T any](registry map[string][]T, channel string) []string {
	var prefixes []string
	for prefix := range registry {
		if prefix == "" || strings.HasPrefix(channel, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return prefixes
}

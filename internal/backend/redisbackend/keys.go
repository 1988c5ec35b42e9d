package redisbackend

import "fmt"

// Key layout (§4.2). These exact strings form part of the wire contract
// across co-operating processes sharing a store; do not change them
// without also changing every other process talking to the same store.
const (
	globalIDCounterKey  = "__mb_global_id_n"
	globalBacklogKey    = "__mb_global_backlog_n"
	readonlyProbeKey    = "__mb_is_readonly"
	channelIDKeyPrefix  = "__mb_backlog_id_n_"
	channelKeyPrefix    = "__mb_backlog_n_"
	fanoutChannelPrefix = "_message_bus_"
)

func channelIDKey(channel string) string {
	return channelIDKeyPrefix + channel
}

func channelBacklogKey(channel string) string {
	return channelKeyPrefix + channel
}

func fanoutChannel(db int) string {
	return fmt.Sprintf("%s%d", fanoutChannelPrefix, db)
}

// unsubSentinel is published on the fan-out channel to unblock a running
// GlobalSubscribe. It is not a valid encoded Message (no "|" separated
// header), so it can never collide with a real publish.
const unsubSentinel = "$$MESSAGE_BUS_UNSUBSCRIBE$$"

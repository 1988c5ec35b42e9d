// Package redisbackend implements backend.Backend against a Redis-compatible
// store (Redis, Valkey, KeyDB, Dragonfly -- anything speaking the same
// protocol, same as the rest of this codebase's Redis usage). It is the
// canonical backend described in §4.2: the only one every long-running
// deployment is expected to run.
package redisbackend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

// Backend is the shared-store implementation of backend.Backend.
type Backend struct {
	cfg    Config
	client *redis.Client
	fanout string
}

// New connects to the configured store and returns a ready Backend. It does
// not verify the connection; the first call that touches the store surfaces
// any connection failure as backend.ErrBackendUnavailable.
func New(cfg Config) (*Backend, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	return &Backend{
		cfg:    cfg,
		client: client,
		fanout: fanoutChannel(opts.DB),
	}, nil
}

func resolveOptions(cfg Config) (*redis.Options, error) {
	if cfg.URL != "" {
		return redis.ParseURL(cfg.URL)
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err)
}

// Publish implements backend.Backend.
func (r *Backend) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (uint64, error) {
	maxBacklogSize := r.cfg.MaxBacklogSize
	if opts.MaxBacklogSize > 0 {
		maxBacklogSize = opts.MaxBacklogSize
	}
	maxAge := int64(r.cfg.MaxBacklogAge.Seconds())
	if opts.MaxBacklogAge > 0 {
		maxAge = opts.MaxBacklogAge
	}

	keys := []string{globalIDCounterKey, channelIDKey(channel), channelBacklogKey(channel), globalBacklogKey}
	args := []interface{}{
		channel,
		string(data),
		maxBacklogSize,
		r.cfg.MaxGlobalBacklogSize,
		r.cfg.ClearEvery,
		maxAge,
		r.fanout,
		message.EncodeScope(opts.UserIDs, opts.GroupIDs, opts.ClientIDs, opts.SiteID),
	}

	res, err := publishScript.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}

	messageID, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("redis backend: unexpected publish script result %T", res)
	}
	return uint64(messageID), nil
}

// LastID implements backend.Backend.
func (r *Backend) LastID(ctx context.Context, channel string) (uint64, error) {
	return r.counter(ctx, channelIDKey(channel))
}

// LastIDs implements backend.Backend.
func (r *Backend) LastIDs(ctx context.Context, channels []string) ([]uint64, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(channels))
	for i, channel := range channels {
		cmds[i] = pipe.Get(ctx, channelIDKey(channel))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, wrapUnavailable(err)
	}

	ids := make([]uint64, len(channels))
	for i, cmd := range cmds {
		v, err := cmd.Uint64()
		if err != nil && err != redis.Nil {
			return nil, wrapUnavailable(err)
		}
		ids[i] = v
	}
	return ids, nil
}

func (r *Backend) counter(ctx context.Context, key string) (uint64, error) {
	v, err := r.client.Get(ctx, key).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return v, nil
}

// Backlog implements backend.Backend.
func (r *Backend) Backlog(ctx context.Context, channel string, afterID uint64) ([]message.Message, error) {
	return r.zrangeDecode(ctx, channelBacklogKey(channel), afterID)
}

// GlobalBacklog implements backend.Backend.
func (r *Backend) GlobalBacklog(ctx context.Context, afterGlobalID uint64) ([]message.Message, error) {
	return r.zrangeDecode(ctx, globalBacklogKey, afterGlobalID)
}

func (r *Backend) zrangeDecode(ctx context.Context, key string, afterScore uint64) ([]message.Message, error) {
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(afterScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	msgs := make([]message.Message, 0, len(members))
	for _, raw := range members {
		m, err := message.Decode([]byte(raw))
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("redis backend: skipping malformed backlog entry")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// GetMessage implements backend.Backend.
func (r *Backend) GetMessage(ctx context.Context, channel string, messageID uint64) (message.Message, bool, error) {
	members, err := r.client.ZRangeByScore(ctx, channelBacklogKey(channel), &redis.ZRangeBy{
		Min: strconv.FormatUint(messageID, 10),
		Max: strconv.FormatUint(messageID, 10),
	}).Result()
	if err != nil {
		return message.Message{}, false, wrapUnavailable(err)
	}
	if len(members) == 0 {
		return message.Message{}, false, nil
	}

	m, err := message.Decode([]byte(members[0]))
	if err != nil {
		return message.Message{}, false, nil
	}
	return m, true, nil
}

var _ backend.Backend = (*Backend)(nil)

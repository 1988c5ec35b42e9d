package redisbackend

import (
	"context"
	"regexp"

	"github.com/redis/go-redis/v9"
)

var readonlyErrPattern = regexp.MustCompile(`^READONLY`)

// IsReadOnly implements backend.Backend via a probing SET against a
// dedicated key: a command error matching ^READONLY means the store has
// failed over to a replica.
func (r *Backend) IsReadOnly(ctx context.Context) (bool, error) {
	err := r.client.Set(ctx, readonlyProbeKey, "1", 0).Err()
	if err == nil {
		return false, nil
	}
	if readonlyErrPattern.MatchString(err.Error()) {
		return true, nil
	}
	return false, wrapUnavailable(err)
}

// Reset implements backend.Backend by dropping every key this backend
// manages. Intended for tests; a production store is never reset this way.
func (r *Backend) Reset(ctx context.Context) error {
	return r.deleteMatching(ctx, "__mb_*")
}

// ExpireAllBacklogs implements backend.Backend by dropping backlog content
// immediately, leaving the id counters (and hence future ids) intact.
func (r *Backend) ExpireAllBacklogs(ctx context.Context) error {
	if err := r.deleteMatching(ctx, channelKeyPrefix+"*"); err != nil {
		return err
	}
	return wrapUnavailable(r.client.Del(ctx, globalBacklogKey).Err())
}

func (r *Backend) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return wrapUnavailable(err)
	}
	if len(keys) == 0 {
		return nil
	}
	return wrapUnavailable(r.client.Del(ctx, keys...).Err())
}

// AfterFork implements backend.Backend by discarding and re-establishing
// the underlying connection pool, since TCP connections are not safely
// shared across a fork.
func (r *Backend) AfterFork(ctx context.Context) error {
	_ = r.client.Close()

	opts, err := resolveOptions(r.cfg)
	if err != nil {
		return err
	}
	r.client = redis.NewClient(opts)
	r.fanout = fanoutChannel(opts.DB)
	return nil
}

// Destroy implements backend.Backend by closing the connection pool.
func (r *Backend) Destroy(ctx context.Context) error {
	return r.client.Close()
}

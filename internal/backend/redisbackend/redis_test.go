package redisbackend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

// newTestBackend connects to a real store for integration coverage of the
// Lua publish script and the catch-up algorithm. It skips when no store is
// reachable, since these tests exercise actual Redis semantics rather than
// a fake.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	cfg := DefaultConfig()
	if url := os.Getenv("MESSAGE_BUS_TEST_REDIS_URL"); url != "" {
		cfg.URL = url
	}

	b, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		t.Skipf("no redis-compatible store reachable: %v", err)
	}

	require.NoError(t, b.Reset(ctx))
	t.Cleanup(func() {
		_ = b.Reset(context.Background())
		_ = b.Destroy(context.Background())
	})
	return b
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id1, err := b.Publish(ctx, "/x", []byte("a"), backend.PublishOptions{})
	require.NoError(t, err)
	id2, err := b.Publish(ctx, "/x", []byte("b"), backend.PublishOptions{})
	require.NoError(t, err)
	id3, err := b.Publish(ctx, "/y", []byte("c"), backend.PublishOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, uint64(1), id3)

	last, err := b.LastID(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestBacklogAndGlobalBacklogOrdering(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "/a", []byte("1"), backend.PublishOptions{})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "/b", []byte("2"), backend.PublishOptions{})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "/a", []byte("3"), backend.PublishOptions{})
	require.NoError(t, err)

	backlog, err := b.Backlog(ctx, "/a", 0)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.Equal(t, uint64(1), backlog[0].MessageID)
	assert.Equal(t, uint64(2), backlog[1].MessageID)

	global, err := b.GlobalBacklog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, global, 3)
	assert.Equal(t, []string{"/a", "/b", "/a"}, []string{global[0].Channel, global[1].Channel, global[2].Channel})
}

func TestTrimKeepsContiguousSuffix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	b.cfg.MaxBacklogSize = 5
	b.cfg.ClearEvery = 1

	for i := 0; i < 10; i++ {
		_, err := b.Publish(ctx, "/c", []byte("m"), backend.PublishOptions{})
		require.NoError(t, err)
	}

	msgs, err := b.Backlog(ctx, "/c", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, uint64(6+i), m.MessageID)
	}
}

func TestGetMessageMissingAfterTrim(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "/d", []byte("x"), backend.PublishOptions{})
	require.NoError(t, err)

	_, found, err := b.GetMessage(ctx, "/d", 99)
	require.NoError(t, err)
	assert.False(t, found)

	m, found, err := b.GetMessage(ctx, "/d", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "x", string(m.Data))
}

func TestGlobalSubscribeLiveDelivery(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan message.Message, 1)
	go func() {
		_ = b.GlobalSubscribe(ctx, 0, func(m message.Message) error {
			received <- m
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := b.Publish(context.Background(), "/live", []byte("hi"), backend.PublishOptions{})
	require.NoError(t, err)

	select {
	case m := <-received:
		assert.Equal(t, "hi", string(m.Data))
		assert.Equal(t, uint64(1), m.GlobalID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live delivery")
	}
}

func TestGlobalSubscribeCatchesUpBacklogBeforeLive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, "/catchup", []byte("m"), backend.PublishOptions{})
		require.NoError(t, err)
	}

	subCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var seen []uint64
	_ = b.GlobalSubscribe(subCtx, 0, func(m message.Message) error {
		seen = append(seen, m.GlobalID)
		if len(seen) == 3 {
			cancel()
		}
		return nil
	})

	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestGlobalUnsubscribeUnblocks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- b.GlobalSubscribe(ctx, 0, func(m message.Message) error { return nil })
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.GlobalUnsubscribe(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GlobalSubscribe did not unblock")
	}
}

func TestPublishPreservesScopingThroughBacklog(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "/scoped", []byte("secret"), backend.PublishOptions{
		UserIDs:  []string{"alice", "bob"},
		GroupIDs: []string{"admins"},
		SiteID:   "acme",
	})
	require.NoError(t, err)

	msgs, err := b.Backlog(ctx, "/scoped", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"alice", "bob"}, msgs[0].UserIDs)
	assert.Equal(t, []string{"admins"}, msgs[0].GroupIDs)
	assert.Equal(t, "acme", msgs[0].SiteID)
}

func TestIsReadOnlyFalseOnWritableStore(t *testing.T) {
	b := newTestBackend(t)
	ro, err := b.IsReadOnly(context.Background())
	require.NoError(t, err)
	assert.False(t, ro)
}

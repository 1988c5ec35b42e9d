package memorybackend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	b := New(DefaultConfig())
	ctx := context.Background()

	id1, err := b.Publish(ctx, "/x", []byte("a"), backend.PublishOptions{})
	require.NoError(t, err)
	id2, err := b.Publish(ctx, "/x", []byte("b"), backend.PublishOptions{})
	require.NoError(t, err)
	id3, err := b.Publish(ctx, "/y", []byte("c"), backend.PublishOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, uint64(1), id3) // independent per-channel counter

	last, err := b.LastID(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestBacklogNoGapsAndAscending(t *testing.T) {
	b := New(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, "/x", []byte("m"), backend.PublishOptions{})
		require.NoError(t, err)
	}

	msgs, err := b.Backlog(ctx, "/x", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.MessageID)
	}

	after := msgs[2].MessageID
	tail, err := b.Backlog(ctx, "/x", after)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestCursorCatchUpAcrossRestart(t *testing.T) {
	b := New(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, "/x", []byte("m"), backend.PublishOptions{})
		require.NoError(t, err)
	}

	msgs, err := b.Backlog(ctx, "/x", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(2), msgs[0].MessageID)
	assert.Equal(t, uint64(3), msgs[1].MessageID)
}

func TestCrossChannelGlobalOrdering(t *testing.T) {
	b := New(DefaultConfig())
	ctx := context.Background()

	_, err := b.Publish(ctx, "/a", []byte("1"), backend.PublishOptions{})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "/b", []byte("2"), backend.PublishOptions{})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "/a", []byte("3"), backend.PublishOptions{})
	require.NoError(t, err)

	global, err := b.GlobalBacklog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, global, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{global[0].GlobalID, global[1].GlobalID, global[2].GlobalID})
	assert.Equal(t, "/a", global[0].Channel)
	assert.Equal(t, "/b", global[1].Channel)
	assert.Equal(t, "/a", global[2].Channel)
}

func TestTrimKeepsContiguousSuffix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBacklogSize = 5
	cfg.ClearEvery = 1
	b := New(cfg)
	ctx := context.Background()

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

	last, err := b.LastID(ctx, "/c")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)
}

func TestLongPollWake(t *testing.T) {
	b := New(DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Subscribe(ctx, "/x", 0, func(m message.Message) error {
			received <- string(m.Data)
			return nil
		})
	}()

	// Give the subscriber a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	_, err := b.Publish(context.Background(), "/x", []byte("hi"), backend.PublishOptions{})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hi", data)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for wake")
	}

	cancel()
	wg.Wait()
}

func TestGlobalUnsubscribeUnblocks(t *testing.T) {
	b := New(DefaultConfig())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- b.GlobalSubscribe(ctx, 0, func(m message.Message) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.GlobalUnsubscribe(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("GlobalSubscribe did not unblock")
	}
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

func TestSessionCatchUpReturnsImmediately(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Publish(ctx, "/x", []byte("a"), backend.PublishOptions{})
	require.NoError(t, err)
	_, err = e.Publish(ctx, "/x", []byte("b"), backend.PublishOptions{})
	require.NoError(t, err)

	s := NewSession(e, Identity{}, map[string]uint64{"/x": 0}, time.Now().Add(time.Second), false, "")
	msgs, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Data))
	assert.Equal(t, "b", string(msgs[1].Data))
}

func TestSessionEmptyCursorsReturnsImmediatelyEmpty(t *testing.T) {
	e := newTestEngine()
	s := NewSession(e, Identity{}, map[string]uint64{}, time.Now().Add(time.Second), false, "")

	msgs, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSessionBlocksThenWakesOnPublish(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	loop := NewLoop(e)
	loop.Start(0)
	defer loop.Stop(context.Background())

	s := NewSession(e, Identity{}, map[string]uint64{"/x": 0}, time.Now().Add(2*time.Second), false, "")

	done := make(chan []message.Message, 1)
	go func() {
		msgs, err := s.Collect(ctx)
		require.NoError(t, err)
		done <- msgs
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := e.Publish(ctx, "/x", []byte("hi"), backend.PublishOptions{})
	require.NoError(t, err)

	select {
	case msgs := <-done:
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", string(msgs[0].Data))
	case <-time.After(3 * time.Second):
		t.Fatal("session did not wake on publish")
	}
}

func TestSessionVisibilityDropsMessagesOutsideAllowSet(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Publish(ctx, "/x", []byte("secret"), backend.PublishOptions{UserIDs: []string{"alice"}})
	require.NoError(t, err)

	s := NewSession(e, Identity{UserID: "bob"}, map[string]uint64{"/x": 0}, time.Now().Add(time.Second), false, "")
	msgs, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	s2 := NewSession(e, Identity{UserID: "alice"}, map[string]uint64{"/x": 0}, time.Now().Add(time.Second), false, "")
	msgs2, err := s2.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
}

func TestSessionSiteNamespacing(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Publish(ctx, "/x", []byte("a"), backend.PublishOptions{SiteID: "acme"})
	require.NoError(t, err)

	wrongSite := NewSession(e, Identity{SiteID: "other"}, map[string]uint64{"/x": 0}, time.Now().Add(time.Second), false, "")
	msgs, err := wrongSite.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	rightSite := NewSession(e, Identity{SiteID: "acme"}, map[string]uint64{"/x": 0}, time.Now().Add(time.Second), false, "")
	msgs2, err := rightSite.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
	assert.Equal(t, "/x", msgs2[0].Channel, "client should see its own channel name, not the namespaced storage key")
}

func TestSessionSiteNamespacingStripsPrefixOnBlockingWait(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	loop := NewLoop(e)
	loop.Start(0)
	defer loop.Stop(context.Background())

	s := NewSession(e, Identity{SiteID: "acme"}, map[string]uint64{"/x": 0}, time.Now().Add(2*time.Second), false, "")

	done := make(chan []message.Message, 1)
	go func() {
		msgs, err := s.Collect(ctx)
		require.NoError(t, err)
		done <- msgs
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := e.Publish(ctx, "/x", []byte("hi"), backend.PublishOptions{SiteID: "acme"})
	require.NoError(t, err)

	select {
	case msgs := <-done:
		require.Len(t, msgs, 1)
		assert.Equal(t, "/x", msgs[0].Channel, "client should see its own channel name, not the namespaced storage key")
	case <-time.After(3 * time.Second):
		t.Fatal("session did not wake on publish")
	}
}

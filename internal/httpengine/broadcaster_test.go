// ABOUTME: Tests for the SSE broadcaster
// ABOUTME: Covers per-session delivery, laggy subscriber reaping and context cleanup

package httpengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
)

func note(t *testing.T, method string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewNotification(method, nil)
	require.NoError(t, err)
	return msg
}

func TestBroadcasterDeliversPerSession(t *testing.T) {
	b := NewBroadcaster(4, 2, nil)
	defer b.Close()
	ctx := context.Background()

	a, _ := b.Subscribe(ctx, "a")
	other, _ := b.Subscribe(ctx, "b")

	assert.Equal(t, 1, b.Publish("a", note(t, "one")))
	assert.Equal(t, "one", (<-a).Method)
	select {
	case <-other:
		t.Fatal("message leaked to another session")
	default:
	}

	assert.Equal(t, 2, b.PublishAll(note(t, "all")))
	assert.Equal(t, "all", (<-a).Method)
	assert.Equal(t, "all", (<-other).Method)
	assert.Zero(t, b.Publish("nobody", note(t, "x")))
}

func TestBroadcasterReapsLaggySubscriber(t *testing.T) {
	b := NewBroadcaster(1, 2, nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "s")
	assert.Equal(t, 1, b.Publish("s", note(t, "fills buffer")))
	assert.Zero(t, b.Publish("s", note(t, "drop 1")))
	assert.Zero(t, b.Publish("s", note(t, "drop 2")))
	assert.Zero(t, b.Subscribers("s"))

	<-ch
	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcasterUnsubscribesOnCancel(t *testing.T) {
	b := NewBroadcaster(0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "s")
	assert.Equal(t, 1, b.Subscribers("s"))

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}
	assert.Zero(t, b.Subscribers("s"))
}

func TestBroadcasterCloseSession(t *testing.T) {
	b := NewBroadcaster(0, 0, nil)
	ch1, _ := b.Subscribe(context.Background(), "s")
	ch2, _ := b.Subscribe(context.Background(), "s")
	b.CloseSession("s")
	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
	b.Close()
}

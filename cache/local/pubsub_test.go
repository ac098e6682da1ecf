package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSub_DeliverToSubscriber(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "notices")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "notices", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "notices", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPubSub_MultipleChannels(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a", "b")
	require.NoError(t, err)
	defer cancel()

	ps.Publish(ctx, "b", "from-b")

	select {
	case msg := <-ch:
		assert.Equal(t, "b", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPubSub_NoDeliveryAfterCancel(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "x")
	require.NoError(t, err)
	cancel()

	// Channel is closed; publish must not panic.
	require.NoError(t, ps.Publish(ctx, "x", "late"))
	_, open := <-ch
	assert.False(t, open)
}

func TestPubSub_DropWhenBufferFull(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "x")
	require.NoError(t, err)
	defer cancel()

	ps.Publish(ctx, "x", "first")
	ps.Publish(ctx, "x", "dropped")

	msg := <-ch
	assert.Equal(t, "first", msg.Payload)
	select {
	case <-ch:
		t.Fatal("second message should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

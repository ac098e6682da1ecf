package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_PriorityOrder(t *testing.T) {
	c := New()
	var order []string

	c.Register(EventQuestCompleted, 10, "second", func(_ context.Context, _ string, _ interface{}) error {
		order = append(order, "second")
		return nil
	})
	c.Register(EventQuestCompleted, 1, "first", func(_ context.Context, _ string, _ interface{}) error {
		order = append(order, "first")
		return nil
	})

	require.NoError(t, c.Emit(context.Background(), EventQuestCompleted, nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmit_PayloadDelivered(t *testing.T) {
	c := New()
	var got *QuestNotice

	c.Register(EventQuestCompleted, 0, "capture", func(_ context.Context, _ string, payload interface{}) error {
		got = payload.(*QuestNotice)
		return nil
	})

	notice := &QuestNotice{UserID: 7, QuestID: "library-tour", Points: 100}
	require.NoError(t, c.Emit(context.Background(), EventQuestCompleted, notice))
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, 100, got.Points)
}

func TestEmit_InterruptStopsChain(t *testing.T) {
	c := New()
	var called bool

	c.Register(EventQuestAbandoned, 0, "stop", func(_ context.Context, _ string, _ interface{}) error {
		return ErrInterrupt
	})
	c.Register(EventQuestAbandoned, 1, "never", func(_ context.Context, _ string, _ interface{}) error {
		called = true
		return nil
	})

	err := c.Emit(context.Background(), EventQuestAbandoned, nil)
	assert.ErrorIs(t, err, ErrInterrupt)
	assert.False(t, called)
}

func TestEmit_ErrorDoesNotStopOthers(t *testing.T) {
	c := New()
	var called bool

	c.Register(EventCollectibleAwarded, 0, "fail", func(_ context.Context, _ string, _ interface{}) error {
		return errors.New("listener broke")
	})
	c.Register(EventCollectibleAwarded, 1, "still-runs", func(_ context.Context, _ string, _ interface{}) error {
		called = true
		return nil
	})

	err := c.Emit(context.Background(), EventCollectibleAwarded, nil)
	assert.Error(t, err)
	assert.True(t, called)
}

func TestUnregister(t *testing.T) {
	c := New()
	var count int

	c.Register(EventQuizUnlocked, 0, "gone", func(_ context.Context, _ string, _ interface{}) error {
		count++
		return nil
	})
	c.Unregister(EventQuizUnlocked, "gone")

	require.NoError(t, c.Emit(context.Background(), EventQuizUnlocked, nil))
	assert.Zero(t, count)
}

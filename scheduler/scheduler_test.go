package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func TestAddTicker_Fires(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddTicker("tick", 20*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count1, 1) })
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count2, 1) })
	time.Sleep(80 * time.Millisecond)

	// Old ticker should have stopped, new one should be running
	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestRemove_StopsTicker(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddTicker("doomed", 20*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	time.Sleep(50 * time.Millisecond)
	s.Remove("doomed")
	snap := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count))
}

func TestTickerTask_PanicRecovered(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddTicker("panicky", 20*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
		panic("boom")
	})

	time.Sleep(90 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2), "ticker survives panics")
}

func TestListTickers(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddTicker("a", time.Minute, func() {})
	s.AddTicker("b", time.Minute, func() {})
	assert.ElementsMatch(t, []string{"a", "b"}, s.ListTickers())
}

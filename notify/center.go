// Package notify is the engine's notification surface. The quest store emits
// events here; in-process listeners (SSE fan-out, logging, future integrations)
// register hooks per event.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lumahq/campusquest/server/resource"
)

// ErrInterrupt signals that a listener wants to stop further processing of
// an event.
var ErrInterrupt = errors.New("notify: interrupted")

// Event names emitted by the quest store.
const (
	EventQuestStarted            = "quest_started"
	EventQuizUnlocked            = "quiz_unlocked"
	EventQuestCompleted          = "quest_completed"
	EventQuizFailedFinal         = "quiz_failed_final"
	EventCollectibleAwarded      = "collectible_awarded"
	EventCollectibleAlreadyOwned = "collectible_already_owned"
	EventQuestAbandoned          = "quest_abandoned"
)

// QuestNotice is the payload for quest lifecycle events.
type QuestNotice struct {
	UserID       int64   `json:"user_id"`
	QuestID      string  `json:"quest_id"`
	Title        string  `json:"title"`
	Points       int     `json:"points,omitempty"`
	ScorePercent float64 `json:"score_percent,omitempty"`
}

// AwardNotice is the payload for collectible events.
type AwardNotice struct {
	UserID      int64                 `json:"user_id"`
	QuestID     string                `json:"quest_id"`
	Collectible *resource.Collectible `json:"collectible,omitempty"`
}

// ListenerFn handles one emitted event.
type ListenerFn func(ctx context.Context, event string, payload interface{}) error

type listenerEntry struct {
	priority int
	name     string
	fn       ListenerFn
}

// Center manages event listener registrations.
type Center struct {
	mu        sync.RWMutex
	listeners map[string][]*listenerEntry
}

// New creates an empty Center.
func New() *Center {
	return &Center{listeners: make(map[string][]*listenerEntry)}
}

// Register adds a listener for the given event with the given priority
// (lower runs first). name is used for Unregister.
func (c *Center) Register(event string, priority int, name string, fn ListenerFn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.listeners[event], &listenerEntry{priority: priority, name: name, fn: fn})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	c.listeners[event] = entries
}

// Unregister removes all listeners with the given name for the given event.
func (c *Center) Unregister(event, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.listeners[event]
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	c.listeners[event] = entries[:n]
}

// Emit invokes every listener registered for event in priority order.
// A listener returning ErrInterrupt stops the chain; other errors are
// returned to the emitter but do not stop remaining listeners.
func (c *Center) Emit(ctx context.Context, event string, payload interface{}) error {
	c.mu.RLock()
	entries := make([]*listenerEntry, len(c.listeners[event]))
	copy(entries, c.listeners[event])
	c.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := e.fn(ctx, event, payload); err != nil {
			if errors.Is(err, ErrInterrupt) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Package events carries pipeline lifecycle notifications to operators.
// An in-process Hub fans events out to subscribers (the websocket feed);
// an optional MQTT bridge mirrors them to an external broker.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the pipeline.
const (
	TypeSkillRegistered      = "skill.registered"
	TypeImprovementTriggered = "improvement.triggered"
	TypeImprovementGenerated = "improvement.generated"
	TypeImprovementApproved  = "improvement.approved"
	TypeImprovementRejected  = "improvement.rejected"
	TypeImprovementApplied   = "improvement.applied"
	TypeSkillRolledBack      = "skill.rolled-back"
)

// Event is one pipeline lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	SkillID   string         `json:"skillId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher is the write side of the event feed.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Hub is an in-process fan-out of pipeline events. Slow subscribers drop
// events rather than blocking the pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		logger: logger.With("component", "events"),
	}
}

// Publish delivers the event to all current subscribers without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

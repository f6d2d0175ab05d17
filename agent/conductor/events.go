package conductor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/muchaco/council/types"
)

// EventType names what happened in a session.
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventSpeakerSelected  EventType = "speaker_selected"
	EventWaitingForUser   EventType = "waiting_for_user"
	EventBlocked          EventType = "blocked"
	EventWarning          EventType = "budget_warning"
	EventIntervention     EventType = "intervention"
	EventBlackboard       EventType = "blackboard_updated"
	EventMessage          EventType = "message"
	EventHushed           EventType = "persona_hushed"
	EventUnhushed         EventType = "persona_unhushed"
	EventConductorToggled EventType = "conductor_toggled"
	EventArchived         EventType = "session_archived"
	EventError            EventType = "error"
)

// Event is broadcast to session subscribers.
type Event struct {
	Type       EventType              `json:"type"`
	SessionID  string                 `json:"sessionId"`
	State      State                  `json:"state,omitempty"`
	PersonaID  string                 `json:"personaId,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Blackboard *types.BlackboardState `json:"blackboard,omitempty"`
	Message    *types.Message         `json:"message,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

const subscriberBuffer = 32

type subscriber struct {
	ch chan Event
}

// Hub fans events out to per-session subscribers. Slow subscribers lose
// events instead of blocking the conductor.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	dropped atomic.Int64
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for sessionID and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[sessionID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
		})
	}
}

// Publish delivers e to every subscriber of e.SessionID without blocking.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[e.SessionID] {
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, id)
	}
}

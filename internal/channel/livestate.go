package channel

import (
	"encoding/json"
	"sync"
	"time"
)

// maxRetainedNotifications bounds the in-memory notification list.
const maxRetainedNotifications = 100

// Notification is a server-pushed notification retained for UI display.
type Notification struct {
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// LiveState holds the shared in-memory state mutated by inbound channel
// events: named counters (unread messages, open tickets) and the
// notification list. It is an explicitly constructed object injected
// into consumers, not an ambient global; external callers only ever
// see copies.
type LiveState struct {
	mu            sync.RWMutex
	counters      map[string]int
	notifications []Notification
}

// NewLiveState creates an empty live state.
func NewLiveState() *LiveState {
	return &LiveState{counters: make(map[string]int)}
}

// SetCounter records the latest value for a named counter.
func (s *LiveState) SetCounter(name string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] = value
}

// Counters returns a copy of all counters.
func (s *LiveState) Counters() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// AddNotification appends a notification, evicting the oldest once the
// retention bound is reached.
func (s *LiveState) AddNotification(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	})
	if len(s.notifications) > maxRetainedNotifications {
		s.notifications = s.notifications[len(s.notifications)-maxRetainedNotifications:]
	}
}

// Notifications returns a copy of the retained notifications, newest last.
func (s *LiveState) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/hyperengineering/tether/internal/types"
)

// Well-known event types carried over the channel. Unlisted types fall
// through to the last-event slot so new server events surface without a
// client release.
const (
	eventPing          = "ping"
	eventPong          = "pong"
	eventCounterUpdate = "counter_update"
	eventNotification  = "notification"
	eventQueueChanged  = "queue_changed"
	eventPresence      = "presence"
)

type counterPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// EventHandler receives broadcast events on the dispatcher goroutine.
// Handlers must not block.
type EventHandler func(types.ChannelEvent)

// dispatcher routes each inbound event to exactly one destination:
// a live-state mutation, a fan-out to broadcast subscribers, or the
// per-type last-event slot. Heartbeat pongs are consumed here.
type dispatcher struct {
	state  *LiveState
	logger *slog.Logger

	mu        sync.RWMutex
	nextID    int
	broadcast map[string]map[int]EventHandler
	lastEvent map[string]types.ChannelEvent
}

func newDispatcher(state *LiveState, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		state:     state,
		logger:    logger,
		broadcast: make(map[string]map[int]EventHandler),
		lastEvent: make(map[string]types.ChannelEvent),
	}
}

// subscribe registers a handler for broadcast events of the given type
// and returns an unsubscribe func. It also promotes the type to
// broadcast routing for subsequent events.
func (d *dispatcher) subscribe(eventType string, h EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if d.broadcast[eventType] == nil {
		d.broadcast[eventType] = make(map[int]EventHandler)
	}
	d.broadcast[eventType][id] = h
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.broadcast[eventType], id)
	}
}

// last returns the most recent event retained for a type, if any.
func (d *dispatcher) last(eventType string) (types.ChannelEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.lastEvent[eventType]
	return ev, ok
}

// handle parses and routes one raw inbound frame. Unparseable frames
// are logged and dropped; they never tear down the connection.
func (d *dispatcher) handle(raw []byte) {
	var ev types.ChannelEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		d.logger.Warn("dropping unparseable channel event", "error", err)
		return
	}

	switch ev.Type {
	case eventPong:
		// Heartbeat reply, consumed.
		return
	case eventCounterUpdate:
		var p counterPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Name == "" {
			d.logger.Warn("dropping malformed counter update", "error", err)
			return
		}
		d.state.SetCounter(p.Name, p.Value)
	case eventNotification:
		d.state.AddNotification(ev.Data)
	case eventQueueChanged, eventPresence:
		d.fanOut(ev)
	default:
		d.mu.Lock()
		if handlers := d.broadcast[ev.Type]; len(handlers) > 0 {
			d.mu.Unlock()
			d.fanOut(ev)
			return
		}
		d.lastEvent[ev.Type] = ev
		d.mu.Unlock()
	}
}

func (d *dispatcher) fanOut(ev types.ChannelEvent) {
	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.broadcast[ev.Type]))
	for _, h := range d.broadcast[ev.Type] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

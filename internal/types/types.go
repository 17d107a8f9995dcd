package types

import (
	"encoding/json"
	"time"
)

// QueuedAction is a durable record of a pending client mutation.
// The body is opaque to the connectivity layer; it is stored and
// replayed verbatim.
type QueuedAction struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	Target     string          `json:"target"`
	Body       json.RawMessage `json:"body,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ChannelEvent is a unit of inbound real-time data. Events are
// transient; they are dispatched to subscribers and never persisted.
type ChannelEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ReportLevel represents the severity of an error report
type ReportLevel string

const (
	LevelWarning  ReportLevel = "WARNING"
	LevelError    ReportLevel = "ERROR"
	LevelCritical ReportLevel = "CRITICAL"
)

// ErrorReport is a normalized description of a client-side fault.
type ErrorReport struct {
	ID       string            `json:"id"`
	Level    ReportLevel       `json:"level"`
	Category string            `json:"category"`
	Message  string            `json:"message"`
	Trace    string            `json:"trace,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	At       time.Time         `json:"at"`

	// Attempts counts delivery attempts; managed by the report queue,
	// never serialized to the monitoring endpoint.
	Attempts int `json:"-"`
}

// EnqueueActionRequest represents a mutation dispatched through the queue
type EnqueueActionRequest struct {
	Method string          `json:"method"`
	Target string          `json:"target"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// EnqueueActionResponse represents the outcome of dispatching a mutation
type EnqueueActionResponse struct {
	ID      string `json:"id"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
}

// QueueListResponse represents the current queue contents
type QueueListResponse struct {
	Actions []QueuedAction `json:"actions"`
	Total   int            `json:"total"`
}

// DrainResult summarizes a single drain pass over the outbox.
type DrainResult struct {
	Sent      int    `json:"sent"`
	Expired   int    `json:"expired"`
	Remaining int    `json:"remaining"`
	HaltedOn  string `json:"halted_on,omitempty"`
}

// ConnectionSnapshot is a read-only view of the real-time channel state
type ConnectionSnapshot struct {
	Phase            string        `json:"phase"`
	ReconnectAttempt int           `json:"reconnect_attempt"`
	BackoffDelay     time.Duration `json:"backoff_delay"`
	ConnectedAt      *time.Time    `json:"connected_at,omitempty"`
}

// ReportStats is a read-only view of the error-reporting pipeline
type ReportStats struct {
	Queued     int   `json:"queued"`
	Accepted   int64 `json:"accepted"`
	Suppressed int64 `json:"suppressed"`
	Delivered  int64 `json:"delivered"`
	Dropped    int64 `json:"dropped"`
}

// StatusResponse represents the agent status surface for the UI layer
type StatusResponse struct {
	Version    string             `json:"version"`
	Online     bool               `json:"online"`
	OutOfSync  bool               `json:"out_of_sync"`
	Queued     int                `json:"queued"`
	Connection ConnectionSnapshot `json:"connection"`
	Reports    ReportStats        `json:"reports"`
}

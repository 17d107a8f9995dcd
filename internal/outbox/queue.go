// Package outbox implements the offline action queue: a durable,
// ordered holding area for mutations that could not be sent
// immediately, replayed strictly in enqueue order once connectivity
// returns.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/tether/internal/store"
	"github.com/hyperengineering/tether/internal/types"
	"github.com/oklog/ulid/v2"
)

// FaultReporter receives storage faults so they reach the monitoring
// endpoint even though the caller only sees a rejected enqueue.
type FaultReporter interface {
	StorageFault(op string, err error)
}

// Options configures a Queue.
type Options struct {
	// MaxAge drops actions older than this during a drain pass.
	// Zero means actions never expire.
	MaxAge time.Duration
}

// Queue is the offline action queue. All durable state lives in the
// ActionStore; the queue itself only holds drain bookkeeping.
type Queue struct {
	store    store.ActionStore
	sender   Sender
	reporter FaultReporter
	maxAge   time.Duration

	mu        sync.Mutex
	draining  bool
	outOfSync bool
}

// New creates a queue over the given store and sender. The reporter
// may be nil, in which case storage faults are only logged.
func New(s store.ActionStore, sender Sender, reporter FaultReporter, opts Options) *Queue {
	return &Queue{
		store:    s,
		sender:   sender,
		reporter: reporter,
		maxAge:   opts.MaxAge,
	}
}

// Enqueue assigns an ID, persists the action, and returns once the
// write is durably committed. A storage fault rejects the enqueue and
// is routed to the fault reporter; the caller must not assume the
// action was captured.
func (q *Queue) Enqueue(ctx context.Context, method, target string, body []byte) (types.QueuedAction, error) {
	action := types.QueuedAction{
		ID:         ulid.Make().String(),
		Method:     method,
		Target:     target,
		Body:       body,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.store.Append(ctx, action); err != nil {
		q.reportStorageFault("enqueue", err)
		return types.QueuedAction{}, fmt.Errorf("enqueue action: %w", err)
	}

	slog.Debug("action enqueued",
		"component", "outbox",
		"action_id", action.ID,
		"method", method,
		"target", target,
	)
	return action, nil
}

// Dispatch routes a mutation through the offline layer. When online
// and nothing is queued ahead of it, the action is sent immediately;
// otherwise it is enqueued so FIFO ordering holds. An immediate send
// failure falls back to enqueueing.
func (q *Queue) Dispatch(ctx context.Context, req types.EnqueueActionRequest, online bool) (types.EnqueueActionResponse, error) {
	if online {
		pending, err := q.store.Count(ctx)
		if err != nil {
			q.reportStorageFault("count", err)
		} else if pending == 0 {
			action := types.QueuedAction{
				ID:         ulid.Make().String(),
				Method:     req.Method,
				Target:     req.Target,
				Body:       req.Body,
				EnqueuedAt: time.Now().UTC(),
			}
			if err := q.sender.Send(ctx, action); err == nil {
				return types.EnqueueActionResponse{ID: action.ID, Queued: false}, nil
			}
			// fall through to durable capture
		}
	}

	action, err := q.Enqueue(ctx, req.Method, req.Target, req.Body)
	if err != nil {
		return types.EnqueueActionResponse{}, err
	}
	pending, _ := q.store.Count(ctx)
	return types.EnqueueActionResponse{ID: action.ID, Queued: true, Pending: pending}, nil
}

// List returns the current queue contents in enqueue order without
// mutating the store.
func (q *Queue) List(ctx context.Context) ([]types.QueuedAction, error) {
	actions, err := q.store.OldestFirst(ctx, 0)
	if err != nil {
		q.reportStorageFault("list", err)
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// Count returns the number of pending actions.
func (q *Queue) Count(ctx context.Context) (int, error) {
	count, err := q.store.Count(ctx)
	if err != nil {
		q.reportStorageFault("count", err)
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return count, nil
}

// Clear unconditionally empties the store. Used for an explicit
// user-initiated reset, never on drain failure.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.store.Clear(ctx); err != nil {
		q.reportStorageFault("clear", err)
		return fmt.Errorf("clear queue: %w", err)
	}
	slog.Info("queue cleared", "component", "outbox")
	return nil
}

// OutOfSync reports whether the last drain pass halted on a failure
// and has not since completed cleanly. The UI layer surfaces this as
// an out-of-sync indicator; nothing else in the core acts on it.
func (q *Queue) OutOfSync() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outOfSync
}

// Drain replays all queued actions in FIFO order. Each action is
// deleted only after the network confirms it; the first failure halts
// the pass so a later action never succeeds before an earlier one.
// Concurrent drain calls coalesce: only one pass runs at a time.
func (q *Queue) Drain(ctx context.Context) (types.DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return types.DrainResult{}, nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	actions, err := q.store.OldestFirst(ctx, 0)
	if err != nil {
		q.reportStorageFault("drain", err)
		return types.DrainResult{}, fmt.Errorf("read queue: %w", err)
	}

	var result types.DrainResult
	halted := false

	for _, action := range actions {
		if ctx.Err() != nil {
			halted = true
			result.HaltedOn = action.ID
			break
		}

		if q.expired(action) {
			if err := q.store.Delete(ctx, action.ID); err != nil {
				q.reportStorageFault("expire", err)
			}
			result.Expired++
			slog.Warn("queued action expired",
				"component", "outbox",
				"action_id", action.ID,
				"enqueued_at", action.EnqueuedAt,
			)
			continue
		}

		if err := q.sender.Send(ctx, action); err != nil {
			// Not escalated: the action and everything behind it stay
			// queued for the next connectivity-regained trigger.
			slog.Info("drain halted",
				"component", "outbox",
				"action_id", action.ID,
				"error", err,
			)
			halted = true
			result.HaltedOn = action.ID
			break
		}

		// Delete is committed only after the send is confirmed, so a
		// crash between the two replays the action rather than losing it.
		if err := q.store.Delete(ctx, action.ID); err != nil {
			q.reportStorageFault("ack", err)
			halted = true
			result.HaltedOn = action.ID
			break
		}
		result.Sent++
	}

	remaining, err := q.store.Count(ctx)
	if err != nil {
		q.reportStorageFault("count", err)
	}
	result.Remaining = remaining

	q.mu.Lock()
	q.outOfSync = halted
	q.mu.Unlock()

	if result.Sent > 0 || result.Expired > 0 {
		slog.Info("drain pass completed",
			"component", "outbox",
			"sent", result.Sent,
			"expired", result.Expired,
			"remaining", result.Remaining,
			"halted", halted,
		)
	}
	return result, nil
}

func (q *Queue) expired(action types.QueuedAction) bool {
	return q.maxAge > 0 && time.Since(action.EnqueuedAt) > q.maxAge
}

func (q *Queue) reportStorageFault(op string, err error) {
	slog.Error("storage fault",
		"component", "outbox",
		"op", op,
		"error", err,
	)
	if q.reporter != nil {
		q.reporter.StorageFault(op, err)
	}
}

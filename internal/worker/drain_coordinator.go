package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/tether/internal/types"
)

// Drainer is the queue surface the coordinator drives.
// Implemented by outbox.Queue.
type Drainer interface {
	Drain(ctx context.Context) (types.DrainResult, error)
	Count(ctx context.Context) (int, error)
}

// ConnectivitySource reports the online state and notifies on changes.
// Implemented by netstatus.Detector.
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// DrainCoordinator replays the offline action queue whenever
// connectivity returns, and periodically retries a backlog left behind
// by a halted pass while still online.
type DrainCoordinator struct {
	queue        Drainer
	connectivity ConnectivitySource
	retryEvery   time.Duration
	trigger      chan struct{}
}

// NewDrainCoordinator creates a coordinator. retryEvery of zero
// disables the periodic backlog retry; the offline-to-online trigger
// always applies.
func NewDrainCoordinator(queue Drainer, connectivity ConnectivitySource, retryEvery time.Duration) *DrainCoordinator {
	return &DrainCoordinator{
		queue:        queue,
		connectivity: connectivity,
		retryEvery:   retryEvery,
		trigger:      make(chan struct{}, 1),
	}
}

// Trigger requests a drain pass outside the automatic schedule.
// Non-blocking; a pass already pending absorbs the request.
func (c *DrainCoordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// The connectivity callback only records the transition; the drain
// itself runs on this goroutine so a slow replay never blocks the
// detector's notification path.
func (c *DrainCoordinator) Run(ctx context.Context) {
	slog.Info("drain coordinator started",
		"component", "worker",
		"worker", "drain-coordinator",
		"retry_every", c.retryEvery.String(),
	)

	unsubscribe := c.connectivity.Subscribe(func(online bool) {
		if online {
			c.Trigger()
		}
	})
	defer unsubscribe()

	// A backlog left behind by a previous run drains right away when
	// the agent starts already online, instead of waiting out the
	// first retry tick.
	if c.hasBacklog(ctx) {
		c.Trigger()
	}

	var retry <-chan time.Time
	if c.retryEvery > 0 {
		ticker := time.NewTicker(c.retryEvery)
		defer ticker.Stop()
		retry = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("drain coordinator stopped",
				"component", "worker",
				"worker", "drain-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-c.trigger:
			c.drain(ctx)
		case <-retry:
			if c.hasBacklog(ctx) {
				c.drain(ctx)
			}
		}
	}
}

func (c *DrainCoordinator) hasBacklog(ctx context.Context) bool {
	if !c.connectivity.IsOnline() {
		return false
	}
	count, err := c.queue.Count(ctx)
	if err != nil {
		slog.Warn("failed to count queued actions",
			"component", "worker",
			"worker", "drain-coordinator",
			"error", err,
		)
		return false
	}
	return count > 0
}

// drain runs a single replay pass. A halted pass is not an error; the
// remaining actions wait for the next trigger.
func (c *DrainCoordinator) drain(ctx context.Context) {
	start := time.Now()
	result, err := c.queue.Drain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("drain pass failed",
			"component", "worker",
			"worker", "drain-coordinator",
			"error", err,
		)
		return
	}

	if result.Sent > 0 || result.Expired > 0 || result.HaltedOn != "" {
		slog.Info("drain pass completed",
			"component", "worker",
			"worker", "drain-coordinator",
			"sent", result.Sent,
			"expired", result.Expired,
			"remaining", result.Remaining,
			"halted_on", result.HaltedOn,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/tether/internal/types"
)

// dedupPrefixLen bounds the message portion of a dedup key so reports
// that differ only in a variable suffix (ids, addresses) still collapse.
const dedupPrefixLen = 80

// maxFaultBodyLen bounds the response body attached to an HTTP fault
// report so a large error page cannot bloat the delivery payload.
const maxFaultBodyLen = 2048

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	MaxQueued   int
	BatchSize   int
	MaxRetries  int
	FlushDelay  time.Duration
	DedupWindow time.Duration

	// Version is stamped into every report's context.
	Version string
}

func (o *Options) applyDefaults() {
	if o.MaxQueued <= 0 {
		o.MaxQueued = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = 5 * time.Second
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 60 * time.Second
	}
}

// Pipeline collects client-side fault reports, suppresses duplicates
// within a sliding window, and delivers them in batches with bounded
// memory and a per-item retry ceiling. Report loss is tolerated in
// favor of bounded resource use.
type Pipeline struct {
	sender Sender
	logger *slog.Logger
	opts   Options
	env    map[string]string
	now    func() time.Time

	mu       sync.Mutex
	queue    []types.ErrorReport
	seen     map[string]time.Time
	timer    *time.Timer
	flushing bool
	closed   bool

	accepted   int64
	suppressed int64
	delivered  int64
	dropped    int64
}

// New creates a pipeline. Delivery does not start until the first
// report is accepted.
func New(sender Sender, opts Options, logger *slog.Logger) *Pipeline {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	return &Pipeline{
		sender: sender,
		logger: logger.With("component", "report"),
		opts:   opts,
		env: map[string]string{
			"agent_version": opts.Version,
			"os":            runtime.GOOS,
			"hostname":      hostname,
		},
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Report accepts a fault for batched delivery. Duplicates of a report
// accepted within the dedup window are discarded silently. Returns
// false when the report was suppressed.
func (p *Pipeline) Report(level types.ReportLevel, category, message, trace string, extra map[string]string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.isDuplicateLocked(category, message) {
		p.suppressed++
		return false
	}
	p.enqueueLocked(p.buildLocked(level, category, message, trace, extra))
	return true
}

// ReportCritical attempts immediate delivery, falling back to the
// batched queue only when the attempt fails. Duplicate suppression
// does not apply; criticals are always processed.
func (p *Pipeline) ReportCritical(category, message, trace string, extra map[string]string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	rep := p.buildLocked(types.LevelCritical, category, message, trace, extra)
	p.markSeenLocked(category, message)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.sender.Send(ctx, rep)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.delivered++
		return
	}
	if errors.Is(err, ErrTerminal) {
		p.logger.Warn("critical report rejected permanently", "error", err)
		p.dropped++
		return
	}
	p.logger.Warn("immediate delivery failed, queuing", "error", err)
	p.enqueueLocked(rep)
}

// ReportHTTPFault records a failed API response, classifying severity
// by status range: server errors are ERROR, everything else WARNING.
// A non-empty response body is truncated and carried as context.
func (p *Pipeline) ReportHTTPFault(status int, method, url, body string) bool {
	level := types.LevelWarning
	if status >= 500 {
		level = types.LevelError
	}
	category := fmt.Sprintf("http_%dxx", status/100)
	message := fmt.Sprintf("%s %s returned %d", method, url, status)
	extra := map[string]string{
		"status": fmt.Sprintf("%d", status),
		"url":    url,
		"method": method,
	}
	if body != "" {
		if len(body) > maxFaultBodyLen {
			body = body[:maxFaultBodyLen]
		}
		extra["body"] = body
	}
	return p.Report(level, category, message, "", extra)
}

// StorageFault satisfies the outbox fault-reporter seam.
func (p *Pipeline) StorageFault(op string, err error) {
	p.Report(types.LevelError, "storage", fmt.Sprintf("durable store %s failed: %v", op, err), "", nil)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() types.ReportStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.ReportStats{
		Queued:     len(p.queue),
		Accepted:   p.accepted,
		Suppressed: p.suppressed,
		Delivered:  p.delivered,
		Dropped:    p.dropped,
	}
}

// Close cancels any scheduled flush and stops accepting reports.
// Pending reports are discarded; delivery is best effort by design.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pipeline) dedupKey(category, message string) string {
	if len(message) > dedupPrefixLen {
		message = message[:dedupPrefixLen]
	}
	return category + "|" + message
}

func (p *Pipeline) isDuplicateLocked(category, message string) bool {
	now := p.now()
	for key, at := range p.seen {
		if now.Sub(at) >= p.opts.DedupWindow {
			delete(p.seen, key)
		}
	}
	if _, ok := p.seen[p.dedupKey(category, message)]; ok {
		return true
	}
	p.markSeenLocked(category, message)
	return false
}

func (p *Pipeline) markSeenLocked(category, message string) {
	p.seen[p.dedupKey(category, message)] = p.now()
}

func (p *Pipeline) buildLocked(level types.ReportLevel, category, message, trace string, extra map[string]string) types.ErrorReport {
	ctx := make(map[string]string, len(p.env)+len(extra))
	for k, v := range p.env {
		ctx[k] = v
	}
	for k, v := range extra {
		ctx[k] = v
	}
	p.accepted++
	return types.ErrorReport{
		ID:       ulid.Make().String(),
		Level:    level,
		Category: category,
		Message:  message,
		Trace:    trace,
		Context:  ctx,
		At:       p.now().UTC(),
	}
}

// enqueueLocked appends a report, evicting the oldest pending item if
// the queue is full, and arms the flush timer when none is pending.
func (p *Pipeline) enqueueLocked(rep types.ErrorReport) {
	p.queue = append(p.queue, rep)
	if len(p.queue) > p.opts.MaxQueued {
		p.logger.Debug("report queue full, evicting oldest")
		p.queue = p.queue[1:]
		p.dropped++
	}
	if p.timer == nil && !p.flushing {
		p.timer = time.AfterFunc(p.opts.FlushDelay, p.flush)
	}
}

// flush delivers one batch. Failed items go back to the front of the
// queue with their retry counter bumped; another cycle is scheduled
// whenever items remain.
func (p *Pipeline) flush() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.flushing = true
	n := p.opts.BatchSize
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := make([]types.ErrorReport, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	p.mu.Unlock()

	var failed []types.ErrorReport
	var delivered, droppedRetry, droppedTerminal int64
	for _, rep := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.sender.Send(ctx, rep)
		cancel()
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrTerminal):
			droppedTerminal++
		default:
			rep.Attempts++
			if rep.Attempts >= p.opts.MaxRetries {
				droppedRetry++
			} else {
				failed = append(failed, rep)
			}
		}
	}
	if droppedTerminal > 0 {
		p.logger.Warn("reports rejected permanently", "count", droppedTerminal)
	}
	if droppedRetry > 0 {
		p.logger.Warn("reports dropped after retry ceiling", "count", droppedRetry)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushing = false
	p.delivered += delivered
	p.dropped += droppedRetry + droppedTerminal
	p.queue = append(failed, p.queue...)
	if len(p.queue) > p.opts.MaxQueued {
		p.dropped += int64(len(p.queue) - p.opts.MaxQueued)
		p.queue = p.queue[len(p.queue)-p.opts.MaxQueued:]
	}
	if len(p.queue) > 0 && !p.closed {
		p.timer = time.AfterFunc(p.opts.FlushDelay, p.flush)
	}
}

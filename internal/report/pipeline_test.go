package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/tether/internal/types"
)

// fakeSender fails every Send while err is set and records successful
// deliveries.
type fakeSender struct {
	mu   sync.Mutex
	sent []types.ErrorReport
	err  error
}

func (s *fakeSender) Send(_ context.Context, rep types.ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, rep)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDedupSuppression(t *testing.T) {
	p := New(&fakeSender{}, Options{DedupWindow: 60 * time.Second, FlushDelay: time.Hour}, discardLogger())

	if !p.Report(types.LevelError, "TypeError", "x is undefined", "", nil) {
		t.Fatal("first report suppressed")
	}
	if p.Report(types.LevelError, "TypeError", "x is undefined", "", nil) {
		t.Fatal("duplicate within window accepted")
	}

	stats := p.Stats()
	if stats.Queued != 1 || stats.Suppressed != 1 {
		t.Errorf("stats = %+v, want 1 queued, 1 suppressed", stats)
	}
}

func TestDedupWindowExpiry(t *testing.T) {
	p := New(&fakeSender{}, Options{DedupWindow: 60 * time.Second, FlushDelay: time.Hour}, discardLogger())

	base := time.Now()
	p.now = func() time.Time { return base }
	p.Report(types.LevelError, "TypeError", "x is undefined", "", nil)

	p.now = func() time.Time { return base.Add(61 * time.Second) }
	if !p.Report(types.LevelError, "TypeError", "x is undefined", "", nil) {
		t.Fatal("report outside dedup window suppressed")
	}
	if got := p.Stats().Queued; got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}
}

func TestDedupKeyUsesMessagePrefix(t *testing.T) {
	p := New(&fakeSender{}, Options{FlushDelay: time.Hour}, discardLogger())

	long := make([]byte, dedupPrefixLen)
	for i := range long {
		long[i] = 'a'
	}
	p.Report(types.LevelError, "NetworkError", string(long)+" request 1", "", nil)
	if p.Report(types.LevelError, "NetworkError", string(long)+" request 2", "", nil) {
		t.Error("reports differing only past the prefix not collapsed")
	}
}

func TestBoundedQueueEvictsOldest(t *testing.T) {
	p := New(&fakeSender{}, Options{MaxQueued: 50, FlushDelay: time.Hour}, discardLogger())

	for i := 0; i < 51; i++ {
		p.Report(types.LevelWarning, "cat", fmt.Sprintf("fault %d", i), "", nil)
	}

	stats := p.Stats()
	if stats.Queued != 50 {
		t.Errorf("queued = %d, want 50", stats.Queued)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	p.mu.Lock()
	oldest, newest := p.queue[0].Message, p.queue[len(p.queue)-1].Message
	p.mu.Unlock()
	if oldest != "fault 1" {
		t.Errorf("oldest = %q, want fault 1 (fault 0 evicted)", oldest)
	}
	if newest != "fault 50" {
		t.Errorf("newest = %q, want fault 50", newest)
	}
}

func TestFlushDeliversBatch(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, Options{FlushDelay: 10 * time.Millisecond}, discardLogger())
	defer p.Close()

	p.Report(types.LevelError, "a", "one", "", nil)
	p.Report(types.LevelError, "b", "two", "", nil)
	p.Report(types.LevelError, "c", "three", "", nil)

	waitFor(t, "delivery", func() bool { return p.Stats().Delivered == 3 })
	if got := p.Stats().Queued; got != 0 {
		t.Errorf("queued = %d after flush, want 0", got)
	}
	if sender.count() != 3 {
		t.Errorf("sent = %d, want 3", sender.count())
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	p := New(sender, Options{FlushDelay: 5 * time.Millisecond, MaxRetries: 3}, discardLogger())
	defer p.Close()

	p.Report(types.LevelError, "a", "flaky", "", nil)
	waitFor(t, "first failure", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.queue) == 1 && p.queue[0].Attempts == 1
	})

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	waitFor(t, "delivery after retry", func() bool { return p.Stats().Delivered == 1 })
}

func TestFlushDropsAfterRetryCeiling(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	p := New(sender, Options{FlushDelay: 5 * time.Millisecond, MaxRetries: 2}, discardLogger())
	defer p.Close()

	p.Report(types.LevelError, "a", "doomed", "", nil)

	waitFor(t, "drop", func() bool {
		s := p.Stats()
		return s.Dropped == 1 && s.Queued == 0
	})
	if got := p.Stats().Delivered; got != 0 {
		t.Errorf("delivered = %d, want 0", got)
	}
}

func TestTerminalRejectionNotRetried(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("%w: status 401", ErrTerminal)}
	p := New(sender, Options{FlushDelay: 5 * time.Millisecond}, discardLogger())
	defer p.Close()

	p.Report(types.LevelError, "a", "unauthorized", "", nil)

	waitFor(t, "terminal drop", func() bool { return p.Stats().Dropped == 1 })
	if got := p.Stats().Queued; got != 0 {
		t.Errorf("queued = %d, want 0 (terminal failures are not re-queued)", got)
	}
}

func TestReportCriticalImmediate(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, Options{FlushDelay: time.Hour}, discardLogger())

	p.ReportCritical("panic", "store corrupted", "stack", nil)

	stats := p.Stats()
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1 (immediate path)", stats.Delivered)
	}
	if stats.Queued != 0 {
		t.Errorf("queued = %d, want 0", stats.Queued)
	}
	if sender.count() != 1 || sender.sent[0].Level != types.LevelCritical {
		t.Error("critical report not sent immediately")
	}
}

func TestReportCriticalFallsBackToQueue(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	p := New(sender, Options{FlushDelay: 10 * time.Millisecond}, discardLogger())
	defer p.Close()

	p.ReportCritical("panic", "store corrupted", "", nil)

	if got := p.Stats().Queued; got != 1 {
		t.Fatalf("queued = %d after failed immediate delivery, want 1", got)
	}

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	waitFor(t, "queued delivery", func() bool { return p.Stats().Delivered == 1 })
}

func TestReportHTTPFaultClassification(t *testing.T) {
	tests := []struct {
		status   int
		level    types.ReportLevel
		category string
	}{
		{500, types.LevelError, "http_5xx"},
		{503, types.LevelError, "http_5xx"},
		{404, types.LevelWarning, "http_4xx"},
		{429, types.LevelWarning, "http_4xx"},
	}
	for _, tt := range tests {
		p := New(&fakeSender{}, Options{FlushDelay: time.Hour}, discardLogger())
		p.ReportHTTPFault(tt.status, "GET", "/api/tickets", "")

		p.mu.Lock()
		rep := p.queue[0]
		p.mu.Unlock()
		if rep.Level != tt.level {
			t.Errorf("status %d: level = %s, want %s", tt.status, rep.Level, tt.level)
		}
		if rep.Category != tt.category {
			t.Errorf("status %d: category = %s, want %s", tt.status, rep.Category, tt.category)
		}
	}
}

func TestReportHTTPFaultCarriesBody(t *testing.T) {
	p := New(&fakeSender{}, Options{FlushDelay: time.Hour}, discardLogger())
	p.ReportHTTPFault(502, "POST", "/tickets", `{"error":"upstream unavailable"}`)

	p.mu.Lock()
	rep := p.queue[0]
	p.mu.Unlock()
	if got := rep.Context["body"]; got != `{"error":"upstream unavailable"}` {
		t.Errorf("body context = %q", got)
	}
}

func TestReportHTTPFaultTruncatesBody(t *testing.T) {
	p := New(&fakeSender{}, Options{FlushDelay: time.Hour}, discardLogger())
	p.ReportHTTPFault(500, "GET", "/tickets", strings.Repeat("x", maxFaultBodyLen+100))

	p.mu.Lock()
	rep := p.queue[0]
	p.mu.Unlock()
	if got := len(rep.Context["body"]); got != maxFaultBodyLen {
		t.Errorf("body length = %d, want %d", got, maxFaultBodyLen)
	}
}

func TestReportEnrichment(t *testing.T) {
	p := New(&fakeSender{}, Options{FlushDelay: time.Hour, Version: "1.2.3"}, discardLogger())

	p.Report(types.LevelError, "a", "fault", "", map[string]string{"ticket": "42"})

	p.mu.Lock()
	ctx := p.queue[0].Context
	p.mu.Unlock()
	if ctx["agent_version"] != "1.2.3" {
		t.Errorf("agent_version = %q, want 1.2.3", ctx["agent_version"])
	}
	if ctx["os"] == "" {
		t.Error("os context missing")
	}
	if ctx["ticket"] != "42" {
		t.Error("caller context lost during enrichment")
	}
}

func TestCloseStopsAccepting(t *testing.T) {
	p := New(&fakeSender{}, Options{FlushDelay: time.Hour}, discardLogger())
	p.Close()

	if p.Report(types.LevelError, "a", "late", "", nil) {
		t.Error("report accepted after close")
	}
}

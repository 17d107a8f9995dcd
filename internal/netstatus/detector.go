// Package netstatus observes network connectivity. It exposes the
// current state as a boolean plus change notifications, mirroring the
// online/offline signal a browser would provide.
package netstatus

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probe answers whether the network currently looks reachable.
type Probe interface {
	Online(ctx context.Context) bool
}

// HTTPProbe checks reachability with a lightweight HEAD request.
// Any response, including an error status, counts as reachable; only
// transport-level failure means offline.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Online reports whether the probe URL answered at all.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Listener receives connectivity change notifications. It is invoked
// only when the online state flips, never for repeated identical probes.
type Listener func(online bool)

// Detector tracks connectivity and notifies subscribers on change.
// The zero state is online; a probe loop driven by Run keeps it current.
type Detector struct {
	probe    Probe
	interval time.Duration

	mu        sync.Mutex
	online    bool
	nextSubID int
	listeners map[int]Listener
}

// NewDetector creates a detector that polls the given probe on interval.
func NewDetector(probe Probe, interval time.Duration) *Detector {
	return &Detector{
		probe:     probe,
		interval:  interval,
		online:    true,
		listeners: make(map[int]Listener),
	}
}

// IsOnline returns the current connectivity state.
func (d *Detector) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// Subscribe registers a change listener and returns an unsubscribe func.
// Unsubscribing is idempotent.
func (d *Detector) Subscribe(fn func(online bool)) func() {
	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// SetOnline updates the state directly, notifying listeners on a flip.
// The probe loop uses it internally; tests and explicit UI toggles may
// call it as well.
func (d *Detector) SetOnline(online bool) {
	d.mu.Lock()
	if d.online == online {
		d.mu.Unlock()
		return
	}
	d.online = online
	listeners := make([]Listener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	slog.Info("connectivity changed",
		"component", "netstatus",
		"online", online,
	)
	for _, fn := range listeners {
		fn(online)
	}
}

// Run polls the probe until ctx is cancelled. It probes immediately on
// start so the first reading does not wait a full interval.
func (d *Detector) Run(ctx context.Context) {
	if d.probe == nil {
		<-ctx.Done()
		return
	}

	d.SetOnline(d.probe.Online(ctx))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SetOnline(d.probe.Online(ctx))
		}
	}
}

package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetector_DefaultsOnline(t *testing.T) {
	d := NewDetector(nil, time.Second)
	if !d.IsOnline() {
		t.Error("expected detector to start online")
	}
}

func TestDetector_NotifiesOnFlip(t *testing.T) {
	d := NewDetector(nil, time.Second)

	var got []bool
	d.Subscribe(func(online bool) { got = append(got, online) })

	d.SetOnline(false)
	d.SetOnline(false) // no flip, no notification
	d.SetOnline(true)

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0] != false || got[1] != true {
		t.Errorf("unexpected notification sequence: %v", got)
	}
}

func TestDetector_Unsubscribe(t *testing.T) {
	d := NewDetector(nil, time.Second)

	calls := 0
	unsubscribe := d.Subscribe(func(bool) { calls++ })

	d.SetOnline(false)
	unsubscribe()
	unsubscribe() // idempotent
	d.SetOnline(true)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestHTTPProbe_Online(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even an error status means the network path works.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := &HTTPProbe{URL: srv.URL, Timeout: time.Second}
	if !probe.Online(context.Background()) {
		t.Error("expected probe to report online for a responding server")
	}
}

func TestHTTPProbe_Offline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	probe := &HTTPProbe{URL: srv.URL, Timeout: time.Second}
	if probe.Online(context.Background()) {
		t.Error("expected probe to report offline for an unreachable server")
	}
}

func TestDetector_RunProbesImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := NewDetector(&HTTPProbe{URL: srv.URL, Timeout: 100 * time.Millisecond}, time.Hour)

	flipped := make(chan bool, 1)
	d.Subscribe(func(online bool) { flipped <- online })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case online := <-flipped:
		if online {
			t.Error("expected offline notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial probe")
	}
}

package outbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/tether/internal/types"
)

// Sender replays a queued action against the network. A nil error means
// the server confirmed the action; any error leaves it queued.
type Sender interface {
	Send(ctx context.Context, action types.QueuedAction) error
}

// HTTPFaultReporter receives the failed responses a replay produces.
// Implemented by report.Pipeline.
type HTTPFaultReporter interface {
	ReportHTTPFault(status int, method, url, body string) bool
}

// HTTPSender replays actions as plain REST calls against the sync API.
type HTTPSender struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
	Timeout   time.Duration
	Faults    HTTPFaultReporter
}

// Send issues the action's HTTP request. Non-2xx responses are errors;
// the body is drained so connections can be reused.
func (s *HTTPSender) Send(ctx context.Context, action types.QueuedAction) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(action.Target, "/")

	var body io.Reader
	if len(action.Body) > 0 {
		body = bytes.NewReader(action.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, action.Method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if len(action.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s %s: %w", action.Method, action.Target, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if s.Faults != nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			s.Faults.ReportHTTPFault(resp.StatusCode, action.Method, action.Target, string(respBody))
		}
		return fmt.Errorf("send %s %s: HTTP %d", action.Method, action.Target, resp.StatusCode)
	}
	return nil
}

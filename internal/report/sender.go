package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperengineering/tether/internal/types"
)

// ErrTerminal marks a delivery failure that retrying cannot fix. The
// pipeline drops the item instead of re-queuing it.
var ErrTerminal = errors.New("report rejected permanently")

// Sender delivers a single report to the monitoring endpoint.
type Sender interface {
	Send(ctx context.Context, rep types.ErrorReport) error
}

// HTTPSender posts reports as JSON. Network errors and non-2xx
// responses are equivalent to the retry logic, except 401 and 403
// which surface as ErrTerminal.
type HTTPSender struct {
	Endpoint  string
	AuthToken string
	Client    *http.Client
	Timeout   time.Duration
}

func (s *HTTPSender) Send(ctx context.Context, rep types.ErrorReport) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrTerminal, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("deliver report: unexpected status %d", resp.StatusCode)
	}
	return nil
}

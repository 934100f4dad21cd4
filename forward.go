package locationtracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// Forwarder posts each fix as JSON to an external collector. It is the
// sink used when fixes are not logged internally.
type Forwarder struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewForwarder returns a forwarder posting to url. A nil client uses
// http.DefaultClient.
func NewForwarder(url string, timeout time.Duration, client *http.Client) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{url: url, timeout: timeout, client: client}
}

// Handle is a notify.Handler.
func (f *Forwarder) Handle(loc tracking.TrackedLocation) error {
	body, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encoding fix: %w", err)
	}

	ctx := context.Background()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forwarding fix to %s: %w", f.url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, f.url)
	}
	return nil
}

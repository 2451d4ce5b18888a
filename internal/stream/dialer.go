package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Dialer opens one physical push stream for a session token. The
// returned reader yields server-sent events; closing it tears the
// connection down.
type Dialer interface {
	Dial(ctx context.Context, token string) (io.ReadCloser, error)
}

// SSEDialer is the production Dialer for ConnManager consumers
// embedding this package in a Go client; the server never dials
// itself. The token travels as a query parameter because
// EventSource-style clients cannot set headers.
type SSEDialer struct {
	URL    string // e.g. https://api.example.com/events
	Client *http.Client
}

func (d *SSEDialer) Dial(ctx context.Context, token string) (io.ReadCloser, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illef/illef-niri/internal/control"
	"github.com/illef/illef-niri/internal/metrics"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 20
)

// Snapshot mirrors the stats payload returned by the daemon.
type Snapshot = metrics.Snapshot

// Error is a non-2xx answer from the daemon. Reason is the response body.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return e.Reason
}

// Client talks to the running daemon over its HTTP control endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for addr, either host:port or a full URL. When addr is
// empty, the default listen address is used.
func New(addr string) *Client {
	if addr == "" {
		addr = control.DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{baseURL: strings.TrimRight(addr, "/"), http: &http.Client{}}
}

// ChangeLayout asks the daemon to toggle the master/slave split and returns
// its message.
func (c *Client) ChangeLayout(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, control.PathLayoutChange)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Stats retrieves the daemon's event counters.
func (c *Client) Stats(ctx context.Context) (Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, control.PathLayoutStats)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	return snap, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}
	return body, nil
}

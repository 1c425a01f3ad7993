package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/illef/illef-niri/internal/layout"
	"github.com/illef/illef-niri/internal/state"
)

// Client issues request/response calls over a single niri socket.
type Client struct {
	mu   sync.Mutex
	sock *Socket
}

// NewClient wraps an open socket.
func NewClient(sock *Socket) *Client {
	return &Client{sock: sock}
}

// DialClient opens a new connection at path and wraps it.
func DialClient(ctx context.Context, path string) (*Client, error) {
	sock, err := Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewClient(sock), nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.sock.Close()
}

func (c *Client) request(ctx context.Context, req Request, want string) (json.RawMessage, error) {
	c.mu.Lock()
	reply, err := c.sock.Send(ctx, req)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if reply.Variant != want {
		return nil, &ProtocolError{Request: req.String(), Got: reply.Variant}
	}
	return reply.Payload, nil
}

// ListWindows returns the current window snapshot.
func (c *Client) ListWindows(ctx context.Context) ([]state.Window, error) {
	payload, err := c.request(ctx, RequestWindows, ReplyWindows)
	if err != nil {
		return nil, err
	}
	windows, err := decodeWindows(payload)
	if err != nil {
		return nil, &ProtocolError{Request: RequestWindows.String(), Got: err.Error()}
	}
	return windows, nil
}

// ListWorkspaces returns the current workspace snapshot.
func (c *Client) ListWorkspaces(ctx context.Context) ([]state.Workspace, error) {
	payload, err := c.request(ctx, RequestWorkspaces, ReplyWorkspaces)
	if err != nil {
		return nil, err
	}
	workspaces, err := decodeWorkspaces(payload)
	if err != nil {
		return nil, &ProtocolError{Request: RequestWorkspaces.String(), Got: err.Error()}
	}
	return workspaces, nil
}

// SetWindowWidth resizes window id to proportion of the output width. niri
// applies the change asynchronously; this returns once the request is acknowledged.
func (c *Client) SetWindowWidth(ctx context.Context, id uint64, proportion float64) error {
	if !layout.ValidProportion(proportion) {
		return fmt.Errorf("proportion %v outside (0, 1]", proportion)
	}
	_, err := c.request(ctx, SetWindowWidthRequest(id, proportion*100), ReplyHandled)
	return err
}

// CenterWindow centers window id in the view.
func (c *Client) CenterWindow(ctx context.Context, id uint64) error {
	_, err := c.request(ctx, CenterWindowRequest(id), ReplyHandled)
	return err
}

var _ state.DataSource = (*Client)(nil)
var _ layout.Actuator = (*Client)(nil)
var _ layout.Source = (*Client)(nil)

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illef/illef-niri/internal/state"
)

// Event is a notification read from the niri event stream.
type Event interface {
	Kind() string
}

// WindowLayoutsChanged reports tile size or position changes.
type WindowLayoutsChanged struct {
	WindowIDs []uint64
}

// WindowOpenedOrChanged carries the full snapshot of a new or updated window.
type WindowOpenedOrChanged struct {
	Window state.Window
}

// WindowClosed reports the id of a closed window.
type WindowClosed struct {
	ID uint64
}

// Unhandled is any event variant this daemon does not react to.
type Unhandled struct {
	Name string
}

func (WindowLayoutsChanged) Kind() string  { return "WindowLayoutsChanged" }
func (WindowOpenedOrChanged) Kind() string { return "WindowOpenedOrChanged" }
func (WindowClosed) Kind() string          { return "WindowClosed" }
func (e Unhandled) Kind() string           { return e.Name }

// ErrSubscribeRejected is returned when niri does not acknowledge an event stream request.
var ErrSubscribeRejected = errors.New("event stream request not acknowledged")

// EventStream is a socket that has been switched to event streaming. niri
// accepts no further requests on it, so only reads are exposed.
type EventStream struct {
	sock *Socket
}

// Subscribe sends the EventStream request on sock and takes ownership of it.
func Subscribe(ctx context.Context, sock *Socket) (*EventStream, error) {
	reply, err := sock.Send(ctx, RequestEventStream)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeRejected, err)
	}
	if reply.Variant != ReplyHandled {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeRejected, &ProtocolError{Request: RequestEventStream.String(), Got: reply.Variant})
	}
	return &EventStream{sock: sock}, nil
}

// Next blocks until the next event arrives. Any error means the stream is
// unusable: the connection dropped or the stream is out of sync.
func (s *EventStream) Next(ctx context.Context) (Event, error) {
	line, err := s.sock.readLine(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := decodeEvent(line)
	if err != nil {
		return nil, &ProtocolError{Request: RequestEventStream.String(), Got: abbreviate(line)}
	}
	return ev, nil
}

// Close closes the stream connection.
func (s *EventStream) Close() error {
	return s.sock.Close()
}

type windowLayoutChange struct {
	ID uint64
}

func (c *windowLayoutChange) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected [id, layout] pair, got %d elements", len(pair))
	}
	return json.Unmarshal(pair[0], &c.ID)
}

func decodeEvent(line []byte) (Event, error) {
	name, body, err := decodeVariant(line)
	if err != nil {
		return nil, err
	}
	switch name {
	case "WindowLayoutsChanged":
		var payload struct {
			Changes []windowLayoutChange `json:"changes"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		ev := WindowLayoutsChanged{WindowIDs: make([]uint64, 0, len(payload.Changes))}
		for _, change := range payload.Changes {
			ev.WindowIDs = append(ev.WindowIDs, change.ID)
		}
		return ev, nil
	case "WindowOpenedOrChanged":
		var payload struct {
			Window wireWindow `json:"window"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return WindowOpenedOrChanged{Window: payload.Window.toState()}, nil
	case "WindowClosed":
		var payload struct {
			ID uint64 `json:"id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return WindowClosed{ID: payload.ID}, nil
	default:
		return Unhandled{Name: name}, nil
	}
}

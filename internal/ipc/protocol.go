package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/illef/illef-niri/internal/state"
)

// Reply variants used by this client.
const (
	ReplyHandled    = "Handled"
	ReplyWindows    = "Windows"
	ReplyWorkspaces = "Workspaces"
)

// Request is a single niri IPC request. niri encodes unit variants as bare
// strings and everything else as a single-key object.
type Request struct {
	name string
	body any
}

var (
	RequestWindows     = Request{name: "Windows"}
	RequestWorkspaces  = Request{name: "Workspaces"}
	RequestEventStream = Request{name: "EventStream"}
)

type windowRef struct {
	ID uint64 `json:"id"`
}

type sizeChange struct {
	SetProportion float64 `json:"SetProportion"`
}

type setWindowWidth struct {
	ID     uint64     `json:"id"`
	Change sizeChange `json:"change"`
}

// SetWindowWidthRequest resizes window id to percent of the output width.
func SetWindowWidthRequest(id uint64, percent float64) Request {
	return actionRequest("SetWindowWidth", setWindowWidth{ID: id, Change: sizeChange{SetProportion: percent}})
}

// CenterWindowRequest centers window id in the view.
func CenterWindowRequest(id uint64) Request {
	return actionRequest("CenterWindow", windowRef{ID: id})
}

func actionRequest(action string, body any) Request {
	return Request{name: "Action", body: map[string]any{action: body}}
}

// MarshalJSON implements json.Marshaler.
func (r Request) MarshalJSON() ([]byte, error) {
	if r.body == nil {
		return json.Marshal(r.name)
	}
	return json.Marshal(map[string]any{r.name: r.body})
}

func (r Request) String() string {
	if action, ok := r.body.(map[string]any); ok {
		for name := range action {
			return r.name + "." + name
		}
	}
	return r.name
}

// Reply is a successful niri response: its variant name and raw payload.
type Reply struct {
	Variant string
	Payload json.RawMessage
}

type wireReply struct {
	Ok  json.RawMessage `json:"Ok"`
	Err *string         `json:"Err"`
}

func decodeReply(req Request, line []byte) (Reply, error) {
	var raw wireReply
	if err := json.Unmarshal(line, &raw); err != nil {
		return Reply{}, &ProtocolError{Request: req.String(), Got: abbreviate(line)}
	}
	if raw.Err != nil {
		return Reply{}, &ProtocolError{Request: req.String(), Rejected: *raw.Err}
	}
	if len(raw.Ok) == 0 {
		return Reply{}, &ProtocolError{Request: req.String(), Got: abbreviate(line)}
	}
	variant, payload, err := decodeVariant(raw.Ok)
	if err != nil {
		return Reply{}, &ProtocolError{Request: req.String(), Got: abbreviate(raw.Ok)}
	}
	return Reply{Variant: variant, Payload: payload}, nil
}

// decodeVariant splits an externally tagged enum value into its name and body.
func decodeVariant(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return "", nil, err
		}
		return name, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected a single variant, got %d keys", len(obj))
	}
	for name, body := range obj {
		return name, body, nil
	}
	return "", nil, fmt.Errorf("empty variant")
}

func abbreviate(data []byte) string {
	const limit = 120
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return strconv.Quote(s)
}

type wireLayout struct {
	PosInScrollingLayout *[2]uint32 `json:"pos_in_scrolling_layout"`
	TileSize             [2]float64 `json:"tile_size"`
	WindowSize           [2]int32   `json:"window_size"`
}

type wireWindow struct {
	ID          uint64     `json:"id"`
	Title       *string    `json:"title"`
	AppID       *string    `json:"app_id"`
	WorkspaceID *uint64    `json:"workspace_id"`
	IsFocused   bool       `json:"is_focused"`
	IsFloating  bool       `json:"is_floating"`
	Layout      wireLayout `json:"layout"`
}

func (w wireWindow) toState() state.Window {
	win := state.Window{
		ID:          w.ID,
		WorkspaceID: w.WorkspaceID,
		Focused:     w.IsFocused,
		Floating:    w.IsFloating,
		Layout: state.WindowLayout{
			WindowSize: state.Size{Width: w.Layout.WindowSize[0], Height: w.Layout.WindowSize[1]},
			TileWidth:  w.Layout.TileSize[0],
			TileHeight: w.Layout.TileSize[1],
		},
	}
	if w.Title != nil {
		win.Title = *w.Title
	}
	if w.AppID != nil {
		win.AppID = *w.AppID
	}
	if pos := w.Layout.PosInScrollingLayout; pos != nil {
		win.Layout.Position = &state.Position{Column: pos[0], Row: pos[1]}
	}
	return win
}

type wireWorkspace struct {
	ID        uint64  `json:"id"`
	Idx       uint8   `json:"idx"`
	Name      *string `json:"name"`
	Output    *string `json:"output"`
	IsActive  bool    `json:"is_active"`
	IsFocused bool    `json:"is_focused"`
}

func (w wireWorkspace) toState() state.Workspace {
	ws := state.Workspace{
		ID:      w.ID,
		Index:   w.Idx,
		Active:  w.IsActive,
		Focused: w.IsFocused,
	}
	if w.Name != nil {
		ws.Name = *w.Name
	}
	if w.Output != nil {
		ws.Output = *w.Output
	}
	return ws
}

func decodeWindows(payload json.RawMessage) ([]state.Window, error) {
	var raw []wireWindow
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode windows: %w", err)
	}
	windows := make([]state.Window, 0, len(raw))
	for _, w := range raw {
		windows = append(windows, w.toState())
	}
	return windows, nil
}

func decodeWorkspaces(payload json.RawMessage) ([]state.Workspace, error) {
	var raw []wireWorkspace
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode workspaces: %w", err)
	}
	workspaces := make([]state.Workspace, 0, len(raw))
	for _, ws := range raw {
		workspaces = append(workspaces, ws.toState())
	}
	return workspaces, nil
}

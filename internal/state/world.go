package state

import (
	"context"
	"errors"
)

// ErrNoFocusedWorkspace is returned when the compositor reports no focused workspace.
var ErrNoFocusedWorkspace = errors.New("no focused workspace")

// Size is a window size in logical pixels.
type Size struct {
	Width  int32 `json:"width" yaml:"width"`
	Height int32 `json:"height" yaml:"height"`
}

// Position locates a tiled window in the scrolling layout. Both indices are 1-based.
type Position struct {
	Column uint32 `json:"column" yaml:"column"`
	Row    uint32 `json:"row" yaml:"row"`
}

// WindowLayout carries the size and position niri reports for a window.
type WindowLayout struct {
	WindowSize Size    `json:"windowSize" yaml:"windowSize"`
	TileWidth  float64 `json:"tileWidth" yaml:"tileWidth"`
	TileHeight float64 `json:"tileHeight" yaml:"tileHeight"`
	// Position is nil for windows outside the scrolling layout, e.g. floating ones.
	Position *Position `json:"position,omitempty" yaml:"position,omitempty"`
}

// Window describes a niri toplevel window.
type Window struct {
	ID          uint64       `json:"id" yaml:"id"`
	Title       string       `json:"title,omitempty" yaml:"title,omitempty"`
	AppID       string       `json:"appId,omitempty" yaml:"appId,omitempty"`
	WorkspaceID *uint64      `json:"workspaceId,omitempty" yaml:"workspaceId,omitempty"`
	Focused     bool         `json:"focused" yaml:"focused"`
	Floating    bool         `json:"floating" yaml:"floating"`
	Layout      WindowLayout `json:"layout" yaml:"layout"`
}

// InWorkspace reports whether the window sits on the workspace with id.
func (w Window) InWorkspace(id uint64) bool {
	return w.WorkspaceID != nil && *w.WorkspaceID == id
}

// Column returns the scrolling layout column, or 0 when the window has no position.
func (w Window) Column() uint32 {
	if w.Layout.Position == nil {
		return 0
	}
	return w.Layout.Position.Column
}

// Workspace describes a niri workspace.
type Workspace struct {
	ID      uint64 `json:"id" yaml:"id"`
	Index   uint8  `json:"index" yaml:"index"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
	Active  bool   `json:"active" yaml:"active"`
	Focused bool   `json:"focused" yaml:"focused"`
}

// DataSource abstracts the queries needed to build a snapshot.
type DataSource interface {
	ListWindows(ctx context.Context) ([]Window, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
}

// World is a point-in-time snapshot of niri windows and workspaces.
type World struct {
	Windows    []Window    `json:"windows" yaml:"windows"`
	Workspaces []Workspace `json:"workspaces" yaml:"workspaces"`
}

// NewWorld fetches a snapshot using the provided data source.
func NewWorld(ctx context.Context, src DataSource) (*World, error) {
	workspaces, err := src.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	windows, err := src.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	return &World{Windows: windows, Workspaces: workspaces}, nil
}

// FocusedWindow returns the focused window if present.
func (w *World) FocusedWindow() *Window {
	return focusedWindow(w.Windows)
}

// NonFloatingIDs returns the tiled window ids on the focused workspace.
func (w *World) NonFloatingIDs() ([]uint64, error) {
	return NonFloatingIDsInFocusedWorkspace(w.Windows, w.Workspaces)
}

func focusedWindow(windows []Window) *Window {
	for i := range windows {
		if windows[i].Focused {
			return &windows[i]
		}
	}
	return nil
}

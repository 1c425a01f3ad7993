package state

import "context"

const (
	masterColumn = 1
	slaveColumn  = 2
)

// MasterSlave returns the windows in columns 1 and 2 of the workspace that owns
// the focused window. The first window found in a column wins. Either result may
// be nil; both are nil when nothing is focused or the focused window has no workspace.
func MasterSlave(windows []Window) (master, slave *Window) {
	focused := focusedWindow(windows)
	if focused == nil || focused.WorkspaceID == nil {
		return nil, nil
	}
	workspaceID := *focused.WorkspaceID
	for i := range windows {
		w := &windows[i]
		if !w.InWorkspace(workspaceID) {
			continue
		}
		switch w.Column() {
		case masterColumn:
			if master == nil {
				master = w
			}
		case slaveColumn:
			if slave == nil {
				slave = w
			}
		}
	}
	return master, slave
}

// FocusedWorkspaceID returns the id of the focused workspace.
func FocusedWorkspaceID(workspaces []Workspace) (uint64, error) {
	for _, ws := range workspaces {
		if ws.Focused {
			return ws.ID, nil
		}
	}
	return 0, ErrNoFocusedWorkspace
}

// NonFloatingWindowIDs returns, in snapshot order, the ids of tiled windows on workspaceID.
func NonFloatingWindowIDs(windows []Window, workspaceID uint64) []uint64 {
	ids := make([]uint64, 0, len(windows))
	for _, w := range windows {
		if w.Floating || !w.InWorkspace(workspaceID) {
			continue
		}
		ids = append(ids, w.ID)
	}
	return ids
}

// NonFloatingIDsInFocusedWorkspace combines FocusedWorkspaceID and NonFloatingWindowIDs.
func NonFloatingIDsInFocusedWorkspace(windows []Window, workspaces []Workspace) ([]uint64, error) {
	id, err := FocusedWorkspaceID(workspaces)
	if err != nil {
		return nil, err
	}
	return NonFloatingWindowIDs(windows, id), nil
}

// FetchNonFloatingIDs queries src for a fresh snapshot and returns the tiled
// window ids on the focused workspace. Fetch errors are returned unchanged.
func FetchNonFloatingIDs(ctx context.Context, src DataSource) ([]uint64, error) {
	world, err := NewWorld(ctx, src)
	if err != nil {
		return nil, err
	}
	return world.NonFloatingIDs()
}

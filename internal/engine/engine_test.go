package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/layout"
	"github.com/illef/illef-niri/internal/metrics"
	"github.com/illef/illef-niri/internal/state"
	"github.com/illef/illef-niri/internal/util"
)

type fakeNiri struct {
	mu         sync.Mutex
	windows    []state.Window
	workspaces []state.Workspace
	listErr    error
	centerErr  map[uint64]error
	widthErr   map[uint64]error
	applied    []layout.Command
	closed     bool
}

func (f *fakeNiri) ListWindows(context.Context) ([]state.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]state.Window(nil), f.windows...), nil
}

func (f *fakeNiri) ListWorkspaces(context.Context) ([]state.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.Workspace(nil), f.workspaces...), nil
}

func (f *fakeNiri) SetWindowWidth(_ context.Context, id uint64, proportion float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, layout.Command{Kind: layout.CommandSetWidth, WindowID: id, Proportion: proportion})
	return f.widthErr[id]
}

func (f *fakeNiri) CenterWindow(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, layout.Command{Kind: layout.CommandCenter, WindowID: id})
	return f.centerErr[id]
}

func (f *fakeNiri) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeNiri) commands() []layout.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]layout.Command(nil), f.applied...)
}

var errStreamEOF = errors.New("read: EOF")

// fakeEvents replays events, then either fails or blocks until cancelled.
type fakeEvents struct {
	events []ipc.Event
	block  bool
	closed bool
}

func (f *fakeEvents) Next(ctx context.Context) (ipc.Event, error) {
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		return ev, nil
	}
	if f.block {
		<-ctx.Done()
		return nil, &ipc.TransportError{Op: "read", Err: ctx.Err()}
	}
	return nil, errStreamEOF
}

func (f *fakeEvents) Close() error {
	f.closed = true
	return nil
}

func focusedWorkspace() []state.Workspace {
	return []state.Workspace{
		{ID: 1, Index: 1, Active: true, Focused: true},
		{ID: 2, Index: 2},
	}
}

func tiled(id, workspace uint64, column uint32) state.Window {
	ws := workspace
	return state.Window{
		ID:          id,
		AppID:       "foot",
		WorkspaceID: &ws,
		Layout: state.WindowLayout{
			WindowSize: state.Size{Width: 800, Height: 600},
			Position:   &state.Position{Column: column, Row: 1},
		},
	}
}

func floating(id, workspace uint64) state.Window {
	w := tiled(id, workspace, 0)
	w.Floating = true
	w.Layout.Position = nil
	return w
}

func opened(w state.Window) ipc.Event {
	return ipc.WindowOpenedOrChanged{Window: w}
}

func newTestEngine(niri *fakeNiri, events *fakeEvents) (*Engine, *metrics.Collector, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelDebug, &buf)
	collector := metrics.NewCollector(true)
	dial := func(context.Context) (Actions, error) { return niri, nil }
	subscribe := func(context.Context) (EventSource, error) { return events, nil }
	return New(dial, subscribe, logger, collector, DefaultExcludedApps), collector, &buf
}

// runEvents feeds events through the reactor until the fake stream ends.
func runEvents(t *testing.T, niri *fakeNiri, events ...ipc.Event) (*Engine, *metrics.Collector) {
	t.Helper()
	stream := &fakeEvents{events: events}
	eng, collector, _ := newTestEngine(niri, stream)
	if err := eng.Run(context.Background()); !errors.Is(err, ErrStreamLost) {
		t.Fatalf("expected ErrStreamLost, got %v", err)
	}
	return eng, collector
}

func assertCommands(t *testing.T, niri *fakeNiri, want []layout.Command) {
	t.Helper()
	if diff := cmp.Diff(want, niri.commands()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func center(id uint64) layout.Command {
	return layout.Command{Kind: layout.CommandCenter, WindowID: id}
}

func width(id uint64, p float64) layout.Command {
	return layout.Command{Kind: layout.CommandSetWidth, WindowID: id, Proportion: p}
}

func TestLayoutChangeCentersLoneWindow(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(7, 1, 1), tiled(8, 2, 1), floating(9, 1)},
	}
	runEvents(t, niri, ipc.WindowLayoutsChanged{WindowIDs: []uint64{7}})
	assertCommands(t, niri, []layout.Command{center(7)})
}

func TestLayoutChangeWithTwoWindowsDoesNothing(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(1, 1, 1), tiled(2, 1, 2)},
	}
	runEvents(t, niri, ipc.WindowLayoutsChanged{WindowIDs: []uint64{1, 2}})
	assertCommands(t, niri, nil)
}

func TestClosedLeavesSoleWindowCenteredAtTwoThirds(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(3, 1, 1)},
	}
	runEvents(t, niri, ipc.WindowClosed{ID: 4})
	assertCommands(t, niri, []layout.Command{center(3), width(3, layout.TwoThirds)})
}

func TestOpenedPolicyByWindowCount(t *testing.T) {
	tests := []struct {
		name    string
		windows []state.Window
		want    []layout.Command
	}{
		{
			name:    "one window",
			windows: []state.Window{tiled(1, 1, 1)},
			want:    []layout.Command{center(1), width(1, layout.TwoThirds)},
		},
		{
			name:    "two windows",
			windows: []state.Window{tiled(1, 1, 1), tiled(2, 1, 2)},
			want:    []layout.Command{width(1, layout.Half), width(2, layout.Half)},
		},
		{
			name:    "three windows",
			windows: []state.Window{tiled(1, 1, 1), tiled(2, 1, 2), tiled(3, 1, 3)},
		},
		{
			name:    "none in focused workspace",
			windows: []state.Window{tiled(1, 2, 1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			niri := &fakeNiri{workspaces: focusedWorkspace(), windows: tt.windows}
			runEvents(t, niri, opened(tiled(1, 1, 1)))
			assertCommands(t, niri, tt.want)
		})
	}
}

func TestOpenedSeenWindowIsIgnored(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(1, 1, 1)},
	}
	_, collector := runEvents(t, niri, opened(tiled(1, 1, 1)), opened(tiled(1, 1, 1)))
	assertCommands(t, niri, []layout.Command{center(1), width(1, layout.TwoThirds)})

	snap := collector.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].Acted != 1 || snap.Events[0].Ignored != 1 {
		t.Fatalf("unexpected metrics: %#v", snap.Events)
	}
}

func TestOpenedExcludedOrFloatingIsIgnored(t *testing.T) {
	logseq := tiled(1, 1, 1)
	logseq.AppID = "Logseq"
	illpad := tiled(2, 1, 1)
	illpad.AppID = "illef.illpad"
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(5, 1, 1)},
	}
	runEvents(t, niri, opened(logseq), opened(illpad), opened(floating(3, 1)))
	assertCommands(t, niri, nil)
}

func TestClosedForgetsSeenWindow(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(1, 1, 1), tiled(2, 1, 2)},
	}
	runEvents(t, niri,
		opened(tiled(2, 1, 2)),
		ipc.WindowClosed{ID: 2},
		opened(tiled(2, 1, 2)),
	)
	pair := []layout.Command{width(1, layout.Half), width(2, layout.Half)}
	assertCommands(t, niri, append(append([]layout.Command(nil), pair...), pair...))
}

func TestFailuresDoNotStopTheLoop(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(1, 1, 1)},
		centerErr:  map[uint64]error{1: &ipc.ProtocolError{Request: "Action.CenterWindow", Rejected: "no such window"}},
	}
	stream := &fakeEvents{events: []ipc.Event{
		ipc.WindowClosed{ID: 9},
		ipc.WindowLayoutsChanged{WindowIDs: []uint64{1}},
	}}
	eng, collector, logs := newTestEngine(niri, stream)
	if err := eng.Run(context.Background()); !errors.Is(err, ErrStreamLost) {
		t.Fatalf("expected ErrStreamLost, got %v", err)
	}
	assertCommands(t, niri, []layout.Command{center(1), width(1, layout.TwoThirds), center(1)})
	if got := collector.Snapshot().Totals.ActionErrors; got != 2 {
		t.Fatalf("expected two action errors, got %d", got)
	}
	if !strings.Contains(logs.String(), "center 1 failed") {
		t.Fatalf("expected failure to be logged, got:\n%s", logs.String())
	}
}

func TestQueryFailureIsDiscarded(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		listErr:    &ipc.TransportError{Op: "read", Err: io.EOF},
	}
	_, collector := runEvents(t, niri,
		ipc.WindowLayoutsChanged{},
		opened(tiled(1, 1, 1)),
	)
	assertCommands(t, niri, nil)
	if got := collector.Snapshot().Totals; got.Received != 2 || got.ActionErrors != 2 {
		t.Fatalf("unexpected totals: %#v", got)
	}
}

func TestUnhandledEventsAreIgnored(t *testing.T) {
	niri := &fakeNiri{
		workspaces: focusedWorkspace(),
		windows:    []state.Window{tiled(1, 1, 1)},
	}
	_, collector := runEvents(t, niri, ipc.Unhandled{Name: "WorkspaceActivated"})
	assertCommands(t, niri, nil)
	if got := collector.Snapshot().Totals; got.Ignored != 1 {
		t.Fatalf("unexpected totals: %#v", got)
	}
}

func TestRunStreamLossTerminates(t *testing.T) {
	niri := &fakeNiri{workspaces: focusedWorkspace()}
	stream := &fakeEvents{}
	eng, _, _ := newTestEngine(niri, stream)
	if got := eng.State(); got != StateDisconnected {
		t.Fatalf("initial state = %s", got)
	}
	err := eng.Run(context.Background())
	if !errors.Is(err, ErrStreamLost) || !errors.Is(err, errStreamEOF) {
		t.Fatalf("expected wrapped stream loss, got %v", err)
	}
	if got := eng.State(); got != StateTerminated {
		t.Fatalf("state after loss = %s", got)
	}
	if !niri.closed || !stream.closed {
		t.Fatalf("expected both connections closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	niri := &fakeNiri{workspaces: focusedWorkspace()}
	stream := &fakeEvents{block: true}
	eng, _, _ := newTestEngine(niri, stream)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- eng.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for eng.State() != StateStreaming {
		if time.Now().After(deadline) {
			t.Fatalf("engine never reached streaming state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if errors.Is(err, ErrStreamLost) {
			t.Fatalf("cancellation must not be reported as stream loss")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRunConnectFailures(t *testing.T) {
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	dialErr := &ipc.TransportError{Op: "dial", Err: errors.New("connection refused")}

	eng := New(
		func(context.Context) (Actions, error) { return nil, dialErr },
		func(context.Context) (EventSource, error) { t.Fatalf("subscribe must not run"); return nil, nil },
		logger, nil, nil,
	)
	if err := eng.Run(context.Background()); !ipc.IsDial(err) {
		t.Fatalf("expected dial error, got %v", err)
	}

	niri := &fakeNiri{}
	eng = New(
		func(context.Context) (Actions, error) { return niri, nil },
		func(context.Context) (EventSource, error) { return nil, ipc.ErrSubscribeRejected },
		logger, nil, nil,
	)
	err := eng.Run(context.Background())
	if !errors.Is(err, ipc.ErrSubscribeRejected) || errors.Is(err, ErrStreamLost) {
		t.Fatalf("expected subscribe rejection, got %v", err)
	}
	if !niri.closed {
		t.Fatalf("expected action connection closed")
	}
	if eng.State() != StateTerminated {
		t.Fatalf("state = %s", eng.State())
	}
}

func TestExcludedAppsConfigurable(t *testing.T) {
	eng := New(nil, nil, nil, nil, []string{" Slack ", ""})
	if !eng.Excluded("Slack") {
		t.Fatalf("expected Slack to be excluded")
	}
	if eng.Excluded("Logseq") || eng.Excluded("") {
		t.Fatalf("unexpected exclusions")
	}
}

// TestForSocketSpeaksNiriProtocol runs the reactor against a fake niri
// listening on a unix socket.
func TestForSocketSpeaksNiriProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "niri.test.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var mu sync.Mutex
	var actions []string
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					var reply string
					switch line = strings.TrimSpace(line); line {
					case `"EventStream"`:
						conn.Write([]byte(`{"Ok":"Handled"}` + "\n"))
						conn.Write([]byte(`{"WindowOpenedOrChanged":{"window":{"id":4,"title":"x","app_id":"foot","pid":1,"workspace_id":1,"is_focused":true,"is_floating":false,"is_urgent":false,"layout":{"pos_in_scrolling_layout":[1,1],"tile_size":[10.0,10.0],"window_size":[10,10],"tile_pos_in_workspace_view":null,"window_offset_in_tile":[0.0,0.0]}}}}` + "\n"))
						return
					case `"Workspaces"`:
						reply = `{"Ok":{"Workspaces":[{"id":1,"idx":1,"name":null,"output":"DP-1","is_urgent":false,"is_active":true,"is_focused":true,"active_window_id":4}]}}`
					case `"Windows"`:
						reply = `{"Ok":{"Windows":[{"id":4,"title":"x","app_id":"foot","pid":1,"workspace_id":1,"is_focused":true,"is_floating":false,"is_urgent":false,"layout":{"pos_in_scrolling_layout":[1,1],"tile_size":[10.0,10.0],"window_size":[10,10],"tile_pos_in_workspace_view":null,"window_offset_in_tile":[0.0,0.0]}}]}}`
					default:
						mu.Lock()
						actions = append(actions, line)
						mu.Unlock()
						reply = `{"Ok":"Handled"}`
					}
					conn.Write([]byte(reply + "\n"))
				}
			}(conn)
		}
	}()

	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	eng := ForSocket(path, logger, nil, DefaultExcludedApps)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Run(ctx); !errors.Is(err, ErrStreamLost) {
		t.Fatalf("expected ErrStreamLost, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var want []string
	for _, req := range []ipc.Request{ipc.CenterWindowRequest(4), ipc.SetWindowWidthRequest(4, layout.TwoThirds*100)} {
		data, err := req.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %s: %v", req, err)
		}
		want = append(want, string(data))
	}
	if diff := cmp.Diff(want, actions); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
}

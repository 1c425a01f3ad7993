package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/layout"
	"github.com/illef/illef-niri/internal/metrics"
	"github.com/illef/illef-niri/internal/state"
	"github.com/illef/illef-niri/internal/util"
)

// DefaultExcludedApps are app ids that are never arranged automatically.
var DefaultExcludedApps = []string{"Logseq", "illef.illpad"}

// ErrStreamLost is returned by Run when reading the event stream fails.
var ErrStreamLost = errors.New("niri event stream lost")

// State is the reactor's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Actions is the request connection used for queries and corrective actions.
type Actions interface {
	state.DataSource
	layout.Actuator
	Close() error
}

// EventSource is a subscribed event stream.
type EventSource interface {
	Next(ctx context.Context) (ipc.Event, error)
	Close() error
}

// DialFunc opens the action connection.
type DialFunc func(ctx context.Context) (Actions, error)

// SubscribeFunc opens the event connection and subscribes to the stream.
type SubscribeFunc func(ctx context.Context) (EventSource, error)

// Engine reacts to niri window events and keeps lone windows centered and
// pairs split evenly.
type Engine struct {
	logger    *util.Logger
	metrics   *metrics.Collector
	excluded  map[string]struct{}
	dial      DialFunc
	subscribe SubscribeFunc
	state     atomic.Int32
}

// New creates an engine that connects through dial and subscribe.
func New(dial DialFunc, subscribe SubscribeFunc, logger *util.Logger, collector *metrics.Collector, excludedApps []string) *Engine {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	excluded := make(map[string]struct{}, len(excludedApps))
	for _, app := range excludedApps {
		if app = strings.TrimSpace(app); app != "" {
			excluded[app] = struct{}{}
		}
	}
	return &Engine{
		logger:    logger,
		metrics:   collector,
		excluded:  excluded,
		dial:      dial,
		subscribe: subscribe,
	}
}

// ForSocket creates an engine that opens both of its connections on the niri
// socket at path.
func ForSocket(path string, logger *util.Logger, collector *metrics.Collector, excludedApps []string) *Engine {
	dial := func(ctx context.Context) (Actions, error) {
		return ipc.DialClient(ctx, path)
	}
	subscribe := func(ctx context.Context) (EventSource, error) {
		sock, err := ipc.Dial(ctx, path)
		if err != nil {
			return nil, err
		}
		stream, err := ipc.Subscribe(ctx, sock)
		if err != nil {
			sock.Close()
			return nil, err
		}
		return stream, nil
	}
	return New(dial, subscribe, logger, collector, excludedApps)
}

// State reports the current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	if prev := State(e.state.Swap(int32(s))); prev != s {
		e.logger.Debugf("reactor %s -> %s", prev, s)
	}
}

// Excluded reports whether windows of app are left alone.
func (e *Engine) Excluded(app string) bool {
	_, ok := e.excluded[app]
	return ok
}

// Run connects, subscribes and handles events until the stream fails or ctx
// is cancelled. Stream failures are returned wrapped in ErrStreamLost.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(StateDisconnected)
	defer e.setState(StateTerminated)

	actions, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("open action connection: %w", err)
	}
	defer actions.Close()

	e.setState(StateSubscribing)
	events, err := e.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to event stream: %w", err)
	}
	defer events.Close()

	e.setState(StateStreaming)
	e.logger.Infof("listening for niri events")
	seen := make(map[uint64]struct{})
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrStreamLost, err)
		}
		e.handle(ctx, actions, seen, ev)
	}
}

// outcome is everything a single event produced that the reactor does not
// act on further.
type outcome struct {
	queryErr error
	results  []layout.CommandResult
}

func (e *Engine) handle(ctx context.Context, actions Actions, seen map[uint64]struct{}, ev ipc.Event) {
	kind := ev.Kind()
	e.metrics.RecordReceived(kind)
	e.logger.Tracef("event.received kind=%s", kind)

	plan, err := e.plan(ctx, actions, seen, ev)
	if err != nil {
		e.discard(kind, outcome{queryErr: err})
		return
	}
	if plan.Empty() {
		e.discard(kind, outcome{})
		return
	}
	e.logger.Debugf("applying %d actions for %s", len(plan.Commands), kind)
	e.discard(kind, outcome{results: plan.ExecuteAll(ctx, actions)})
}

// plan applies the window policy to one event. The seen set is updated here.
func (e *Engine) plan(ctx context.Context, src state.DataSource, seen map[uint64]struct{}, ev ipc.Event) (layout.Plan, error) {
	switch ev := ev.(type) {
	case ipc.WindowLayoutsChanged:
		ids, err := state.FetchNonFloatingIDs(ctx, src)
		if err != nil {
			return layout.Plan{}, err
		}
		if len(ids) == 1 {
			return layout.CenterOnly(ids[0]), nil
		}
	case ipc.WindowClosed:
		delete(seen, ev.ID)
		ids, err := state.FetchNonFloatingIDs(ctx, src)
		if err != nil {
			return layout.Plan{}, err
		}
		if len(ids) == 1 {
			return layout.Solo(ids[0]), nil
		}
	case ipc.WindowOpenedOrChanged:
		w := ev.Window
		if _, ok := seen[w.ID]; ok {
			return layout.Plan{}, nil
		}
		seen[w.ID] = struct{}{}
		if e.Excluded(w.AppID) || w.Floating {
			e.logger.Debugf("leaving window %d (%s) alone", w.ID, w.AppID)
			return layout.Plan{}, nil
		}
		ids, err := state.FetchNonFloatingIDs(ctx, src)
		if err != nil {
			return layout.Plan{}, err
		}
		return Arrange(ids), nil
	}
	return layout.Plan{}, nil
}

// Arrange is the new-window policy for the tiled windows of the focused
// workspace: a lone window is centered at two thirds width and a pair is
// split evenly. Any other count is left alone.
func Arrange(ids []uint64) layout.Plan {
	switch len(ids) {
	case 1:
		return layout.Solo(ids[0])
	case 2:
		return layout.Pair(ids[0], ids[1])
	default:
		return layout.Plan{}
	}
}

// discard is the only place per-event failures end up. They are logged and
// counted; the event loop always continues.
func (e *Engine) discard(kind string, out outcome) {
	if out.queryErr != nil {
		e.logger.Warnf("%s: query failed: %v", kind, out.queryErr)
		e.metrics.RecordActionError(kind)
		return
	}
	if len(out.results) == 0 {
		e.metrics.RecordIgnored(kind)
		return
	}
	e.metrics.RecordActed(kind)
	for _, res := range out.results {
		if res.Err != nil {
			e.logger.Warnf("%s: %s failed: %v", kind, res.Command, res.Err)
			e.metrics.RecordActionError(kind)
		}
	}
}

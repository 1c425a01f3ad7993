package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/illef/illef-niri/internal/util"
)

const (
	// EnvSocket names the variable niri exports with its socket path.
	EnvSocket = "NIRI_SOCKET"
	// DefaultMarker is the substring identifying niri's socket in the runtime dir.
	DefaultMarker = "niri."
	// DefaultPollInterval is how long Resolve waits between directory scans.
	DefaultPollInterval = time.Second

	fallbackRuntimeDir = "/tmp"
)

// Clock supplies the waits between lookups.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RuntimeDir returns $XDG_RUNTIME_DIR, or /tmp when unset.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return fallbackRuntimeDir
}

// Resolver finds the niri socket, waiting for it to appear when niri has not
// finished starting yet.
type Resolver struct {
	// Explicit is checked before scanning; usually $NIRI_SOCKET.
	Explicit   string
	RuntimeDir string
	Marker     string
	Interval   time.Duration
	Clock      Clock
	// Watch enables fsnotify wakeups on RuntimeDir in addition to polling.
	Watch  bool
	Logger *util.Logger
}

// NewResolver returns a resolver configured from the environment.
func NewResolver(logger *util.Logger) *Resolver {
	return &Resolver{
		Explicit:   os.Getenv(EnvSocket),
		RuntimeDir: RuntimeDir(),
		Marker:     DefaultMarker,
		Interval:   DefaultPollInterval,
		Clock:      realClock{},
		Watch:      true,
		Logger:     logger,
	}
}

// Lookup makes a single attempt to find the socket.
func (r *Resolver) Lookup() (string, bool) {
	if r.Explicit != "" {
		if _, err := os.Stat(r.Explicit); err == nil {
			return r.Explicit, true
		}
	}
	entries, err := os.ReadDir(r.RuntimeDir)
	if err != nil {
		return "", false
	}
	marker := r.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), marker) {
			return filepath.Join(r.RuntimeDir, entry.Name()), true
		}
	}
	return "", false
}

// Resolve blocks until the socket is found or ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	var created <-chan fsnotify.Event
	var watchErrs <-chan error
	if r.Watch {
		if watcher, err := r.watch(); err == nil {
			defer watcher.Close()
			created = watcher.Events
			watchErrs = watcher.Errors
		} else {
			r.debugf("socket dir watch unavailable, polling only: %v", err)
		}
	}
	clock := r.Clock
	if clock == nil {
		clock = realClock{}
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for attempt := 1; ; attempt++ {
		if path, ok := r.Lookup(); ok {
			return path, nil
		}
		if attempt == 1 {
			r.infof("waiting for niri socket in %s", r.RuntimeDir)
		}
		tick := clock.After(interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-tick:
				break wait
			case ev, ok := <-created:
				if !ok {
					created = nil
					continue
				}
				if ev.Op&fsnotify.Create != 0 {
					break wait
				}
			case err, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
					continue
				}
				r.debugf("socket dir watch error: %v", err)
			}
		}
	}
}

func (r *Resolver) watch() (*fsnotify.Watcher, error) {
	if r.RuntimeDir == "" {
		return nil, errors.New("no runtime dir")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(r.RuntimeDir); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func (r *Resolver) infof(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Infof(format, args...)
	}
}

func (r *Resolver) debugf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Debugf(format, args...)
	}
}

package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/illef/illef-niri/internal/control"
	"github.com/illef/illef-niri/internal/engine"
	"github.com/illef/illef-niri/internal/ipc"
)

// EnvLogLevel overrides the default log level.
const EnvLogLevel = "ILLEF_NIRI_LOG_LEVEL"

var validLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// Options holds the daemon's runtime settings. There is no config file;
// values come from flags with defaults taken from the environment.
type Options struct {
	LogLevel     string
	Listen       string
	Socket       string
	ExcludedApps []string
	SocketPoll   time.Duration
	Stats        bool
}

// Default returns the options used when no flags are given.
func Default() Options {
	level := os.Getenv(EnvLogLevel)
	if level == "" {
		level = "info"
	}
	return Options{
		LogLevel:     level,
		Listen:       control.DefaultAddr,
		Socket:       os.Getenv(ipc.EnvSocket),
		ExcludedApps: append([]string(nil), engine.DefaultExcludedApps...),
		SocketPoll:   ipc.DefaultPollInterval,
		Stats:        true,
	}
}

// BindFlags registers the options on fs, using the current values as defaults.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level (trace, debug, info, warn, error); env "+EnvLogLevel)
	fs.StringVar(&o.Listen, "listen", o.Listen, "address of the HTTP control server")
	fs.StringVar(&o.Socket, "socket", o.Socket, "niri socket path; env "+ipc.EnvSocket+", otherwise discovered in $XDG_RUNTIME_DIR")
	fs.StringSliceVar(&o.ExcludedApps, "exclude-app", o.ExcludedApps, "app id never arranged automatically (repeatable)")
	fs.DurationVar(&o.SocketPoll, "socket-poll", o.SocketPoll, "interval between scans while waiting for the niri socket")
	fs.BoolVar(&o.Stats, "stats", o.Stats, "collect event counters served on "+control.PathLayoutStats)
}

// Validate performs basic sanity checks.
func (o Options) Validate() error {
	if !validLevel(o.LogLevel) {
		return fmt.Errorf("log-level %q must be one of %s", o.LogLevel, strings.Join(validLevels, ", "))
	}
	if _, port, err := net.SplitHostPort(o.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", o.Listen, err)
	} else if port == "" {
		return fmt.Errorf("listen %q: missing port", o.Listen)
	}
	if o.SocketPoll <= 0 {
		return fmt.Errorf("socket-poll must be positive, got %s", o.SocketPoll)
	}
	seen := map[string]struct{}{}
	for _, app := range o.ExcludedApps {
		app = strings.TrimSpace(app)
		if app == "" {
			return fmt.Errorf("exclude-app cannot be empty")
		}
		if _, exists := seen[app]; exists {
			return fmt.Errorf("duplicate exclude-app %q", app)
		}
		seen[app] = struct{}{}
	}
	return nil
}

func validLevel(level string) bool {
	level = strings.ToLower(strings.TrimSpace(level))
	for _, v := range validLevels {
		if level == v {
			return true
		}
	}
	return false
}

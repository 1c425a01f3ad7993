package layout

import (
	"context"
	"fmt"
	"strconv"
)

// Actuator applies window actions on the compositor.
type Actuator interface {
	SetWindowWidth(ctx context.Context, id uint64, proportion float64) error
	CenterWindow(ctx context.Context, id uint64) error
}

// CommandKind names a single compositor action.
type CommandKind string

const (
	CommandCenter   CommandKind = "center"
	CommandSetWidth CommandKind = "set-width"
)

// Command is one action against one window.
type Command struct {
	Kind       CommandKind `json:"kind" yaml:"kind"`
	WindowID   uint64      `json:"windowId" yaml:"windowId"`
	Proportion float64     `json:"proportion,omitempty" yaml:"proportion,omitempty"`
}

func (c Command) String() string {
	if c.Kind == CommandSetWidth {
		return fmt.Sprintf("%s %d %s", c.Kind, c.WindowID, strconv.FormatFloat(c.Proportion, 'f', -1, 64))
	}
	return fmt.Sprintf("%s %d", c.Kind, c.WindowID)
}

func (c Command) apply(ctx context.Context, a Actuator) error {
	switch c.Kind {
	case CommandCenter:
		return a.CenterWindow(ctx, c.WindowID)
	case CommandSetWidth:
		return a.SetWindowWidth(ctx, c.WindowID, c.Proportion)
	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
}

// Plan is an ordered list of commands.
type Plan struct {
	Commands []Command
}

// Center appends a center action.
func (p *Plan) Center(id uint64) {
	p.Commands = append(p.Commands, Command{Kind: CommandCenter, WindowID: id})
}

// SetWidth appends a resize-to-proportion action.
func (p *Plan) SetWidth(id uint64, proportion float64) {
	p.Commands = append(p.Commands, Command{Kind: CommandSetWidth, WindowID: id, Proportion: proportion})
}

// Empty reports whether the plan has no commands.
func (p Plan) Empty() bool {
	return len(p.Commands) == 0
}

// CenterOnly centers a lone window.
func CenterOnly(id uint64) Plan {
	var p Plan
	p.Center(id)
	return p
}

// Solo centers a lone window and gives it two thirds of the output.
func Solo(id uint64) Plan {
	var p Plan
	p.Center(id)
	p.SetWidth(id, TwoThirds)
	return p
}

// Pair splits two windows evenly.
func Pair(first, second uint64) Plan {
	var p Plan
	p.SetWidth(first, Half)
	p.SetWidth(second, Half)
	return p
}

// CommandResult pairs a command with the error it produced, if any.
type CommandResult struct {
	Command Command
	Err     error
}

// ExecuteAll attempts every command regardless of earlier failures.
func (p Plan) ExecuteAll(ctx context.Context, a Actuator) []CommandResult {
	results := make([]CommandResult, 0, len(p.Commands))
	for _, cmd := range p.Commands {
		results = append(results, CommandResult{Command: cmd, Err: cmd.apply(ctx, a)})
	}
	return results
}

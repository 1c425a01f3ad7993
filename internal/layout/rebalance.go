package layout

import (
	"context"
	"errors"
	"fmt"

	"github.com/illef/illef-niri/internal/state"
)

// PolicyError reports an unmet precondition of a layout operation.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

var (
	// ErrNotEnoughWindows is returned when the focused workspace lacks a master or slave column.
	ErrNotEnoughWindows = &PolicyError{Reason: "not enough windows to change layout"}

	// ErrListWindows marks failures fetching the window snapshot.
	ErrListWindows = errors.New("failed to get windows")
	// ErrSetWidth marks failures applying a width change.
	ErrSetWidth = errors.New("failed to set window width")
)

// RebalanceMessage is reported after a successful rebalance.
const RebalanceMessage = "go master/slave mode"

// Source is what a rebalance needs from the compositor.
type Source interface {
	ListWindows(ctx context.Context) ([]state.Window, error)
	Actuator
}

// Result describes an applied rebalance.
type Result struct {
	Master           uint64  `json:"master" yaml:"master"`
	Slave            uint64  `json:"slave" yaml:"slave"`
	MasterProportion float64 `json:"masterProportion" yaml:"masterProportion"`
	SlaveProportion  float64 `json:"slaveProportion" yaml:"slaveProportion"`
	// Refused lists resizes the compositor answered with an error reply.
	Refused []Command `json:"refused,omitempty" yaml:"refused,omitempty"`
}

// refusal is implemented by errors for requests the compositor received and
// declined. The connection is still usable afterwards.
type refusal interface {
	Refused() bool
}

func refused(err error) bool {
	var r refusal
	return errors.As(err, &r) && r.Refused()
}

// PlanRebalance computes the width changes for the master/slave pair in windows.
func PlanRebalance(windows []state.Window) (Result, Plan, error) {
	master, slave := state.MasterSlave(windows)
	if master == nil || slave == nil {
		return Result{}, Plan{}, ErrNotEnoughWindows
	}
	mp, sp := SplitProportions(*master, *slave)
	res := Result{Master: master.ID, Slave: slave.ID, MasterProportion: mp, SlaveProportion: sp}
	var p Plan
	p.SetWidth(master.ID, mp)
	p.SetWidth(slave.ID, sp)
	return res, p, nil
}

// Rebalance toggles the focused workspace between an even split and a 2:1
// master/slave split. A resize the compositor declines is recorded in
// Result.Refused and the next one is still sent. Any other failure aborts; a
// master resize that already went through is not rolled back.
func Rebalance(ctx context.Context, src Source) (Result, error) {
	windows, err := src.ListWindows(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrListWindows, err)
	}
	res, plan, err := PlanRebalance(windows)
	if err != nil {
		return Result{}, err
	}
	for _, cmd := range plan.Commands {
		err := cmd.apply(ctx, src)
		switch {
		case err == nil:
		case refused(err):
			res.Refused = append(res.Refused, cmd)
		default:
			return res, fmt.Errorf("%w: %s: %w", ErrSetWidth, cmd, err)
		}
	}
	return res, nil
}

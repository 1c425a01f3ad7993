package control

import (
	"errors"

	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/layout"
)

const (
	// DefaultAddr is the loopback address the control server listens on.
	DefaultAddr = "127.0.0.1:9999"

	// Endpoint paths.
	PathLayoutChange = "/layout/change"
	PathLayoutStats  = "/layout/stats"

	// Failure reasons reported to HTTP callers.
	ReasonConnect    = "failed to connect to niri"
	ReasonUnexpected = "unexpected response from niri"
)

// reasonFor maps a rebalance failure to the text returned to the caller.
func reasonFor(err error) string {
	var pe *layout.PolicyError
	var proto *ipc.ProtocolError
	switch {
	case ipc.IsDial(err):
		return ReasonConnect
	case errors.As(err, &pe):
		return pe.Reason
	case errors.Is(err, layout.ErrSetWidth):
		return layout.ErrSetWidth.Error()
	case errors.As(err, &proto) && proto.Unexpected():
		return ReasonUnexpected
	case errors.Is(err, layout.ErrListWindows):
		return layout.ErrListWindows.Error()
	default:
		return err.Error()
	}
}

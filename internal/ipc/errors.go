package ipc

import (
	"errors"
	"fmt"
)

// TransportError reports a failure on the socket itself: dial, read or write.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("niri socket %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a reply that does not fit the request. Rejected holds
// the compositor's message when it answered with an Err reply.
type ProtocolError struct {
	Request  string
	Got      string
	Rejected string
}

func (e *ProtocolError) Error() string {
	if e.Rejected != "" {
		return fmt.Sprintf("niri rejected %s: %s", e.Request, e.Rejected)
	}
	return fmt.Sprintf("unexpected reply to %s: %s", e.Request, e.Got)
}

// Refused reports whether the compositor answered with an Err reply.
func (e *ProtocolError) Refused() bool {
	return e.Rejected != ""
}

// Unexpected reports whether the reply was the wrong shape, as opposed to a refusal.
func (e *ProtocolError) Unexpected() bool {
	return e.Rejected == ""
}

// IsDial reports whether err is a failure to connect to the socket.
func IsDial(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Op == opDial
}

const (
	opDial  = "dial"
	opRead  = "read"
	opWrite = "write"
)

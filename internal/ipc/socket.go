package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"
)

// Socket is one connection to the niri IPC socket. It is not safe for
// concurrent use; Client adds the locking.
type Socket struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the niri socket at path.
func Dial(ctx context.Context, path string) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &TransportError{Op: opDial, Err: err}
	}
	return newSocket(conn), nil
}

func newSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes req and waits for the matching reply line.
func (s *Socket) Send(ctx context.Context, req Request) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, err
	}
	stop := s.bind(ctx)
	defer stop()

	payload = append(payload, '\n')
	if _, err := s.conn.Write(payload); err != nil {
		return Reply{}, s.transportErr(ctx, opWrite, err)
	}
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return Reply{}, s.transportErr(ctx, opRead, err)
	}
	return decodeReply(req, line)
}

// readLine blocks until the next newline-terminated message arrives.
func (s *Socket) readLine(ctx context.Context) ([]byte, error) {
	stop := s.bind(ctx)
	defer stop()
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return nil, s.transportErr(ctx, opRead, err)
	}
	return line, nil
}

// bind applies the context deadline to the connection and unblocks pending
// I/O when ctx is cancelled.
func (s *Socket) bind(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
	} else {
		_ = s.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

func (s *Socket) transportErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	return &TransportError{Op: op, Err: err}
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

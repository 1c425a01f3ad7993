package ipc

import (
	"bufio"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
			return
		}
		os.Setenv(key, original)
	})
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func isProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// startTestServer listens on a unix socket in a temp dir and runs handler for
// every accepted connection.
func startTestServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "niri.test.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on unix socket: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	return path
}

// requestLog records request lines received by a fake niri.
type requestLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *requestLog) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// replyServer answers each request line with reply(line). An empty reply
// closes the connection.
func replyServer(log *requestLog, reply func(req string) string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if log != nil {
				log.add(line)
			}
			resp := reply(line)
			if resp == "" {
				return
			}
			if _, err := conn.Write([]byte(resp + "\n")); err != nil {
				return
			}
		}
	}
}

const (
	windowsJSON = `[` +
		`{"id":1,"title":"editor","app_id":"foot","pid":10,"workspace_id":3,"is_focused":true,"is_floating":false,"is_urgent":false,` +
		`"layout":{"pos_in_scrolling_layout":[1,1],"tile_size":[804.0,1040.0],"window_size":[800,1036],"tile_pos_in_workspace_view":null,"window_offset_in_tile":[2.0,2.0]}},` +
		`{"id":2,"title":null,"app_id":null,"pid":null,"workspace_id":null,"is_focused":false,"is_floating":true,"is_urgent":false,` +
		`"layout":{"pos_in_scrolling_layout":null,"tile_size":[400.0,300.0],"window_size":[400,300],"tile_pos_in_workspace_view":[10.0,10.0],"window_offset_in_tile":[0.0,0.0]}}` +
		`]`
	workspacesJSON = `[` +
		`{"id":3,"idx":1,"name":null,"output":"DP-1","is_urgent":false,"is_active":true,"is_focused":true,"active_window_id":1},` +
		`{"id":4,"idx":2,"name":"web","output":"DP-1","is_urgent":false,"is_active":false,"is_focused":false,"active_window_id":null}` +
		`]`
)

package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omechat/omechat-go/internal/protocol"
)

// ---------------------------------------------------------------------------
// Minimal WebSocket server for transport tests
// ---------------------------------------------------------------------------

type wsServer struct {
	ln       net.Listener
	mu       sync.Mutex
	conns    []net.Conn
	accepted int32
}

func startWSServer(t *testing.T) *wsServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &wsServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := ws.Upgrade(conn); err != nil {
				conn.Close()
				continue
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			atomic.AddInt32(&s.accepted, 1)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	return s
}

func (s *wsServer) url() string {
	return "ws://" + s.ln.Addr().String()
}

func (s *wsServer) acceptedCount() int {
	return int(atomic.LoadInt32(&s.accepted))
}

// conn returns the i-th accepted connection, waiting for it to appear.
func (s *wsServer) conn(t *testing.T, i int) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.conns) > i {
			c := s.conns[i]
			s.mu.Unlock()
			return c
		}
		s.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("server connection %d never arrived", i)
	return nil
}

func (s *wsServer) push(t *testing.T, i int, data []byte) {
	t.Helper()
	if err := wsutil.WriteServerMessage(s.conn(t, i), ws.OpText, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func testClientConfig() Config {
	return Config{RetryLimit: 5, RetryDelay: 10 * time.Millisecond}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConnectAndDispatch(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())
	defer c.Close()

	var mu sync.Mutex
	var got []string
	c.Subscribe(protocol.EventMessage, func(raw json.RawMessage) {
		var ev protocol.MessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		mu.Lock()
		got = append(got, ev.Text)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Fatalf("expected connected, got %s", c.Status())
	}

	srv.push(t, 0, []byte(`{"type":"message","text":"first"}`))
	srv.push(t, 0, []byte(`{"type":"message","text":"second"}`))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("events out of order: %v", got)
	}
}

func TestSendDeliversEvent(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := c.Send(protocol.EventJoin, protocol.JoinEvent{
		Identity:  "tab-test",
		Interests: []string{"music"},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	data, err := wsutil.ReadClientText(srv.conn(t, 0))
	if err != nil {
		t.Fatalf("server read: %v", err)
	}

	evtType, evt, err := protocol.ParseClientEvent(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evtType != protocol.EventJoin {
		t.Fatalf("expected join, got %q", evtType)
	}
	if je := evt.(protocol.JoinEvent); je.Identity != "tab-test" {
		t.Errorf("unexpected identity: %q", je.Identity)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewConn("ws://127.0.0.1:0", testClientConfig())
	defer c.Close()

	err := c.Send(protocol.EventTyping, protocol.TypingEvent{Room: "r"})
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())
	defer c.Close()

	var count int32
	cancel := c.Subscribe(protocol.EventMessage, func(json.RawMessage) {
		atomic.AddInt32(&count, 1)
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	srv.push(t, 0, []byte(`{"type":"message","text":"before"}`))
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&count) == 1 })

	cancel()
	srv.push(t, 0, []byte(`{"type":"message","text":"after"}`))
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("cancelled handler still invoked: %d", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Server drops the connection; the client must come back on its own.
	srv.conn(t, 0).Close()

	waitFor(t, 2*time.Second, func() bool {
		return srv.acceptedCount() == 2 && c.Status() == StatusConnected
	})

	// The re-established connection still dispatches events.
	var got int32
	c.Subscribe(protocol.EventTyping, func(json.RawMessage) {
		atomic.AddInt32(&got, 1)
	})
	srv.push(t, 1, []byte(`{"type":"typing"}`))
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&got) == 1 })
}

func TestReconnectExhaustedSurfacesDisconnected(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var mu sync.Mutex
	var seen []Status
	c.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	// Kill the listener so every retry fails, then drop the connection.
	srv.ln.Close()
	srv.conn(t, 0).Close()

	waitFor(t, 5*time.Second, func() bool {
		return c.Status() == StatusDisconnected
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != StatusConnecting {
		t.Fatalf("expected connecting before giving up, got %v", seen)
	}
	if seen[len(seen)-1] != StatusDisconnected {
		t.Fatalf("expected terminal disconnected, got %v", seen)
	}
}

func TestCloseStopsReconnect(t *testing.T) {
	srv := startWSServer(t)
	c := NewConn(srv.url(), testClientConfig())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Close()

	time.Sleep(100 * time.Millisecond)
	if got := srv.acceptedCount(); got != 1 {
		t.Fatalf("closed connection must not reconnect, got %d accepts", got)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected after close, got %s", c.Status())
	}
}

func TestStatusString(t *testing.T) {
	if StatusConnecting.String() != "connecting" ||
		StatusConnected.String() != "connected" ||
		StatusDisconnected.String() != "disconnected" {
		t.Error("unexpected status strings")
	}
}

// Package transport owns the single long-lived WebSocket connection to the
// relay service. It dispatches inbound events to per-type subscribers in
// arrival order, serializes outbound frames, and handles automatic
// reconnection with a bounded number of fixed-delay attempts.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omechat/omechat-go/internal/metrics"
	"github.com/omechat/omechat-go/internal/protocol"
)

// Status is the observable connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send while the connection is not in the
// Connected state. Callers treat it as a delivery failure, not a fault.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives the full raw JSON of an inbound event for flexible
// decoding. Handlers are invoked synchronously from the read loop, so they
// must not block for extended periods.
type Handler func(payload json.RawMessage)

// Config holds reconnection tuning parameters.
type Config struct {
	RetryLimit int           // max automatic reconnect attempts
	RetryDelay time.Duration // fixed delay between attempts
}

// DefaultConfig returns the reconnection policy used in production:
// five attempts, one second apart.
func DefaultConfig() Config {
	return Config{
		RetryLimit: 5,
		RetryDelay: 1000 * time.Millisecond,
	}
}

// Conn is a client connection to the relay service. It exposes a
// publish/subscribe interface over named event types: Send writes an event,
// Subscribe registers a handler for an inbound event type, and OnStatus
// observes connection state changes.
type Conn struct {
	url    string
	config Config

	mu         sync.Mutex
	conn       net.Conn
	gen        int // increments per established connection; stale read loops exit
	status     Status
	closed     bool
	subs       map[string]map[int]Handler
	statusSubs map[int]func(Status)
	nextSubID  int

	writeMu sync.Mutex // serializes outbound frames
}

// NewConn creates a connection object for the given WebSocket URL. No
// network activity happens until Connect is called.
func NewConn(url string, config Config) *Conn {
	return &Conn{
		url:        url,
		config:     config,
		status:     StatusDisconnected,
		subs:       make(map[string]map[int]Handler),
		statusSubs: make(map[int]func(Status)),
	}
}

// Connect dials the relay and starts the read loop. It is also the manual
// recovery path once automatic reconnection has exhausted its attempts.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: connection closed")
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)

	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport: connection closed")
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	go c.readLoop(conn, gen)
	return nil
}

// Send writes a single named event. The eventType is injected into the JSON
// payload. It returns ErrNotConnected while the connection is down; it never
// panics on transport failure.
func (c *Conn) Send(eventType string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("transport: write %q: %w", eventType, err)
	}
	return nil
}

// Subscribe registers a handler for an inbound event type and returns a
// cancel func that removes it. Multiple handlers may be registered for the
// same type; they run in registration order.
func (c *Conn) Subscribe(eventType string, h Handler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	if c.subs[eventType] == nil {
		c.subs[eventType] = make(map[int]Handler)
	}
	c.subs[eventType][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[eventType], id)
	}
}

// OnStatus registers an observer for connection status changes and returns a
// cancel func. The observer is invoked synchronously after each transition.
func (c *Conn) OnStatus(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.statusSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, id)
	}
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the connection down permanently. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.setStatus(StatusDisconnected)
	return err
}

// readLoop reads frames until the connection fails or is superseded, then
// hands off to the reconnect loop. Inbound events are dispatched to
// subscribers synchronously in arrival order; this layer never reorders or
// coalesces.
func (c *Conn) readLoop(conn net.Conn, gen int) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			c.mu.Lock()
			stale := c.closed || gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}
			conn.Close()
			log.Printf("transport: read failed, reconnecting: %v", err)
			c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound event to the handlers registered for its type.
// Events without a recognizable type are dropped.
func (c *Conn) dispatch(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		log.Printf("transport: dropping malformed event: %v", err)
		return
	}

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[envelope.Type]))
	ids := make([]int, 0, len(c.subs[envelope.Type]))
	for id := range c.subs[envelope.Type] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, c.subs[envelope.Type][id])
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(json.RawMessage(data))
	}
}

// reconnect retries the connection up to RetryLimit times with a fixed delay
// between attempts. Exhausting the ceiling leaves the status Disconnected
// until Connect is called again.
func (c *Conn) reconnect() {
	c.setStatus(StatusConnecting)

	for attempt := 1; attempt <= c.config.RetryLimit; attempt++ {
		time.Sleep(c.config.RetryDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		metrics.ReconnectAttemptsTotal.Inc()
		conn, _, _, err := ws.Dial(context.Background(), c.url)
		if err != nil {
			log.Printf("transport: reconnect attempt %d/%d failed: %v",
				attempt, c.config.RetryLimit, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.gen++
		gen := c.gen
		c.mu.Unlock()

		c.setStatus(StatusConnected)
		go c.readLoop(conn, gen)
		return
	}

	log.Printf("transport: reconnect gave up after %d attempts", c.config.RetryLimit)
	c.setStatus(StatusDisconnected)
}

// setStatus records a status transition and notifies observers. Observers run
// without the lock held so they may call back into the connection.
func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	observers := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

// Package relay is a single-process implementation of the service side of
// the OMECHAT event contract, used for local development and end-to-end
// tests. It pairs joining clients by interest intersection (oldest waiting
// first), scopes rooms by opaque IDs, and forwards in-room events through a
// pluggable Bus. Its pairing policy is intentionally simple; the production
// matchmaking service is a separate concern.
package relay

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/omechat/omechat-go/internal/metrics"
	"github.com/omechat/omechat-go/internal/protocol"
)

// client is one connected WebSocket peer and its pairing state.
type client struct {
	conn    net.Conn
	writeMu sync.Mutex // serializes outbound frames

	// Guarded by Server.mu.
	identity        string
	interests       []string
	requireMatching bool
	room            string
	cancelSub       func()
}

// writeEvent sends a single event frame to the peer. Write errors are logged
// and otherwise ignored; a dead connection is cleaned up by its read loop.
func (c *client) writeEvent(eventType string, payload interface{}) {
	data, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		log.Printf("relay: failed to build %q event: %v", eventType, err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
		log.Printf("relay: failed to send %q event: %v", eventType, err)
	}
}

// Server accepts WebSocket clients and implements the relay contract.
type Server struct {
	bus Bus

	mu      sync.Mutex
	clients map[*client]bool
	waiting []*client       // pairing queue, oldest first
	rooms   map[string]bool // active room IDs

	ln         net.Listener
	httpServer *http.Server
}

// New creates a relay server using the given bus. A nil bus selects the
// in-memory one.
func New(bus Bus) *Server {
	if bus == nil {
		bus = NewMemBus()
	}
	return &Server{
		bus:     bus,
		clients: make(map[*client]bool),
		rooms:   make(map[string]bool),
	}
}

// Start listens on addr and begins accepting connections in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("relay: serve: %v", err)
		}
	}()

	log.Printf("relay: listening on %s", ln.Addr())
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return ""
}

// URL returns the WebSocket URL clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr()
}

// Shutdown stops accepting connections and closes all active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	conns := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	return err
}

// handleUpgrade hijacks the HTTP connection into a WebSocket and starts the
// client's read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	metrics.RelayConnections.Inc()

	go s.readLoop(c)
}

// readLoop reads and dispatches events from one client until its connection
// fails or closes.
func (s *Server) readLoop(c *client) {
	defer s.disconnect(c)

	for {
		data, err := wsutil.ReadClientText(c.conn)
		if err != nil {
			return
		}

		_, evt, err := protocol.ParseClientEvent(data)
		if err != nil {
			log.Printf("relay: dropping bad event from %s: %v", c.conn.RemoteAddr(), err)
			continue
		}

		switch ev := evt.(type) {
		case protocol.JoinEvent:
			s.handleJoin(c, ev)
		case protocol.MessageEvent:
			s.forward(c, ev.Room, Event{
				Type: protocol.EventMessage,
				Text: ev.Text,
				Ts:   time.Now().UnixMilli(),
			})
		case protocol.TypingEvent:
			s.forward(c, ev.Room, Event{Type: protocol.EventTyping})
		case protocol.StopTypingEvent:
			s.forward(c, ev.Room, Event{Type: protocol.EventStopTyping})
		case protocol.LeaveRoomEvent:
			s.leaveRoom(c, ev.Room)
		}
	}
}

// handleJoin enters the client into the pairing queue, first dissolving any
// room or queue position it already holds. A join while matched is how
// clients ask for a new partner, so no explicit leave-room is required.
func (s *Server) handleJoin(c *client, ev protocol.JoinEvent) {
	s.leaveCurrentRoom(c)

	s.mu.Lock()
	s.removeWaitingLocked(c)

	c.identity = ev.Identity
	c.interests = append([]string(nil), ev.Interests...)
	c.requireMatching = ev.RequireMatching

	var partner *client
	var shared []string
	for i, w := range s.waiting {
		if w == c {
			continue
		}
		sh, ok := compatible(c.interests, c.requireMatching, w.interests, w.requireMatching)
		if !ok {
			continue
		}
		partner = w
		shared = sh
		s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
		break
	}

	if partner == nil {
		s.waiting = append(s.waiting, c)
		metrics.RelayWaiting.Set(float64(len(s.waiting)))
		s.mu.Unlock()
		return
	}

	room := uuid.NewString()
	c.room = room
	partner.room = room
	s.rooms[room] = true
	metrics.RelayWaiting.Set(float64(len(s.waiting)))
	metrics.RelayActiveRooms.Inc()
	s.mu.Unlock()

	cancelA, errA := s.bus.Subscribe(room, s.roomHandler(c, room))
	cancelB, errB := s.bus.Subscribe(room, s.roomHandler(partner, room))
	if errA != nil || errB != nil {
		log.Printf("relay: room %s subscription failed: %v %v", room, errA, errB)
	}

	s.mu.Lock()
	c.cancelSub = cancelA
	partner.cancelSub = cancelB
	s.mu.Unlock()

	log.Printf("relay: paired %s and %s room=%s shared=%v",
		c.identity, partner.identity, room, shared)

	c.writeEvent(protocol.EventPartnerFound, protocol.PartnerFoundEvent{
		Room:            room,
		SharedInterests: shared,
	})
	partner.writeEvent(protocol.EventPartnerFound, protocol.PartnerFoundEvent{
		Room:            room,
		SharedInterests: shared,
	})
}

// roomHandler builds the bus subscriber that relays room events to one
// client. Events originated by the client itself are filtered out.
func (s *Server) roomHandler(c *client, room string) func(Event) {
	return func(ev Event) {
		s.mu.Lock()
		identity := c.identity
		current := c.room
		s.mu.Unlock()

		if ev.From == identity || current != room {
			return
		}

		switch ev.Type {
		case protocol.EventMessage:
			c.writeEvent(protocol.EventMessage, protocol.MessageEvent{Text: ev.Text})
		case protocol.EventTyping:
			c.writeEvent(protocol.EventTyping, protocol.TypingEvent{})
		case protocol.EventStopTyping:
			c.writeEvent(protocol.EventStopTyping, protocol.StopTypingEvent{})
		case protocol.EventPartnerDisconnected:
			c.writeEvent(protocol.EventPartnerDisconnected, protocol.PartnerDisconnectedEvent{})
			s.mu.Lock()
			var cancel func()
			if c.room == room {
				c.room = ""
				cancel = c.cancelSub
				c.cancelSub = nil
			}
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}
	}
}

// forward publishes a client event into its current room. Events for a room
// the client no longer occupies are dropped silently.
func (s *Server) forward(c *client, claimed string, ev Event) {
	s.mu.Lock()
	room := c.room
	ev.From = c.identity
	s.mu.Unlock()

	if room == "" || (claimed != "" && claimed != room) {
		return
	}
	if err := s.bus.Publish(room, ev); err != nil {
		log.Printf("relay: publish to room %s failed: %v", room, err)
	}
}

// leaveRoom handles a voluntary leave-room notice.
func (s *Server) leaveRoom(c *client, claimed string) {
	s.mu.Lock()
	if c.room == "" || (claimed != "" && claimed != c.room) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.leaveCurrentRoom(c)
}

// leaveCurrentRoom dissolves the client's room, if any: the partner is
// notified with partner-disconnected and the room is retired.
func (s *Server) leaveCurrentRoom(c *client) {
	s.mu.Lock()
	room := c.room
	if room == "" {
		s.mu.Unlock()
		return
	}
	identity := c.identity
	c.room = ""
	cancel := c.cancelSub
	c.cancelSub = nil
	active := s.rooms[room]
	delete(s.rooms, room)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active {
		metrics.RelayActiveRooms.Dec()
	}
	if err := s.bus.Publish(room, Event{Type: protocol.EventPartnerDisconnected, From: identity}); err != nil {
		log.Printf("relay: partner-disconnected publish failed: %v", err)
	}
}

// disconnect cleans up after a client whose connection ended.
func (s *Server) disconnect(c *client) {
	c.conn.Close()
	s.leaveCurrentRoom(c)

	s.mu.Lock()
	s.removeWaitingLocked(c)
	metrics.RelayWaiting.Set(float64(len(s.waiting)))
	delete(s.clients, c)
	s.mu.Unlock()

	metrics.RelayConnections.Dec()
}

// removeWaitingLocked drops the client from the pairing queue if present.
// Callers hold s.mu.
func (s *Server) removeWaitingLocked(c *client) {
	for i, w := range s.waiting {
		if w == c {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
}

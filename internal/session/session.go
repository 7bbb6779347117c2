// Package session implements the client-side chat session state machine. It
// owns the session identity, matching preferences, the current room/partner
// binding, the message log, and typing state, and drives transitions in
// response to local user actions and inbound relay events.
//
// All event handling (user actions, inbound relay events, and timer firings)
// is serialized on one mutex, so handlers run to completion before the next
// event is processed.
package session

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omechat/omechat-go/internal/chat"
	"github.com/omechat/omechat-go/internal/metrics"
	"github.com/omechat/omechat-go/internal/protocol"
	"github.com/omechat/omechat-go/internal/transport"
)

// State is the session's position in the chat lifecycle.
type State int

const (
	// StateIdle means no chat or search is in progress.
	StateIdle State = iota

	// StateSearching means a join has been emitted and the client is
	// waiting for a partner-found event.
	StateSearching

	// StateSearchTimedOut means the search exceeded its timeout without a
	// partner. Logically still searching; the user may retry.
	StateSearchTimedOut

	// StateMatched means the client is paired in a room.
	StateMatched
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateSearchTimedOut:
		return "search-timed-out"
	case StateMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Transport is the connection surface the session drives. *transport.Conn
// implements it; tests substitute a fake.
type Transport interface {
	Send(eventType string, payload interface{}) error
	Subscribe(eventType string, h transport.Handler) (cancel func())
	OnStatus(fn func(transport.Status)) (cancel func())
	Status() transport.Status
}

// PartnerInfo describes the matched partner.
type PartnerInfo struct {
	SharedInterests []string
	Online          bool
}

// Config holds session timing parameters.
type Config struct {
	SearchTimeout time.Duration // how long to wait for partner-found
	TypingIdle    time.Duration // inactivity gap that ends a typing burst
}

// DefaultConfig returns production defaults: 30 s search timeout and the
// 1000 ms typing inactivity window.
func DefaultConfig() Config {
	return Config{
		SearchTimeout: 30 * time.Second,
		TypingIdle:    1000 * time.Millisecond,
	}
}

// Snapshot is a read-only view of the session handed to the presentation
// layer. Messages and Partner are copies; mutating them has no effect.
type Snapshot struct {
	State         State
	Room          string
	Partner       *PartnerInfo
	Messages      []chat.Message
	LocalTyping   bool
	PartnerTyping bool
	Connection    transport.Status
}

// Session is the chat session state machine.
type Session struct {
	identity string
	tr       Transport
	config   Config

	mu            sync.Mutex
	state         State
	prefs         chat.Preferences
	room          string
	partner       *PartnerInfo
	msgLog        *chat.Log
	attempt       uint64 // incremented on every join emission
	searchStarted time.Time
	searchTimer   *time.Timer
	typingActive  bool
	typingTimer   *time.Timer
	partnerTyping bool
	closed        bool

	cancelPartnerFound func()
	cancels            []func()

	listenerMu   sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int
}

// New creates a session bound to the given transport and subscribes to the
// inbound relay events. The session identity is generated once and is stable
// for the session's lifetime.
func New(tr Transport, config Config) *Session {
	s := &Session{
		identity:  "tab-" + uuid.NewString(),
		tr:        tr,
		config:    config,
		state:     StateIdle,
		msgLog:    chat.NewLog(),
		listeners: make(map[int]func(Snapshot)),
	}

	s.cancels = append(s.cancels,
		tr.Subscribe(protocol.EventMessage, s.handleMessage),
		tr.Subscribe(protocol.EventTyping, s.handlePartnerTyping),
		tr.Subscribe(protocol.EventStopTyping, s.handlePartnerStopTyping),
		tr.Subscribe(protocol.EventPartnerDisconnected, s.handlePartnerDisconnected),
		tr.OnStatus(s.handleStatus),
	)
	return s
}

// Identity returns the per-tab anonymous identifier sent with every join.
func (s *Session) Identity() string {
	return s.identity
}

// Snapshot returns the current observable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnChange registers a listener invoked with a fresh snapshot after every
// observable mutation. It returns a cancel func.
func (s *Session) OnChange(fn func(Snapshot)) (cancel func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

// Start begins searching for a partner with preferences built from the raw
// interests input. It only acts from the Idle state.
func (s *Session) Start(rawInterests string, requireMatching bool) {
	s.mu.Lock()
	if s.closed || s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.prefs = chat.NewPreferences(rawInterests, requireMatching)
	s.partner = nil
	s.state = StateSearching
	s.emitJoinLocked()
	s.mu.Unlock()
	s.notify()
}

// FindNewPartner abandons the current room or pending search and re-emits a
// join with the same preferences. From Matched it deliberately does not emit
// leave-room; the relay notices the re-join. From Idle it is a no-op. It also
// serves as the retry action from SearchTimedOut.
func (s *Session) FindNewPartner() {
	s.mu.Lock()
	if s.closed || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.room = ""
	s.partner = nil
	s.state = StateSearching
	s.emitJoinLocked()
	s.mu.Unlock()
	s.notify()
}

// EndChat terminates the session back to Idle. From Matched it emits
// leave-room followed by stop-typing; from a pending search it cancels the
// search so a late partner-found is discarded. Calling it when already Idle
// has no effect.
func (s *Session) EndChat() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateMatched:
		room := s.room
		if err := s.tr.Send(protocol.EventLeaveRoom, protocol.LeaveRoomEvent{Room: room}); err != nil {
			log.Printf("session: leave-room not delivered: %v", err)
		}
		if err := s.tr.Send(protocol.EventStopTyping, protocol.StopTypingEvent{Room: room}); err != nil {
			log.Printf("session: stop-typing not delivered: %v", err)
		}
		s.resetToIdleLocked()
	case StateSearching, StateSearchTimedOut:
		s.attempt++ // invalidate any pending partner-found
		s.resetToIdleLocked()
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify()
}

// SendMessage appends a sent message and emits it to the partner. Empty or
// whitespace-only text is a silent no-op. While the transport is
// disconnected the message is dropped without appending; it never errors.
func (s *Session) SendMessage(text string) {
	s.mu.Lock()
	if s.closed || s.state != StateMatched || !chat.Sendable(text) {
		s.mu.Unlock()
		return
	}
	if s.tr.Status() != transport.StatusConnected {
		metrics.DroppedSendsTotal.Inc()
		log.Printf("session: dropping message while disconnected")
		s.mu.Unlock()
		return
	}
	s.msgLog.Append(text, chat.Sent)
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	if err := s.tr.Send(protocol.EventMessage, protocol.MessageEvent{Room: s.room, Text: text}); err != nil {
		log.Printf("session: message not delivered: %v", err)
	}
	s.mu.Unlock()
	s.notify()
}

// Close cancels subscriptions and timers. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopSearchTimerLocked()
	s.stopTypingTimerLocked()
	if s.cancelPartnerFound != nil {
		s.cancelPartnerFound()
		s.cancelPartnerFound = nil
	}
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// ---------------------------------------------------------------------------
// Join emission and search lifecycle
// ---------------------------------------------------------------------------

// emitJoinLocked increments the attempt counter, re-subscribes partner-found
// bound to the new attempt, clears the message log and typing state, arms the
// search timeout, and emits the join event. Callers hold s.mu and have
// already set state to Searching.
func (s *Session) emitJoinLocked() {
	s.attempt++
	att := s.attempt

	s.msgLog.Clear()
	s.partnerTyping = false
	s.typingActive = false
	s.stopTypingTimerLocked()

	if s.cancelPartnerFound != nil {
		s.cancelPartnerFound()
	}
	s.cancelPartnerFound = s.tr.Subscribe(protocol.EventPartnerFound, func(raw json.RawMessage) {
		var ev protocol.PartnerFoundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("session: malformed partner-found: %v", err)
			return
		}
		s.partnerFound(att, ev)
	})

	s.searchStarted = time.Now()
	s.stopSearchTimerLocked()
	s.searchTimer = time.AfterFunc(s.config.SearchTimeout, func() {
		s.searchTimedOut(att)
	})

	interests := s.prefs.Interests
	if interests == nil {
		interests = []string{}
	}
	err := s.tr.Send(protocol.EventJoin, protocol.JoinEvent{
		Identity:        s.identity,
		Interests:       interests,
		RequireMatching: s.prefs.RequireMatching,
	})
	if err != nil {
		log.Printf("session: join attempt=%d not delivered: %v", att, err)
	}
}

// partnerFound handles an inbound partner-found event for the given search
// attempt. Events whose attempt has been superseded are discarded without any
// state transition.
func (s *Session) partnerFound(attempt uint64, ev protocol.PartnerFoundEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if attempt != s.attempt {
		metrics.StaleEventsTotal.Inc()
		log.Printf("session: discarding stale partner-found attempt=%d current=%d", attempt, s.attempt)
		s.mu.Unlock()
		return
	}
	if s.state != StateSearching && s.state != StateSearchTimedOut {
		s.mu.Unlock()
		return
	}

	s.stopSearchTimerLocked()
	metrics.MatchDuration.Observe(time.Since(s.searchStarted).Seconds())

	s.state = StateMatched
	s.room = ev.Room
	s.partner = &PartnerInfo{
		SharedInterests: append([]string(nil), ev.SharedInterests...),
		Online:          true,
	}
	s.partnerTyping = false
	s.mu.Unlock()
	s.notify()
}

// searchTimedOut fires when no partner-found arrived within the timeout. It
// only applies to the attempt it was armed for.
func (s *Session) searchTimedOut(attempt uint64) {
	s.mu.Lock()
	if s.closed || attempt != s.attempt || s.state != StateSearching {
		s.mu.Unlock()
		return
	}
	s.state = StateSearchTimedOut
	s.mu.Unlock()
	s.notify()
}

// ---------------------------------------------------------------------------
// Inbound relay events
// ---------------------------------------------------------------------------

func (s *Session) handleMessage(raw json.RawMessage) {
	var ev protocol.MessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("session: malformed message event: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed || s.state != StateMatched {
		s.mu.Unlock()
		return
	}
	s.msgLog.Append(ev.Text, chat.Received)
	metrics.MessagesTotal.WithLabelValues("received").Inc()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handlePartnerTyping(json.RawMessage) {
	s.setPartnerTyping(true)
}

func (s *Session) handlePartnerStopTyping(json.RawMessage) {
	s.setPartnerTyping(false)
}

func (s *Session) setPartnerTyping(typing bool) {
	s.mu.Lock()
	if s.closed || s.state != StateMatched || s.partnerTyping == typing {
		s.mu.Unlock()
		return
	}
	s.partnerTyping = typing
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handlePartnerDisconnected(json.RawMessage) {
	s.mu.Lock()
	if s.closed || s.state != StateMatched || s.partner == nil {
		s.mu.Unlock()
		return
	}
	s.partner.Online = false
	s.partnerTyping = false
	s.mu.Unlock()
	s.notify()
}

// handleStatus reacts to transport status changes. On disconnect the partner
// presence is downgraded; outbound sends are already suppressed by the
// status check in SendMessage.
func (s *Session) handleStatus(st transport.Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if st == transport.StatusDisconnected && s.state == StateMatched && s.partner != nil {
		s.partner.Online = false
	}
	s.mu.Unlock()
	s.notify()
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// resetToIdleLocked clears the room binding, partner info, message log, and
// typing state, and drops the attempt-bound partner-found subscription.
func (s *Session) resetToIdleLocked() {
	s.state = StateIdle
	s.room = ""
	s.partner = nil
	s.msgLog.Clear()
	s.partnerTyping = false
	s.typingActive = false
	s.stopSearchTimerLocked()
	s.stopTypingTimerLocked()
	if s.cancelPartnerFound != nil {
		s.cancelPartnerFound()
		s.cancelPartnerFound = nil
	}
}

func (s *Session) stopSearchTimerLocked() {
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
}

func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         s.state,
		Room:          s.room,
		Messages:      s.msgLog.Messages(),
		LocalTyping:   s.typingActive,
		PartnerTyping: s.partnerTyping,
		Connection:    s.tr.Status(),
	}
	if s.partner != nil {
		p := *s.partner
		p.SharedInterests = append([]string(nil), s.partner.SharedInterests...)
		snap.Partner = &p
	}
	return snap
}

// notify delivers a fresh snapshot to all change listeners. Listeners run on
// the mutating goroutine; they must not block.
func (s *Session) notify() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.listenerMu.Lock()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

package session

import (
	"log"
	"time"

	"github.com/omechat/omechat-go/internal/protocol"
)

// InputChanged is called on every local text-input change. The first input
// after a quiet period emits a typing event immediately; every input resets
// the single inactivity timer, whose firing emits stop-typing. At most one
// typing signal is in flight per continuous burst of input.
//
// Outside a room the call is ignored; there is nothing to scope the signal to.
func (s *Session) InputChanged() {
	s.mu.Lock()
	if s.closed || s.state != StateMatched || s.room == "" {
		s.mu.Unlock()
		return
	}

	room := s.room
	first := !s.typingActive
	s.typingActive = true

	// Cancel-and-replace: never more than one pending inactivity timer.
	s.stopTypingTimerLocked()
	s.typingTimer = time.AfterFunc(s.config.TypingIdle, func() {
		s.typingIdle(room)
	})

	if first {
		if err := s.tr.Send(protocol.EventTyping, protocol.TypingEvent{Room: room}); err != nil {
			log.Printf("session: typing not delivered: %v", err)
		}
	}
	s.mu.Unlock()

	if first {
		s.notify()
	}
}

// typingIdle fires when the inactivity timer elapses. It emits stop-typing
// and clears the active-typing flag so the next input re-triggers the
// immediate-emit path. A timer armed for a room the session has since left
// does nothing.
func (s *Session) typingIdle(room string) {
	s.mu.Lock()
	if s.closed || !s.typingActive || s.room != room {
		s.mu.Unlock()
		return
	}
	s.typingActive = false
	s.typingTimer = nil
	if err := s.tr.Send(protocol.EventStopTyping, protocol.StopTypingEvent{Room: room}); err != nil {
		log.Printf("session: stop-typing not delivered: %v", err)
	}
	s.mu.Unlock()
	s.notify()
}

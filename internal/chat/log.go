// Package chat holds the client-side conversation data: the append-only
// message log consumed by the presentation layer, and the match preferences
// sent with every pairing request.
package chat

import (
	"strings"
	"sync"
	"time"
)

// Direction tags a logged message as locally sent or received from the partner.
type Direction int

const (
	Sent Direction = iota
	Received
)

// String returns the string representation of a Direction.
func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

// Message is a single exchanged chat message. Seq starts at 1 and strictly
// increases within one room's lifetime; Ts is a unix-ms timestamp.
type Message struct {
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Ts        int64     `json:"ts"`
}

// Log is an append-only ordered record of exchanged messages. Entries are
// never mutated or removed except by Clear on a full room reset.
// It is goroutine-safe.
type Log struct {
	mu      sync.RWMutex
	msgs    []Message
	nextSeq int
}

// NewLog creates an empty message log.
func NewLog() *Log {
	return &Log{nextSeq: 1}
}

// Append records a message with the next sequence number and returns it.
func (l *Log) Append(text string, dir Direction) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		Seq:       l.nextSeq,
		Text:      text,
		Direction: dir,
		Ts:        time.Now().UnixMilli(),
	}
	l.nextSeq++
	l.msgs = append(l.msgs, msg)
	return msg
}

// Messages returns a snapshot of the log in append order. The returned slice
// is safe for the caller to retain.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of logged messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Clear resets the log to empty and restarts sequence numbering at 1.
// Invoked on every room transition.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = nil
	l.nextSeq = 1
}

// Sendable reports whether text qualifies for sending: non-empty after
// trimming whitespace. Empty input is a silent no-op at the call sites,
// not an error.
func Sendable(text string) bool {
	return strings.TrimSpace(text) != ""
}

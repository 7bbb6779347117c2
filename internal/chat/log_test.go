package chat

import (
	"fmt"
	"testing"
)

func TestAppendAssignsSequentialSeq(t *testing.T) {
	l := NewLog()

	for i := 1; i <= 5; i++ {
		msg := l.Append(fmt.Sprintf("msg-%d", i), Sent)
		if msg.Seq != i {
			t.Errorf("append %d: expected seq %d, got %d", i, i, msg.Seq)
		}
	}

	msgs := l.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if msg.Seq != i+1 {
			t.Errorf("index %d: expected seq %d, got %d", i, i+1, msg.Seq)
		}
	}
}

func TestAppendPreservesOrderAndDirection(t *testing.T) {
	l := NewLog()

	l.Append("hello", Sent)
	l.Append("hi there", Received)
	l.Append("how are you?", Sent)

	msgs := l.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "hello" || msgs[0].Direction != Sent {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Text != "hi there" || msgs[1].Direction != Received {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if msgs[2].Text != "how are you?" || msgs[2].Direction != Sent {
		t.Errorf("unexpected third message: %+v", msgs[2])
	}
}

func TestClearResetsSequence(t *testing.T) {
	l := NewLog()

	l.Append("one", Sent)
	l.Append("two", Received)
	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("expected empty log after clear, got %d messages", l.Len())
	}

	msg := l.Append("fresh start", Sent)
	if msg.Seq != 1 {
		t.Errorf("expected seq to restart at 1, got %d", msg.Seq)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	l := NewLog()
	l.Append("original", Sent)

	snapshot := l.Messages()
	snapshot[0].Text = "tampered"

	if l.Messages()[0].Text != "original" {
		t.Error("mutating the snapshot must not affect the log")
	}
}

func TestDirectionString(t *testing.T) {
	if Sent.String() != "sent" {
		t.Errorf("unexpected: %s", Sent)
	}
	if Received.String() != "received" {
		t.Errorf("unexpected: %s", Received)
	}
	if Direction(99).String() != "unknown" {
		t.Errorf("unexpected: %s", Direction(99))
	}
}

func TestSendable(t *testing.T) {
	if Sendable("") {
		t.Error("empty text should not be sendable")
	}
	if Sendable("   \t\n") {
		t.Error("whitespace-only text should not be sendable")
	}
	if !Sendable("  hi  ") {
		t.Error("text with surrounding whitespace should be sendable")
	}
}

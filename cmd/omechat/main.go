// Command omechat is a line-oriented terminal client. It connects to a relay,
// searches for a partner, and exchanges messages. Lines starting with / are
// commands: /new finds a new partner, /end ends the chat, /quit exits.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/omechat/omechat-go/internal/chat"
	"github.com/omechat/omechat-go/internal/session"
	"github.com/omechat/omechat-go/internal/transport"
)

func main() {
	url := "ws://localhost:8080"
	if v := os.Getenv("RELAY_URL"); v != "" {
		url = v
	}
	interests := os.Getenv("INTERESTS")
	requireMatching := os.Getenv("REQUIRE_MATCHING") == "1"

	conn := transport.NewConn(url, transport.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := conn.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("connect to %s: %v", url, err)
	}
	cancel()
	defer conn.Close()

	s := session.New(conn, session.DefaultConfig())
	defer s.Close()

	// Tracks what has already been printed so each change prints only the
	// delta.
	var mu sync.Mutex
	lastState := session.StateIdle
	lastTyping := false
	partnerOnline := false
	seenSeq := 0

	s.OnChange(func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		if snap.State != lastState {
			switch snap.State {
			case session.StateSearching:
				fmt.Println("* searching for a partner...")
				seenSeq = 0
			case session.StateSearchTimedOut:
				fmt.Println("* no partner found yet, type /new to retry")
			case session.StateMatched:
				if len(snap.Partner.SharedInterests) > 0 {
					fmt.Printf("* matched! shared interests: %s\n",
						strings.Join(snap.Partner.SharedInterests, ", "))
				} else {
					fmt.Println("* matched!")
				}
				partnerOnline = true
				seenSeq = 0
			case session.StateIdle:
				fmt.Println("* chat ended")
			}
			lastState = snap.State
		}

		for _, m := range snap.Messages {
			if m.Seq > seenSeq {
				seenSeq = m.Seq
				if m.Direction == chat.Received {
					fmt.Printf("partner: %s\n", m.Text)
				}
			}
		}

		if snap.PartnerTyping != lastTyping {
			if snap.PartnerTyping {
				fmt.Println("* partner is typing...")
			}
			lastTyping = snap.PartnerTyping
		}

		if snap.Partner != nil && partnerOnline && !snap.Partner.Online {
			fmt.Println("* partner disconnected")
			partnerOnline = false
		}
	})

	s.Start(interests, requireMatching)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "/quit":
			s.EndChat()
			return
		case "/end":
			s.EndChat()
		case "/new":
			if s.Snapshot().State == session.StateIdle {
				s.Start(interests, requireMatching)
			} else {
				s.FindNewPartner()
			}
		default:
			s.SendMessage(line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin: %v", err)
	}
	s.EndChat()
}

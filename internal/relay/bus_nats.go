package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectRoom is the NATS subject prefix for room events: room.<room_id>.
const subjectRoom = "room"

// NATSConfig holds NATS connection settings for a multi-instance relay
// deployment.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "omechat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSBus forwards room events over NATS so relay instances sharing a server
// can carry both sides of a room. Pairing itself stays instance-local; the
// bus only moves in-room traffic.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to NATS with the given config and returns a ready bus.
// It returns an error if the initial connection fails.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("relay: nats disconnected: %v", err)
			} else {
				log.Printf("relay: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("relay: nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay: nats connect: %w", err)
	}

	log.Printf("relay: nats connected to %s", nc.ConnectedUrl())
	return &NATSBus{conn: nc}, nil
}

// Publish sends a room event to the room.<room_id> subject.
func (b *NATSBus) Publish(room string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal room event: %w", err)
	}
	return b.conn.Publish(subjectRoom+"."+room, data)
}

// Subscribe registers a handler for a room's events and returns a cancel
// func that drops the NATS subscription.
func (b *NATSBus) Subscribe(room string, fn func(Event)) (func(), error) {
	sub, err := b.conn.Subscribe(subjectRoom+"."+room, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("relay: malformed room event on %s: %v", msg.Subject, err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("relay: nats subscribe room %s: %w", room, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("relay: nats unsubscribe room %s: %v", room, err)
		}
	}, nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

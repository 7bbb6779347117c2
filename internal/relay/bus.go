package relay

import "sync"

// Event is the payload forwarded between the two sides of a room. From is the
// sender's identity so subscribers can filter out their own events.
type Event struct {
	Type string `json:"type"` // message, typing, stop-typing, partner-disconnected
	From string `json:"from"`
	Text string `json:"text,omitempty"`
	Ts   int64  `json:"ts,omitempty"`
}

// Bus carries room events between paired clients. The in-memory
// implementation serves a single relay process; the NATS implementation lets
// several relay instances forward in-room traffic to each other.
type Bus interface {
	Publish(room string, ev Event) error
	Subscribe(room string, fn func(Event)) (cancel func(), err error)
	Close() error
}

// MemBus is the single-process Bus. Events are delivered synchronously to
// all room subscribers in the publishing goroutine.
type MemBus struct {
	mu     sync.Mutex
	rooms  map[string]map[int]func(Event)
	nextID int
}

// NewMemBus creates an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{rooms: make(map[string]map[int]func(Event))}
}

// Publish delivers the event to every subscriber of the room, including the
// sender's own subscription. Receivers filter on Event.From.
func (b *MemBus) Publish(room string, ev Event) error {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.rooms[room]))
	for _, fn := range b.rooms[room] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Subscribe registers a room subscriber and returns a cancel func.
func (b *MemBus) Subscribe(room string, fn func(Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[int]func(Event))
	}
	b.rooms[room][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.rooms[room], id)
		if len(b.rooms[room]) == 0 {
			delete(b.rooms, room)
		}
	}, nil
}

// Close implements Bus; the in-memory bus holds no external resources.
func (b *MemBus) Close() error {
	return nil
}

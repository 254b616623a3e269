package location

import (
	"context"
	"sync"
	"sync/atomic"

	"dosmangos/internal/core"
)

const subscriberBuffer = 8

// broadcaster fans events out to subscribers without blocking the sender.
// A subscriber whose buffer is full misses the event.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// FixedManager reports a configured position. It stands in for a device
// location service on servers and in previews.
type FixedManager struct {
	events *broadcaster

	mu         sync.Mutex
	enabled    bool
	auth       Authorization
	coordinate core.Coordinate

	requests atomic.Int64
}

func NewFixedManager(c core.Coordinate, enabled bool) *FixedManager {
	return &FixedManager{
		events:     newBroadcaster(),
		enabled:    enabled,
		auth:       AuthorizationWhenInUse,
		coordinate: c,
	}
}

func (m *FixedManager) ServicesEnabled(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *FixedManager) Authorization(context.Context) Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth
}

func (m *FixedManager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// RequestLocation delivers the configured coordinate asynchronously.
func (m *FixedManager) RequestLocation(context.Context) error {
	m.requests.Add(1)
	m.mu.Lock()
	c := m.coordinate
	m.mu.Unlock()
	go m.events.publish(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{c}})
	return nil
}

// Requests counts RequestLocation calls.
func (m *FixedManager) Requests() int64 {
	return m.requests.Load()
}

func (m *FixedManager) SetServicesEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// SetAuthorization changes the authorization and notifies subscribers.
func (m *FixedManager) SetAuthorization(a Authorization) {
	m.mu.Lock()
	m.auth = a
	m.mu.Unlock()
	m.events.publish(Event{Kind: DidChangeAuthorization, Authorization: a})
}

func (m *FixedManager) SetCoordinate(c core.Coordinate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinate = c
}

// Close ends every event stream.
func (m *FixedManager) Close() {
	m.events.close()
}

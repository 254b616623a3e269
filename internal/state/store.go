// Package state holds a value that changes over time and lets readers follow
// those changes.
package state

import "sync"

// Store guards a state value and notifies subscribers of every change.
//
// Subscribers receive the current value on subscription and the latest value
// after each change. A slow subscriber misses intermediate values but always
// ends up with the newest one; publishing never blocks.
type Store[S any] struct {
	mu     sync.Mutex
	state  S
	subs   map[int]chan S
	nextID int
	closed bool
}

func New[S any](initial S) *Store[S] {
	return &Store[S]{state: initial, subs: make(map[int]chan S)}
}

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the state and notifies subscribers.
func (s *Store[S]) Set(v S) {
	s.Update(func(S) S { return v })
}

// Update applies fn to the current state under the store lock and publishes
// the result. fn must not call back into the store.
func (s *Store[S]) Update(fn func(S) S) S {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
	for _, ch := range s.subs {
		offer(ch, s.state)
	}
	return s.state
}

// Subscribe returns a channel carrying the current state followed by every
// later one, and a function that ends the subscription and closes the
// channel. Subscribing to a closed store yields a closed channel.
func (s *Store[S]) Subscribe() (<-chan S, func()) {
	ch := make(chan S, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Close ends every subscription. Later updates still change the state.
func (s *Store[S]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// offer replaces whatever is buffered in ch with v.
func offer[S any](ch chan S, v S) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

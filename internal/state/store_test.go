package state

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeDeliversCurrentState(t *testing.T) {
	s := New(1)
	ch, cancel := s.Subscribe()
	defer cancel()

	if got := <-ch; got != 1 {
		t.Fatalf("initial = %d, want 1", got)
	}
	s.Set(2)
	if got := <-ch; got != 2 {
		t.Fatalf("after set = %d, want 2", got)
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	s := New(0)
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 1; i <= 100; i++ {
		s.Set(i)
	}
	select {
	case got := <-ch:
		if got != 100 {
			t.Fatalf("got %d, want latest 100", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no value delivered")
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestUpdateReturnsNewState(t *testing.T) {
	s := New([]string{"a"})
	got := s.Update(func(v []string) []string { return append(v, "b") })
	if len(got) != 2 || len(s.Get()) != 2 {
		t.Fatalf("update not applied: %v", got)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	s := New("x")
	ch, cancel := s.Subscribe()
	<-ch
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	s.Set("y")
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s := New(0)
	a, cancelA := s.Subscribe()
	<-a
	s.Close()
	if _, ok := <-a; ok {
		t.Fatal("subscription should be closed")
	}
	cancelA()

	b, cancelB := s.Subscribe()
	defer cancelB()
	if _, ok := <-b; ok {
		t.Fatal("subscribe after close should yield a closed channel")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := New(0)
	ch, cancel := s.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()
	if got := s.Get(); got != 50 {
		t.Fatalf("state = %d, want 50", got)
	}
	var last int
	for len(ch) > 0 {
		last = <-ch
	}
	if last != 50 {
		t.Fatalf("latest delivered = %d, want 50", last)
	}
}

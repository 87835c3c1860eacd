package hub

import (
	"fmt"
	"sync"
	"testing"
)

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case p, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestRegisterBroadcastUnregister(t *testing.T) {
	h := New()
	a := NewSession("a")
	b := NewSession("b")
	h.Register(a)
	h.Register(b)

	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}

	h.Broadcast([]byte("x"))
	if got := drain(a); len(got) != 1 || string(got[0]) != "x" {
		t.Fatalf("a got %q", got)
	}
	if got := drain(b); len(got) != 1 || string(got[0]) != "x" {
		t.Fatalf("b got %q", got)
	}

	h.Unregister(a)
	if h.Len() != 1 {
		t.Fatalf("Len after unregister = %d", h.Len())
	}
	h.Broadcast([]byte("y"))
	if got := drain(b); len(got) != 1 || string(got[0]) != "y" {
		t.Fatalf("b got %q", got)
	}

	// channel of the removed session is closed
	if _, ok := <-a.Send(); ok {
		t.Fatalf("expected closed channel for unregistered session")
	}

	// double unregister is safe
	h.Unregister(a)
}

func TestBroadcastExceptSkipsOriginator(t *testing.T) {
	h := New()
	origin := NewSession("origin")
	other := NewSession("other")
	h.Register(origin)
	h.Register(other)

	h.BroadcastExcept(origin, []byte("typing"))

	if got := drain(origin); len(got) != 0 {
		t.Fatalf("originator must not receive its own relay, got %q", got)
	}
	if got := drain(other); len(got) != 1 || string(got[0]) != "typing" {
		t.Fatalf("other got %q", got)
	}
}

func TestPerSessionOrderPreserved(t *testing.T) {
	h := New()
	s := NewSession("s")
	h.Register(s)

	for i := 0; i < 10; i++ {
		h.Broadcast([]byte(fmt.Sprintf("m%d", i)))
	}
	got := drain(s)
	if len(got) != 10 {
		t.Fatalf("got %d payloads", len(got))
	}
	for i, p := range got {
		if string(p) != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %q", i, p)
		}
	}
}

// Broadcasting while sessions disconnect concurrently must never panic:
// fanout sends hold the read lock and Unregister closes the channel under
// the write lock, so a close can never race an in-flight send.
func TestBroadcastDuringConcurrentDisconnects(t *testing.T) {
	h := New()

	const sessions = 64
	all := make([]*Session, 0, sessions)
	for i := 0; i < sessions; i++ {
		s := NewSession(fmt.Sprintf("s%d", i))
		h.Register(s)
		all = append(all, s)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			h.Broadcast([]byte("tick"))
		}
	}()

	wg.Add(len(all))
	for _, s := range all {
		go func(s *Session) {
			defer wg.Done()
			h.Unregister(s)
		}(s)
	}

	wg.Wait()
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestSlowSessionEvicted(t *testing.T) {
	h := New()
	slow := NewSession("slow")
	fast := NewSession("fast")
	h.Register(slow)
	h.Register(fast)

	// fill the slow session's buffer, then one more to trigger eviction
	for i := 0; i <= sendBuffer; i++ {
		h.Broadcast([]byte("p"))
		drain(fast)
	}

	if h.Len() != 1 {
		t.Fatalf("slow session should have been evicted, Len = %d", h.Len())
	}
}

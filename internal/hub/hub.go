// Package hub tracks the live sessions of one service instance and delivers
// fanout payloads to them.
//
// The registry is explicit state owned by the gateway and passed into the
// engine's fanout path; it is never package-level. Sessions hold a buffered
// send channel drained by the gateway's write pump, so delivery to each
// session is independent: a slow client never stalls the others, and a
// client whose buffer fills up is evicted rather than blocking fanout.
// Per-session arrival order from the engine is preserved by the channel.
package hub

import (
	"sync"
)

// sendBuffer is the per-session queue depth before eviction.
const sendBuffer = 256

// Session is one live client connection handle. The gateway owns the
// underlying transport; the hub only knows the delivery channel.
type Session struct {
	id   string
	send chan []byte

	closeOnce sync.Once
}

// NewSession creates a session handle with the given opaque id.
func NewSession(id string) *Session {
	return &Session{
		id:   id,
		send: make(chan []byte, sendBuffer),
	}
}

// ID returns the opaque connection handle.
func (s *Session) ID() string { return s.id }

// Send is the delivery channel drained by the gateway's write pump. It is
// closed when the session is unregistered.
func (s *Session) Send() <-chan []byte { return s.send }

// close closes the delivery channel exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub is the per-instance session registry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// New creates an empty registry.
func New() *Hub {
	return &Hub{sessions: make(map[*Session]struct{})}
}

// Register adds a session to the registry.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

// Unregister removes a session and closes its delivery channel. Safe to call
// for a session that was already removed (e.g. evicted during fanout).
//
// The close happens under the write lock: fanout sends hold the read lock,
// so a channel is never closed while a send to it is in flight.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		s.close()
	}
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast queues payload for every registered session.
func (h *Hub) Broadcast(payload []byte) {
	h.BroadcastExcept(nil, payload)
}

// BroadcastExcept queues payload for every registered session except skip.
// A session whose buffer is full is unregistered and its channel closed; the
// gateway's write pump observes the close and drops the connection.
//
// Sends happen while holding the read lock. Unregister closes channels under
// the write lock, so a concurrent disconnect can never close a channel out
// from under an in-flight send.
func (h *Hub) BroadcastExcept(skip *Session, payload []byte) {
	var full []*Session

	h.mu.RLock()
	for s := range h.sessions {
		if s == skip {
			continue
		}
		select {
		case s.send <- payload:
		default:
			full = append(full, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range full {
		h.Unregister(s)
	}
}

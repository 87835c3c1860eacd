// Package gateway terminates websocket connections and moves raw frames
// between clients and the synchronization engine.
//
// The gateway is deliberately thin: it owns the transport (upgrade, read and
// write pumps, ping/pong liveness) and the session lifecycle in the
// registry, and forwards every decoded frame to engine.Dispatch. All
// business semantics live in the engine.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akervik/go-chat-relay/internal/domain"
	"github.com/akervik/go-chat-relay/internal/engine"
	"github.com/akervik/go-chat-relay/internal/hub"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second
	// maxMessageSize caps inbound frames; chat messages are short text.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay performs no authentication; origin checking is left to the
	// deployment's ingress.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Gateway bridges websocket clients and the engine.
type Gateway struct {
	engine *engine.Engine
	hub    *hub.Hub
	log    zerolog.Logger
}

// New creates a gateway over the given engine and session registry.
func New(e *engine.Engine, h *hub.Hub, log zerolog.Logger) *Gateway {
	return &Gateway{
		engine: e,
		hub:    h,
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

// Handle upgrades the request and runs the connection until it drops.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := hub.NewSession(uuid.NewString())
	g.hub.Register(sess)
	g.log.Info().Str("session", sess.ID()).Int("sessions", g.hub.Len()).Msg("client connected")

	go g.writePump(conn, sess)
	g.readPump(c.Request.Context(), conn, sess)
}

// readPump consumes frames from one client serially, preserving that
// client's event order end-to-end, and feeds them into the engine.
func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, sess *hub.Session) {
	defer func() {
		g.hub.Unregister(sess)
		_ = conn.Close()
		g.log.Info().Str("session", sess.ID()).Int("sessions", g.hub.Len()).Msg("client disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Warn().Err(err).Str("session", sess.ID()).Msg("unexpected close")
			}
			return
		}

		ev, err := domain.ParseFrame(raw)
		if err != nil {
			// malformed or unknown frames are dropped, never fatal
			g.log.Debug().Err(err).Str("session", sess.ID()).Msg("dropping frame")
			continue
		}

		if err := g.engine.Dispatch(ctx, sess, ev); err != nil {
			// surfaced only to the originating session's context
			g.log.Warn().Err(err).
				Str("session", sess.ID()).
				Str("event", string(ev.Type)).
				Msg("event rejected")
		}
	}
}

// writePump drains the session's delivery channel onto the wire and keeps
// the connection alive with pings. It exits when the session is
// unregistered (channel closed) or a write fails.
func (g *Gateway) writePump(conn *websocket.Conn, sess *hub.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sess.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

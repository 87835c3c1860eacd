package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akervik/go-chat-relay/internal/bus"
	"github.com/akervik/go-chat-relay/internal/engine"
	"github.com/akervik/go-chat-relay/internal/hub"
	"github.com/akervik/go-chat-relay/internal/repo"
)

func newTestRelay(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("gw_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	h := hub.New()
	e := engine.New(db, bus.NewNoop(), h, zerolog.Nop())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("engine start: %v", err)
	}

	gw := New(e, h, zerolog.Nop())
	r := gin.New()
	r.GET("/ws", gw.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSessions(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("sessions = %d, want %d", h.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	return f.Event, f.Data
}

func TestWebsocket_SubmitReachesAllClients(t *testing.T) {
	srv, h := newTestRelay(t)

	a := dial(t, srv)
	b := dial(t, srv)
	waitSessions(t, h, 2)

	msg := `{"event":"chat message","data":{"user":"alice","text":"hi","time":"10:00"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		event, data := readFrame(t, conn)
		if event != "chat message" {
			t.Fatalf("%s: event = %q", name, event)
		}
		var got struct {
			ID     uint   `json:"id"`
			Sender string `json:"sender"`
			Text   string `json:"text"`
			Time   string `json:"time"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if got.ID != 1 || got.Sender != "alice" || got.Text != "hi" || got.Time != "10:00" {
			t.Fatalf("%s: unexpected payload: %+v", name, got)
		}
	}
}

func TestWebsocket_TypingSkipsOriginator(t *testing.T) {
	srv, h := newTestRelay(t)

	a := dial(t, srv)
	b := dial(t, srv)
	waitSessions(t, h, 2)

	typing := `{"event":"typing","data":{"user":"alice"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(typing)); err != nil {
		t.Fatalf("write typing: %v", err)
	}
	event, _ := readFrame(t, b)
	if event != "typing" {
		t.Fatalf("b: event = %q, want typing", event)
	}

	// a must not see its own typing indicator: the next frame a receives is
	// the chat message submitted afterwards, not the typing echo.
	msg := `{"event":"chat message","data":{"user":"alice","text":"after","time":""}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write message: %v", err)
	}
	event, _ = readFrame(t, a)
	if event != "chat message" {
		t.Fatalf("a: event = %q, want chat message (typing must not echo)", event)
	}
}

func TestWebsocket_MalformedFramesAreDropped(t *testing.T) {
	srv, h := newTestRelay(t)

	a := dial(t, srv)
	waitSessions(t, h, 1)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"event":"unknown thing"}`)); err != nil {
		t.Fatalf("write unknown: %v", err)
	}

	// connection survives; a real event still round-trips
	msg := `{"event":"chat message","data":{"user":"alice","text":"still here","time":""}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write message: %v", err)
	}
	event, _ := readFrame(t, a)
	if event != "chat message" {
		t.Fatalf("event = %q", event)
	}
}

func TestWebsocket_DisconnectUnregisters(t *testing.T) {
	srv, h := newTestRelay(t)

	a := dial(t, srv)
	waitSessions(t, h, 1)
	_ = a.Close()
	waitSessions(t, h, 0)
}

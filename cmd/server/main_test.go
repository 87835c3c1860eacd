package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akervik/go-chat-relay/internal/bus"
	"github.com/akervik/go-chat-relay/internal/domain"
	"github.com/akervik/go-chat-relay/internal/hub"
	"github.com/akervik/go-chat-relay/internal/repo"
)

// brokenBus accepts construction but fails the subscription handshake, like
// a Redis that answers PING and then drops the SUBSCRIBE.
type brokenBus struct {
	closed bool
}

func (b *brokenBus) Publish(context.Context, domain.Event) error { return bus.ErrUnavailable }
func (b *brokenBus) Subscribe(context.Context, bus.Handler) error {
	return bus.ErrUnavailable
}
func (b *brokenBus) Close() error {
	b.closed = true
	return nil
}

func newMainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("main_%d.db", time.Now().UnixNano()))
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
	return db
}

func TestStartEngine_SubscribeFailureDegradesToSingleInstance(t *testing.T) {
	db := newMainDB(t)
	broken := &brokenBus{}

	e, b := startEngine(context.Background(), db, broken, hub.New())
	if e == nil {
		t.Fatal("engine is nil")
	}
	if _, ok := b.(bus.Noop); !ok {
		t.Fatalf("bus = %T, want bus.Noop", b)
	}
	if !broken.closed {
		t.Error("failed bus was not closed")
	}

	// the relay still serves writes in single-instance mode
	m, err := e.Submit(context.Background(), "alice", "hi", "10:00")
	if err != nil {
		t.Fatalf("submit after degrade: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("message not committed")
	}
}

func TestStartEngine_HealthyBusIsKept(t *testing.T) {
	db := newMainDB(t)
	noop := bus.NewNoop()

	_, b := startEngine(context.Background(), db, noop, hub.New())
	if b != noop {
		t.Fatalf("bus = %T, want the one passed in", b)
	}
}

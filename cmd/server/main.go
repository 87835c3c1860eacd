// Command server runs the chat relay: a websocket gateway and a small HTTP
// API in front of the durable message log, with optional Redis-backed
// clustering.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/akervik/go-chat-relay/internal/bus"
	"github.com/akervik/go-chat-relay/internal/config"
	"github.com/akervik/go-chat-relay/internal/engine"
	"github.com/akervik/go-chat-relay/internal/gateway"
	httpapi "github.com/akervik/go-chat-relay/internal/http"
	"github.com/akervik/go-chat-relay/internal/hub"
	"github.com/akervik/go-chat-relay/internal/observability"
	"github.com/akervik/go-chat-relay/internal/repo"
	"github.com/akervik/go-chat-relay/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownGrace = 10 * time.Second

func main() {
	// .env is a development convenience; absence is normal in production.
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using process environment")
	}

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting chat relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless enabled).
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Durable log: the relay refuses to start without it.
	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("durable log unavailable")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	// Broadcast bus: optional. When the configured bus is unreachable the
	// relay degrades to single-instance mode instead of refusing to start.
	var b bus.Bus = bus.NewNoop()
	if cfg.Bus.Enabled() {
		rb, err := bus.NewRedis(ctx, cfg.Bus.Addr(), log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Bus.Addr()).
				Msg("broadcast bus unreachable, running single-instance")
		} else {
			b = rb
			log.Info().Str("addr", cfg.Bus.Addr()).Msg("broadcast bus connected")
		}
	}
	defer func() { _ = b.Close() }()

	h := hub.New()
	var e *engine.Engine
	e, b = startEngine(ctx, db, b, h)
	gw := gateway.New(e, h, log.Logger)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, e, gw, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// startEngine wires the engine to the bus. A bus that cannot complete the
// subscription handshake degrades the relay to single-instance mode instead
// of blocking startup; the durable log keeps accepting writes either way.
func startEngine(ctx context.Context, db *gorm.DB, b bus.Bus, h *hub.Hub) (*engine.Engine, bus.Bus) {
	e := engine.New(db, b, h, log.Logger)
	if err := e.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("bus subscription failed, running single-instance")
		_ = b.Close()
		b = bus.NewNoop()
		e = engine.New(db, b, h, log.Logger)
		_ = e.Start(ctx) // the no-op subscription cannot fail
	}
	return e, b
}

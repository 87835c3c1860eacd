// Package httpapi wires the HTTP transport (Gin) to the synchronization
// engine, the websocket gateway, middleware, and route handlers. It
// centralizes cross-cutting concerns: tracing, correlation IDs, logging,
// panic recovery, metrics, compression, CORS, and rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP; the websocket route is exempt because a
//     single long-lived connection is not request traffic)
//  8. CORS and gzip
package httpapi

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/akervik/go-chat-relay/internal/config"
	"github.com/akervik/go-chat-relay/internal/engine"
	"github.com/akervik/go-chat-relay/internal/gateway"
	"github.com/akervik/go-chat-relay/internal/http/handlers"
	"github.com/akervik/go-chat-relay/internal/http/middleware"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability, rate limiting, CORS, compression, the health and
// metrics endpoints, the message history API, the websocket entry point, and
// the static bootstrap page.
func RegisterRoutes(r *gin.Engine, e *engine.Engine, gw *gateway.Gateway, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP, skipping the websocket
	// route: one upgrade per session, then frames bypass HTTP entirely.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	limit := rl.Handler()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}
		limit(c)
	})

	// 8) CORS posture (allow all when none configured) and compression.
	// Compression must not touch the websocket upgrade or the Prometheus
	// scrape endpoint.
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/ws", "/metrics"}),
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(e)

	// Message history
	r.GET("/messages", h.ListMessages)

	// Realtime entry point
	r.GET("/ws", gw.Handle)

	// Static bootstrap page
	if cfg.StaticDir != "" {
		index := filepath.Join(cfg.StaticDir, "index.html")
		r.StaticFile("/", index)
		r.StaticFile("/index.html", index)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Reads past the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// Package httpapi wires the HTTP transport (Gin) to the relay services,
// middleware, and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation IDs, logging, panic recovery, metrics, compression,
// rate limiting, CORS, and security headers.
//
// The connector exposes three surfaces:
//   - /webhook       (GET verify + POST receive) facing the WhatsApp channel
//   - /bot/message   (POST) facing the bot backend
//   - /health, /metrics for operators
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-whatsapp-connector/internal/config"
	"github.com/tbourn/go-whatsapp-connector/internal/http/handlers"
	"github.com/tbourn/go-whatsapp-connector/internal/http/middleware"
	"github.com/tbourn/go-whatsapp-connector/internal/services"
)

// Deps are the constructed collaborators the router mounts.
type Deps struct {
	Normalizer *services.Normalizer
	Composer   *services.Composer
	Queue      *services.DeliveryQueue
	Relay      handlers.BotRelay
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter (webhook batches are capped at 10 MiB)
//  6. Metrics
//  7. Rate limiter (per IP)
//  8. Gzip, CORS, security headers
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit; media rides as ids, not payload bytes.
	r.Use(limitBody(10 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) Compression, CORS, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  len(cfg.CORS.AllowedOrigins) == 0,
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Hub-Secret"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"storage": "s3",
			"queue":   deps.Queue.Len(),
		})
	})

	wh := handlers.NewWebhookHandler(deps.Normalizer, deps.Relay, cfg.WhatsApp.VerifyToken)
	bh := handlers.NewBotHandler(deps.Composer, deps.Queue, cfg.Bot.WebhookSecret)

	// Channel-facing webhook
	r.GET("/webhook", wh.Verify)
	r.POST("/webhook", wh.Receive)

	// Bot-backend-facing reply endpoint
	r.POST("/bot/message", bh.Reply)
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

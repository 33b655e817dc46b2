// Package api is the HTTP surface: analysis queries, watchlist and
// webhook management, alert history, and the websocket alert stream.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/db"
	"github.com/rawblock/fundflow-engine/internal/monitor"
	"github.com/rawblock/fundflow-engine/internal/stats"
)

// Handler carries the wired subsystems behind the HTTP surface.
// dbStore and stream may be nil in a memory-only deployment; endpoints
// that need them answer 503 or omit their section.
type Handler struct {
	engine  *analysis.Engine
	monitor *monitor.Monitor
	alerts  *alert.Manager
	stream  *stats.Collector
	dbStore *db.PostgresStore
	hub     *Hub
	started time.Time
}

func NewHandler(engine *analysis.Engine, mon *monitor.Monitor, alerts *alert.Manager,
	stream *stats.Collector, dbStore *db.PostgresStore, hub *Hub) *Handler {
	return &Handler{
		engine:  engine,
		monitor: mon,
		alerts:  alerts,
		stream:  stream,
		dbStore: dbStore,
		hub:     hub,
		started: time.Now().UTC(),
	}
}

// SetupRouter builds the gin engine: public health/stream/metrics, then
// the rate-limited and token-protected API group.
func SetupRouter(cfg config.ServerConfig, environment string, h *Handler) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())

	api.GET("/health", h.handleHealth)
	api.GET("/stream", h.hub.Subscribe)

	protected := api.Group("")
	protected.Use(AuthMiddleware(cfg.AuthToken, environment))
	{
		protected.POST("/events", h.handleIngestEvent)

		protected.GET("/wallets/:wallet/analysis", h.handleAnalyzeWallet)
		protected.GET("/wallets/:wallet/circular", h.handleDetectCircular)
		protected.GET("/wallets/:wallet/topology", h.handleWalletTopology)
		protected.GET("/wallets/:wallet/stats", h.handleWalletStats)
		protected.GET("/topology", h.handleGraphTopology)
		protected.POST("/circular/sweep", h.handleCircularSweep)

		protected.GET("/watchlist", h.handleGetWatchlist)
		protected.POST("/watchlist", h.handleAddWatch)
		protected.DELETE("/watchlist/:wallet", h.handleRemoveWatch)

		protected.GET("/alerts", h.handleRecentAlerts)
		protected.GET("/alerts/history", h.handleAlertHistory)
		protected.POST("/alerts/:id/ack", h.handleAckAlert)

		protected.GET("/webhooks", h.handleListWebhooks)
		protected.POST("/webhooks", h.handleRegisterWebhook)
		protected.DELETE("/webhooks/:name", h.handleRemoveWebhook)

		protected.GET("/stats", h.handleStats)
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= 500 {
			event = log.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

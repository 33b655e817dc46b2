package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/faults"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// POST /api/v1/events
// Injects one funding event directly, bypassing Kafka. Used by backfill
// scripts and integration tests.
func (h *Handler) handleIngestEvent(c *gin.Context) {
	var ev models.FundingEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	added, err := h.engine.Store().AddConnection(c.Request.Context(), ev)
	if h.stream != nil {
		h.stream.Observe(ev, added)
	}
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"added":        added,
		"graphVersion": h.engine.Store().Version(),
	})
}

// GET /api/v1/wallets/:wallet/analysis?maxDepth=5&refresh=true
// Runs the full funding-source analysis for one wallet. refresh skips
// the cache read and recomputes, e.g. after a reference-data reload.
func (h *Handler) handleAnalyzeWallet(c *gin.Context) {
	wallet := c.Param("wallet")
	maxDepth, _ := strconv.Atoi(c.DefaultQuery("maxDepth", "0"))
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	analyze := h.engine.AnalyzeFundingSources
	if refresh {
		analyze = h.engine.RefreshFundingSources
	}
	analysis, err := analyze(c.Request.Context(), wallet, maxDepth)
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// GET /api/v1/wallets/:wallet/circular
func (h *Handler) handleDetectCircular(c *gin.Context) {
	wallet := c.Param("wallet")

	findings, err := h.engine.DetectCircular(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":   graph.Normalize(wallet),
		"findings": findings,
		"count":    len(findings),
	})
}

// POST /api/v1/circular/sweep
// Sweeps the whole graph for funding cycles. Meant for offline jobs;
// it can take a while on a large graph.
func (h *Handler) handleCircularSweep(c *gin.Context) {
	findings, err := h.engine.DetectCircular(c.Request.Context(), "")
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"findings": findings,
		"count":    len(findings),
	})
}

// GET /api/v1/wallets/:wallet/topology?radius=2
func (h *Handler) handleWalletTopology(c *gin.Context) {
	wallet := c.Param("wallet")
	radius, _ := strconv.Atoi(c.DefaultQuery("radius", "0"))

	topo, err := h.engine.BuildTopology(c.Request.Context(), wallet, radius)
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, topo)
}

// GET /api/v1/topology
// Whole-graph structural overview.
func (h *Handler) handleGraphTopology(c *gin.Context) {
	topo, err := h.engine.BuildTopology(c.Request.Context(), "", 0)
	if err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, topo)
}

// GET /api/v1/wallets/:wallet/stats
// Cheap degree and volume aggregates, no trace.
func (h *Handler) handleWalletStats(c *gin.Context) {
	wallet := c.Param("wallet")
	if err := graph.ValidateWallet(wallet); err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet": graph.Normalize(wallet),
		"stats":  h.engine.Store().Stats(wallet),
	})
}

// GET /api/v1/watchlist
func (h *Handler) handleGetWatchlist(c *gin.Context) {
	wallets := h.monitor.Watchlist()
	c.JSON(http.StatusOK, gin.H{
		"wallets": wallets,
		"count":   len(wallets),
	})
}

// POST /api/v1/watchlist
func (h *Handler) handleAddWatch(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
		Label  string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.monitor.Watch(req.Wallet, req.Label); err != nil {
		c.JSON(faults.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	wallet := graph.Normalize(req.Wallet)
	if h.dbStore != nil {
		if err := h.dbStore.SaveWatch(c.Request.Context(), wallet, req.Label); err != nil {
			log.Warn().Err(err).Str("wallet", wallet).Msg("watch added in memory but durable save failed")
		}
	}

	c.JSON(http.StatusCreated, gin.H{"status": "watching", "wallet": wallet})
}

// DELETE /api/v1/watchlist/:wallet
func (h *Handler) handleRemoveWatch(c *gin.Context) {
	wallet := graph.Normalize(c.Param("wallet"))
	h.monitor.Unwatch(wallet)

	if h.dbStore != nil {
		if err := h.dbStore.DeleteWatch(c.Request.Context(), wallet); err != nil {
			log.Warn().Err(err).Str("wallet", wallet).Msg("watch removed in memory but durable delete failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "removed", "wallet": wallet})
}

// GET /api/v1/alerts?limit=50
// The in-memory ring of recent alerts, newest first.
func (h *Handler) handleRecentAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	alerts := h.alerts.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// POST /api/v1/alerts/:id/ack
// Marks an alert handled by an operator. The in-memory ring and the
// durable history are updated independently; an id that already rotated
// out of the ring can still be acknowledged when a database is
// connected.
func (h *Handler) handleAckAlert(c *gin.Context) {
	id := c.Param("id")

	acked, inRing := h.alerts.Acknowledge(id)

	durable := false
	if h.dbStore != nil {
		ok, err := h.dbStore.AckAlert(c.Request.Context(), id)
		if err != nil {
			if !inRing {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "acknowledge failed", "details": err.Error()})
				return
			}
			log.Warn().Err(err).Str("alert", id).Msg("alert acknowledged in memory but durable update failed")
		}
		durable = ok
	}

	switch {
	case inRing:
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "alert": acked})
	case durable:
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "id": id})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alert id"})
	}
}

// GET /api/v1/alerts/history?page=1&limit=50
// Durable alert history from postgres.
func (h *Handler) handleAlertHistory(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, total, err := h.dbStore.RecentAlerts(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert history", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       alerts,
		"totalCount": total,
		"page":       page,
		"limit":      limit,
	})
}

// GET /api/v1/webhooks
func (h *Handler) handleListWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"webhooks": h.alerts.Webhooks()})
}

// POST /api/v1/webhooks
func (h *Handler) handleRegisterWebhook(c *gin.Context) {
	var req struct {
		Name        string            `json:"name" binding:"required"`
		URL         string            `json:"url" binding:"required"`
		MinSeverity string            `json:"minSeverity"`
		Headers     map[string]string `json:"headers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	severity, ok := parseSeverity(req.MinSeverity)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minSeverity must be one of low, medium, high, critical"})
		return
	}

	h.alerts.RegisterWebhook(req.Name, req.URL, severity, req.Headers)
	c.JSON(http.StatusCreated, gin.H{"status": "registered", "name": req.Name})
}

// DELETE /api/v1/webhooks/:name
func (h *Handler) handleRemoveWebhook(c *gin.Context) {
	name := c.Param("name")
	h.alerts.RemoveWebhook(name)
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
}

// GET /api/v1/stats
// Graph counters plus approximate stream cardinalities.
func (h *Handler) handleStats(c *gin.Context) {
	store := h.engine.Store()
	resp := gin.H{
		"graph": gin.H{
			"wallets": store.WalletCount(),
			"edges":   store.EdgeCount(),
			"version": store.Version(),
		},
		"watchlist":        len(h.monitor.Watchlist()),
		"websocketClients": h.hub.ClientCount(),
	}
	if h.stream != nil {
		resp["stream"] = h.stream.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/health
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "operational",
		"engine":       "fundflow-engine",
		"uptime":       time.Since(h.started).String(),
		"graphVersion": h.engine.Store().Version(),
		"dbConnected":  h.dbStore != nil,
		"capabilities": gin.H{
			"chain_tracing":     true,
			"pattern_detectors": 6,
			"topology":          true,
			"realtime_monitor":  true,
			"websocket_stream":  true,
		},
	})
}

func parseSeverity(s string) (models.RiskLevel, bool) {
	switch s {
	case "":
		return models.RiskHigh, true
	case "low", "medium", "high", "critical":
		return models.RiskLevel(s), true
	default:
		return "", false
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

func NewHandler(run RunFunc, topics *feed.Topics, m *metrics.Metrics, version string) *Handler {
	return &Handler{
		run:     run,
		topics:  topics,
		metrics: m,
		version: version,
	}
}

// GetIndex describes the service and its configured topics.
func (h *Handler) GetIndex(c *gin.Context) {
	endpoints := gin.H{
		"health":  "GET /health",
		"metrics": "GET /metrics",
	}
	if h.runEnabled {
		endpoints["run"] = "POST /api/run"
	}

	c.JSON(http.StatusOK, gin.H{
		"service":   "idx-relay",
		"version":   h.version,
		"topics":    h.topics.Names(),
		"endpoints": endpoints,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	h.mu.Lock()
	running := h.running
	lastRun := h.lastRun
	h.mu.Unlock()

	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"topics":    h.topics.Names(),
		"running":   running,
	}

	if lastRun != nil {
		health["last_run"] = gin.H{
			"run_id": lastRun.RunID,
			"state":  lastRun.State,
		}
	}

	c.JSON(http.StatusOK, health)
}

// APIRun triggers a run and waits for it. Only one run may be active.
func (h *Handler) APIRun(c *gin.Context) {
	// The run owns the Discord session; a dropped client must not cut it short.
	response, ok := h.Trigger(context.WithoutCancel(c.Request.Context()))
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Run in progress",
			"message": "Another run is already in progress",
		})
		return
	}

	c.JSON(response.StatusCode, response)
}

// Trigger performs a run unless one is already active, in which case it
// returns false without running.
func (h *Handler) Trigger(ctx context.Context) (*RunResponse, bool) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil, false
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	result, err := h.run(ctx)
	if err != nil {
		slog.Error("Run failed", "error", err)
	}

	response := NewRunResponse(result, err)

	h.mu.Lock()
	h.lastRun = response
	h.mu.Unlock()

	return response, true
}

func (h *Handler) GetMetrics() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler())
}

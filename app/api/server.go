package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Polled by monitoring; kept out of the request log.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// NewServer builds the gin engine. POST /api/run is only registered when
// apiAccessKey is set.
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())

	r.GET("/", handler.GetIndex)
	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", handler.GetMetrics())

	handler.runEnabled = apiAccessKey != ""
	if handler.runEnabled {
		r.POST("/api/run", requireAPIKey(apiAccessKey), handler.APIRun)
		slog.Info("Run endpoint enabled", "path", "/api/run")
	} else {
		slog.Info("Run endpoint disabled (API_ACCESS_KEY not set)")
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if quietPaths[c.Request.URL.Path] {
			return
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny).String(); errs != "" {
			attrs = append(attrs, "errors", errs)
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Warn("HTTP request", attrs...)
		} else {
			slog.Info("HTTP request", attrs...)
		}
	}
}

// requireAPIKey accepts the key in X-API-Key or as a bearer token.
func requireAPIKey(apiAccessKey string) gin.HandlerFunc {
	expected := []byte(apiAccessKey)

	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				provided = token
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "A valid API key is required in X-API-Key or Authorization: Bearer",
			})
			return
		}

		c.Next()
	}
}

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/utils"
)

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// apiKeyFromRequest extracts a caller-supplied key from either the
// Authorization bearer header or X-API-Key, the two forms the Anthropic
// SDK and the Claude Code CLI each use depending on configuration.
func apiKeyFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}

// APIKeyAuthMiddleware validates the caller's API key for /v1/* endpoints
// against cfg.APIKey using a constant-time comparison, so response timing
// can't be used to brute-force the key byte by byte. Auth is skipped
// entirely when no key is configured (local/dev use).
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		provided := apiKeyFromRequest(c)
		match := provided != "" &&
			subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.APIKey)) == 1

		if !match {
			utils.Warn("[API] unauthorized request from %s, invalid API key", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid or missing API key",
				},
			})
			return
		}

		c.Next()
	}
}

// quietPaths are endpoints the Claude Code CLI and Anthropic SDK poll or
// post to routinely; logging every hit at Info would drown out the
// dispatcher's own account/model transitions, so these only surface at
// Debug.
var quietPaths = []string{
	"/api/event_logging/batch",
	"/v1/messages/count_tokens",
	"/.well-known/",
}

func isQuietPath(path string) bool {
	for _, p := range quietPaths {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RequestLoggingMiddleware logs every request's method, path, status, and
// latency, routing quietPaths and non-error responses to different log
// levels so operators can spot 4xx/5xx without digging through noise.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		logMsg := "[%s] %s %d (%dms)"

		if isQuietPath(path) {
			if utils.IsDebug() {
				utils.Debug(logMsg, c.Request.Method, path, status, duration.Milliseconds())
			}
			return
		}

		switch {
		case status >= 500:
			utils.Error(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		case status >= 400:
			utils.Warn(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		default:
			utils.Info(logMsg, c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}

// SilentHandlerMiddleware answers the Claude Code CLI's own telemetry and
// root-probe POSTs with a bare 200 instead of routing them into the
// dispatcher, since neither carries a chat request.
func SilentHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost &&
			(c.Request.URL.Path == "/api/event_logging/batch" || c.Request.URL.Path == "/") {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			c.Abort()
			return
		}

		c.Next()
	}
}

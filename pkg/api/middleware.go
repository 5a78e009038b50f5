package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// authRequired rejects requests without a valid bearer token.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !s.validator.ValidateToken(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing bearer token",
			})
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request at debug, errors at warn. The poll
// endpoint is expected to hold for tens of seconds; duration is included so
// long holds are distinguishable from slow handlers.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			slog.Warn("Request failed", attrs...)
			return
		}
		slog.Debug("Request handled", attrs...)
	}
}

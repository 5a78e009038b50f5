package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nylondiamond/wristhub/pkg/push"
)

type registerTokenRequest struct {
	WatchID     string `json:"watch_id"`
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
}

// RegisterToken stores a watch push token explicitly. The poll endpoint also
// registers tokens piggybacked on its body.
func (s *Server) RegisterToken(c *gin.Context) {
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.WatchID == "" || req.DeviceToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watch_id and device_token are required"})
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = "watchos"
	}
	s.tokens.Register(req.WatchID, req.DeviceToken, platform,
		normalizeEnvironment(req.Environment))
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

type sendNotificationRequest struct {
	WatchID  string         `json:"watch_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Category string         `json:"category"`
	Sound    string         `json:"sound"`
	Data     map[string]any `json:"data"`
}

// SendNotification forwards a push to one watch, or to all registered
// watches when watch_id is empty.
func (s *Server) SendNotification(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no push gateway configured"})
		return
	}

	var req sendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == "" && req.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title or body is required"})
		return
	}

	msg := push.Message{
		Title:    req.Title,
		Body:     req.Body,
		Category: req.Category,
		Sound:    req.Sound,
		Data:     req.Data,
	}

	if req.WatchID == "" {
		s.notifier.SendToAll(c.Request.Context(), msg)
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
		return
	}

	err := s.notifier.SendToWatch(c.Request.Context(), req.WatchID, msg)
	switch {
	case errors.Is(err, push.ErrNoToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "no push token registered for watch"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "push delivery failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	}
}

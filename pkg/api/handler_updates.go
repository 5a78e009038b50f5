package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nylondiamond/wristhub/pkg/delta"
	"github.com/nylondiamond/wristhub/pkg/summary"
)

// updatesRequest is the poll body. Timeout is a JSON number; fractional
// seconds truncate. Entities distinguishes "absent" (nil) from "empty list".
type updatesRequest struct {
	WatchID          string              `json:"watch_id"`
	ConfigHash       string              `json:"config_hash"`
	Since            string              `json:"since"`
	Entities         []string            `json:"entities"`
	Timeout          *float64            `json:"timeout"`
	Slim             bool                `json:"slim"`
	ForceDelta       bool                `json:"force_delta"`
	IncludeSummary   bool                `json:"include_summary"`
	BatteryThreshold int                 `json:"battery_threshold"`
	SummaryEntities  map[string][]string `json:"summary_entities"`
	DeviceToken      string              `json:"device_token"`
	APNSEnvironment  string              `json:"apns_environment"`
}

// Updates is the long-poll delta endpoint.
func (s *Server) Updates(c *gin.Context) {
	var req updatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.WatchID == "" || req.ConfigHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watch_id and config_hash are required"})
		return
	}

	// Piggyback token registration: an authenticated poll carrying a device
	// token refreshes the push registration without a separate call.
	if req.DeviceToken != "" {
		s.tokens.Register(req.WatchID, req.DeviceToken, "watchos",
			normalizeEnvironment(req.APNSEnvironment))
	}

	result, err := s.coordinator.HandlePoll(c.Request.Context(), delta.PollRequest{
		WatchID:    req.WatchID,
		ConfigHash: req.ConfigHash,
		Since:      req.Since,
		Entities:   req.Entities,
		Timeout:    clampTimeout(req.Timeout),
		Slim:       req.Slim,
		ForceDelta: req.ForceDelta,
	})
	if err != nil {
		// Client disconnected mid-wait; nothing left to write.
		if errors.Is(err, c.Request.Context().Err()) {
			c.Abort()
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll failed"})
		return
	}

	if result.Status == http.StatusNoContent {
		c.Status(http.StatusNoContent)
		return
	}

	envelope := gin.H{
		"events":          result.Events,
		"next_cursor":     strconv.FormatUint(result.NextCursor, 10),
		"need_entities":   result.NeedEntities,
		"resync_required": result.ResyncRequired,
		"capabilities":    Capabilities,
	}
	if result.Status == http.StatusOK && (req.IncludeSummary || req.ForceDelta) {
		envelope["info_summary"] = s.projector.Project(summary.Options{
			IncludeDetails:   false,
			BatteryThreshold: req.BatteryThreshold,
			Entities:         req.SummaryEntities,
		})
	}
	c.JSON(result.Status, envelope)
}

// clampTimeout bounds the requested hold time, applying the default when the
// client sends none.
func clampTimeout(timeout *float64) time.Duration {
	if timeout == nil {
		return delta.DefaultTimeout
	}
	d := time.Duration(int(*timeout)) * time.Second
	if d < delta.MinTimeout {
		return delta.MinTimeout
	}
	if d > delta.MaxTimeout {
		return delta.MaxTimeout
	}
	return d
}

// normalizeEnvironment validates the push environment, defaulting to
// production.
func normalizeEnvironment(env string) string {
	if env == "development" {
		return env
	}
	return "production"
}

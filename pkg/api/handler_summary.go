package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nylondiamond/wristhub/pkg/summary"
)

type summaryRequest struct {
	IncludeDetails   bool                `json:"include_details"`
	BatteryThreshold int                 `json:"battery_threshold"`
	SummaryEntities  map[string][]string `json:"summary_entities"`
}

// Summary computes the aggregate entity view on demand.
func (s *Server) Summary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	info := s.projector.Project(summary.Options{
		IncludeDetails:   req.IncludeDetails,
		BatteryThreshold: req.BatteryThreshold,
		Entities:         req.SummaryEntities,
	})
	c.JSON(http.StatusOK, gin.H{
		"info_summary": info,
		"capabilities": Capabilities,
	})
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nylondiamond/wristhub/pkg/camera"
)

// CameraStream serves an MJPEG stream for one camera entity. Stream
// parameters come from the query string; the viewport endpoint can mutate
// them while the stream runs.
func (s *Server) CameraStream(c *gin.Context) {
	entityID := c.Param("entity_id")
	if !strings.HasPrefix(entityID, "camera.") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity is not a camera"})
		return
	}
	if _, ok := s.store.Get(entityID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown camera entity"})
		return
	}
	watchID := c.Query("watch_id")
	if watchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watch_id is required"})
		return
	}

	params := streamParams(c)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+camera.Boundary)
	c.Header("Cache-Control", "no-cache, no-store")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)

	flush := func() { c.Writer.Flush() }
	_ = s.streamer.Stream(c.Request.Context(), c.Writer, flush, watchID, entityID, params)
}

// streamParams builds the initial session parameters from the query string,
// falling back to defaults per field.
func streamParams(c *gin.Context) camera.Params {
	params := camera.DefaultParams()
	if v, err := strconv.Atoi(c.Query("width")); err == nil {
		params.Width = v
	}
	if v, err := strconv.Atoi(c.Query("quality")); err == nil {
		params.Quality = v
	}
	if v, err := strconv.ParseFloat(c.Query("fps"), 64); err == nil {
		params.FPS = v
	}

	viewport := camera.FullFrame()
	supplied := false
	for query, field := range map[string]*float64{
		"x": &viewport.X, "y": &viewport.Y, "w": &viewport.W, "h": &viewport.H,
	} {
		if v, err := strconv.ParseFloat(c.Query(query), 64); err == nil {
			*field = v
			supplied = true
		}
	}
	if supplied {
		params.Viewport = viewport
	}
	return params.Clamped()
}

// nullableString distinguishes "field absent" from an explicit JSON null,
// which the viewport endpoint uses to clear the source override.
type nullableString struct {
	set   bool
	value string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.set = true
	if string(data) == "null" {
		n.value = ""
		return nil
	}
	return json.Unmarshal(data, &n.value)
}

type viewportRequest struct {
	WatchID        string         `json:"watch_id"`
	EntityID       string         `json:"entity_id"`
	X              *float64       `json:"x"`
	Y              *float64       `json:"y"`
	W              *float64       `json:"w"`
	H              *float64       `json:"h"`
	Width          *int           `json:"width"`
	Quality        *int           `json:"quality"`
	FPS            *float64       `json:"fps"`
	SourceEntityID nullableString `json:"source_entity_id"`
}

// CameraViewport mutates a live stream session. The serving goroutine picks
// the new parameters up on its next frame.
func (s *Server) CameraViewport(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.WatchID == "" || req.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watch_id and entity_id are required"})
		return
	}

	update := camera.Update{
		Width:   req.Width,
		Quality: req.Quality,
		FPS:     req.FPS,
	}
	if req.X != nil || req.Y != nil || req.W != nil || req.H != nil {
		viewport := camera.FullFrame()
		if req.X != nil {
			viewport.X = *req.X
		}
		if req.Y != nil {
			viewport.Y = *req.Y
		}
		if req.W != nil {
			viewport.W = *req.W
		}
		if req.H != nil {
			viewport.H = *req.H
		}
		update.Viewport = &viewport
	}
	if req.SourceEntityID.set {
		update.SourceOverride = &req.SourceEntityID.value
	}

	if !s.streamer.Registry().Update(req.WatchID, req.EntityID, update) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stream for this watch and entity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type batchRequest struct {
	Cameras []camera.BatchTarget `json:"cameras"`
}

// CameraBatch fetches a set of one-shot snapshots in parallel.
func (s *Server) CameraBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Cameras) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cameras list is required"})
		return
	}

	results := s.streamer.Batch(c.Request.Context(), req.Cameras)
	c.JSON(http.StatusOK, gin.H{"snapshots": results})
}

// CameraDevices returns physical cameras grouped from the entity registry,
// with per-role entity classification.
func (s *Server) CameraDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": camera.GroupDevices(s.store)})
}

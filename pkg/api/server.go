// Package api is the HTTP facade: JSON endpoints for the watch app plus the
// MJPEG camera stream. Handlers validate and clamp input and delegate to the
// domain services.
package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nylondiamond/wristhub/pkg/camera"
	"github.com/nylondiamond/wristhub/pkg/delta"
	"github.com/nylondiamond/wristhub/pkg/hub"
	"github.com/nylondiamond/wristhub/pkg/metrics"
	"github.com/nylondiamond/wristhub/pkg/pairing"
	"github.com/nylondiamond/wristhub/pkg/push"
	"github.com/nylondiamond/wristhub/pkg/summary"
	"github.com/nylondiamond/wristhub/pkg/version"
)

// Capabilities advertised in poll and summary envelopes, kept sorted.
var Capabilities = []string{
	"camera_batch",
	"camera_stream",
	"pairing",
	"push_notifications",
	"slim_mode",
	"summary",
}

// TokenValidator checks bearer credentials for the auth gate.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// PairingURLs are the service URLs embedded in pairing payloads.
type PairingURLs struct {
	Base   string
	Local  string
	Remote string
}

// Server wires the domain services into HTTP handlers.
type Server struct {
	coordinator *delta.Coordinator
	projector   *summary.Projector
	pairing     *pairing.Service
	pairingURLs PairingURLs
	owner       *hub.User
	streamer    *camera.Streamer
	store       hub.StateStore
	tokens      hub.PushTokenStore
	notifier    *push.Notifier
	validator   TokenValidator
	metrics     *metrics.Metrics
}

// NewServer creates the facade. notifier may be nil when no push gateway is
// configured; the send endpoint then answers 503.
func NewServer(
	coordinator *delta.Coordinator,
	projector *summary.Projector,
	pairingSvc *pairing.Service,
	pairingURLs PairingURLs,
	owner *hub.User,
	streamer *camera.Streamer,
	store hub.StateStore,
	tokens hub.PushTokenStore,
	notifier *push.Notifier,
	validator TokenValidator,
	m *metrics.Metrics,
) *Server {
	return &Server{
		coordinator: coordinator,
		projector:   projector,
		pairing:     pairingSvc,
		pairingURLs: pairingURLs,
		owner:       owner,
		streamer:    streamer,
		store:       store,
		tokens:      tokens,
		notifier:    notifier,
		validator:   validator,
		metrics:     m,
	}
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.Health)
	if s.metrics.Registry() != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	// Unauthenticated pairing surface: redemption is how a watch obtains its
	// first credential, and the QR is only valid while its code is active.
	wa := router.Group("/api/wrist_assistant")
	wa.POST("/pairing/redeem", s.RedeemPairing)
	wa.GET("/pairing/qr.svg", s.PairingQR)

	// JSON endpoints behind the auth gate, gzip-compressed when the client
	// advertises it.
	authed := router.Group("/api", s.authRequired(), gzip.Gzip(gzip.DefaultCompression))
	authed.POST("/watch/updates", s.Updates)
	authed.POST("/wrist_assistant/summary", s.Summary)
	authed.POST("/wrist_assistant/pairing/create", s.CreatePairing)
	authed.POST("/wrist_assistant/camera/viewport", s.CameraViewport)
	authed.POST("/wrist_assistant/camera/batch", s.CameraBatch)
	authed.GET("/wrist_assistant/camera/devices", s.CameraDevices)
	authed.POST("/wrist_assistant/notifications/register", s.RegisterToken)
	authed.POST("/wrist_assistant/notifications/send", s.SendNotification)
	authed.POST("/wrist_assistant/resync", s.ForceResync)

	// The MJPEG stream is multipart, not JSON; it stays outside the gzip
	// group so frames reach the client unbuffered.
	router.GET("/api/wrist_assistant/camera/stream/:entity_id",
		s.authRequired(), s.CameraStream)

	return router
}

// Health reports liveness plus the core feed counters.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"version":           version.Full(),
		"cursor":            s.coordinator.Cursor(),
		"sessions":          s.coordinator.SessionCount(),
		"events_per_minute": s.coordinator.EventsPerMinute(),
	})
}

// ForceResync clears all watch sessions so every client refreshes in full.
func (s *Server) ForceResync(c *gin.Context) {
	s.coordinator.ForceResync()
	c.JSON(http.StatusOK, gin.H{"status": "resync_forced"})
}

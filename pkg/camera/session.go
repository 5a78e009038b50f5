// Package camera implements the per-watch camera frame pipeline: MJPEG
// streams with server-side crop/resize/encode, live-updatable viewports,
// and parallel batch snapshots.
package camera

import (
	"sync"
)

// Parameter clamps.
const (
	MinWidth       = 50
	MaxWidth       = 2000
	DefaultWidth   = 400
	MinQuality     = 10
	MaxQuality     = 95
	DefaultQuality = 75
	MinFPS         = 0.5
	MaxFPS         = 10.0
	DefaultFPS     = 2.0
)

// Viewport is the normalized crop rectangle, components in [0,1].
type Viewport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullFrame is the identity viewport.
func FullFrame() Viewport { return Viewport{X: 0, Y: 0, W: 1, H: 1} }

// isFullFrame allows 0.1% slack so near-identity viewports skip the crop.
func (v Viewport) isFullFrame() bool {
	return v.X <= 0.001 && v.Y <= 0.001 && v.W >= 0.999 && v.H >= 0.999
}

// Clamp bounds all components.
func (v Viewport) Clamp() Viewport {
	return Viewport{
		X: clamp(v.X, 0, 1),
		Y: clamp(v.Y, 0, 1),
		W: clamp(v.W, 0.01, 1),
		H: clamp(v.H, 0.01, 1),
	}
}

// Params are the live settings of one stream, snapshotted every frame.
type Params struct {
	Viewport       Viewport
	Width          int
	Quality        int
	FPS            float64
	SourceOverride string
}

// Clamped bounds every parameter. New sessions are created from
// client-supplied values, so the registry never stores raw input.
func (p Params) Clamped() Params {
	return Params{
		Viewport:       p.Viewport.Clamp(),
		Width:          int(clamp(float64(p.Width), MinWidth, MaxWidth)),
		Quality:        int(clamp(float64(p.Quality), MinQuality, MaxQuality)),
		FPS:            clamp(p.FPS, MinFPS, MaxFPS),
		SourceOverride: p.SourceOverride,
	}
}

// Session is the mutable state of one active stream, keyed by
// (watch_id, entity_id). The serving goroutine reads it; the viewport
// control endpoint mutates it.
type Session struct {
	mu     sync.Mutex
	params Params
}

// Snapshot returns a copy of the current parameters.
func (s *Session) Snapshot() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Update applies non-nil fields. A non-nil empty SourceOverride clears the
// override.
type Update struct {
	Viewport       *Viewport
	Width          *int
	Quality        *int
	FPS            *float64
	SourceOverride *string
}

func (s *Session) apply(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Viewport != nil {
		s.params.Viewport = u.Viewport.Clamp()
	}
	if u.Width != nil {
		s.params.Width = int(clamp(float64(*u.Width), MinWidth, MaxWidth))
	}
	if u.Quality != nil {
		s.params.Quality = int(clamp(float64(*u.Quality), MinQuality, MaxQuality))
	}
	if u.FPS != nil {
		s.params.FPS = clamp(*u.FPS, MinFPS, MaxFPS)
	}
	if u.SourceOverride != nil {
		s.params.SourceOverride = *u.SourceOverride
	}
}

// clearOverride resets the source override after repeated failures.
func (s *Session) clearOverride() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.SourceOverride = ""
}

type sessionKey struct {
	watchID  string
	entityID string
}

// Registry tracks active stream sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[sessionKey]*Session)}
}

// GetOrCreate returns the session for (watchID, entityID), creating it with
// the given parameters. An existing session adopts the new width, quality,
// and fps but keeps its viewport and override.
func (r *Registry) GetOrCreate(watchID, entityID string, params Params) *Session {
	key := sessionKey{watchID, entityID}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = &Session{params: params}
		r.sessions[key] = s
		return s
	}
	s.apply(Update{Width: &params.Width, Quality: &params.Quality, FPS: &params.FPS})
	return s
}

// Update mutates a live session. Returns false when no such session exists.
func (r *Registry) Update(watchID, entityID string, u Update) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey{watchID, entityID}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.apply(u)
	return true
}

// Remove drops a session on stream end.
func (r *Registry) Remove(watchID, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey{watchID, entityID})
}

// Len returns the number of active streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown clears all sessions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[sessionKey]*Session)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DefaultParams returns stream parameters with all defaults applied.
func DefaultParams() Params {
	return Params{
		Viewport: FullFrame(),
		Width:    DefaultWidth,
		Quality:  DefaultQuality,
		FPS:      DefaultFPS,
	}
}

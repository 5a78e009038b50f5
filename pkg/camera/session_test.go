package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewport_Clamp(t *testing.T) {
	v := Viewport{X: -0.5, Y: 2, W: 0, H: 5}.Clamp()

	assert.Equal(t, 0.0, v.X)
	assert.Equal(t, 1.0, v.Y)
	assert.Equal(t, 0.01, v.W)
	assert.Equal(t, 1.0, v.H)
}

func TestViewport_FullFrameTolerance(t *testing.T) {
	assert.True(t, FullFrame().isFullFrame())
	assert.True(t, Viewport{X: 0.0009, Y: 0, W: 0.9991, H: 1}.isFullFrame())
	assert.False(t, Viewport{X: 0.002, Y: 0, W: 1, H: 1}.isFullFrame())
	assert.False(t, Viewport{X: 0, Y: 0, W: 0.5, H: 1}.isFullFrame())
}

func TestParams_Clamped(t *testing.T) {
	p := Params{
		Viewport: Viewport{X: -1, Y: 0, W: 2, H: 1},
		Width:    9999,
		Quality:  1,
		FPS:      100,
	}.Clamped()

	assert.Equal(t, MaxWidth, p.Width)
	assert.Equal(t, MinQuality, p.Quality)
	assert.Equal(t, MaxFPS, p.FPS)
	assert.Equal(t, 0.0, p.Viewport.X)
	assert.Equal(t, 1.0, p.Viewport.W)
}

func TestSession_UpdateClampsFields(t *testing.T) {
	s := &Session{params: DefaultParams()}

	width := 10
	quality := 200
	fps := 0.1
	s.apply(Update{Width: &width, Quality: &quality, FPS: &fps})

	p := s.Snapshot()
	assert.Equal(t, MinWidth, p.Width)
	assert.Equal(t, MaxQuality, p.Quality)
	assert.Equal(t, MinFPS, p.FPS)
}

func TestSession_PartialUpdate(t *testing.T) {
	s := &Session{params: DefaultParams()}

	fps := 5.0
	s.apply(Update{FPS: &fps})

	p := s.Snapshot()
	assert.Equal(t, 5.0, p.FPS)
	assert.Equal(t, DefaultWidth, p.Width)
	assert.Equal(t, DefaultQuality, p.Quality)
}

func TestSession_SourceOverrideSetAndClear(t *testing.T) {
	s := &Session{params: DefaultParams()}

	override := "camera.other"
	s.apply(Update{SourceOverride: &override})
	assert.Equal(t, "camera.other", s.Snapshot().SourceOverride)

	empty := ""
	s.apply(Update{SourceOverride: &empty})
	assert.Equal(t, "", s.Snapshot().SourceOverride)
}

func TestRegistry_GetOrCreateAdoptsScalarParams(t *testing.T) {
	r := NewRegistry()

	first := DefaultParams()
	first.Viewport = Viewport{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}
	r.GetOrCreate("w1", "camera.front", first)

	// A reconnect with new scalars keeps the viewport set by the first
	// connection.
	second := DefaultParams()
	second.Width = 800
	session := r.GetOrCreate("w1", "camera.front", second)

	p := session.Snapshot()
	assert.Equal(t, 800, p.Width)
	assert.Equal(t, 0.25, p.Viewport.X)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UpdateMissingSession(t *testing.T) {
	r := NewRegistry()

	width := 300
	assert.False(t, r.Update("w1", "camera.front", Update{Width: &width}))
}

func TestRegistry_UpdateLiveSession(t *testing.T) {
	r := NewRegistry()
	session := r.GetOrCreate("w1", "camera.front", DefaultParams())

	vp := Viewport{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}
	require.True(t, r.Update("w1", "camera.front", Update{Viewport: &vp}))

	assert.Equal(t, 0.1, session.Snapshot().Viewport.X)
}

func TestRegistry_RemoveAndShutdown(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("w1", "camera.front", DefaultParams())
	r.GetOrCreate("w2", "camera.back", DefaultParams())

	r.Remove("w1", "camera.front")
	assert.Equal(t, 1, r.Len())

	r.Shutdown()
	assert.Equal(t, 0, r.Len())
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, DefaultWidth, p.Width)
	assert.Equal(t, DefaultQuality, p.Quality)
	assert.Equal(t, DefaultFPS, p.FPS)
	assert.True(t, p.Viewport.isFullFrame())
}

package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nylondiamond/wristhub/pkg/hub"
)

const (
	// Boundary is the MJPEG multipart boundary token.
	Boundary = "frame"
	// snapshotTimeout bounds each per-frame fetch from the camera source.
	snapshotTimeout = 5 * time.Second
	// overrideFailureLimit is how many consecutive override fetch failures
	// trigger a revert to the original entity.
	overrideFailureLimit = 5
)

// Streamer runs MJPEG frame loops over the camera source.
type Streamer struct {
	source   hub.CameraSource
	registry *Registry
	pool     *Pool
}

// NewStreamer creates a streamer.
func NewStreamer(source hub.CameraSource, registry *Registry, pool *Pool) *Streamer {
	return &Streamer{source: source, registry: registry, pool: pool}
}

// Registry exposes the session registry for the viewport control endpoint.
func (s *Streamer) Registry() *Registry { return s.registry }

// Stream runs the frame loop for one watch until the context is cancelled
// or the client connection breaks. w receives raw multipart body bytes;
// flush pushes buffered bytes to the client after each part. The session is
// always dropped on exit.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, flush func(), watchID, entityID string, initial Params) error {
	session := s.registry.GetOrCreate(watchID, entityID, initial)
	defer func() {
		s.registry.Remove(watchID, entityID)
		slog.Debug("Camera stream ended", "entity_id", entityID, "watch_id", watchID)
	}()

	overrideFailures := 0
	for {
		p := session.Snapshot()

		fetchEntity := entityID
		if p.SourceOverride != "" {
			fetchEntity = p.SourceOverride
		}

		snap, err := s.fetchSnapshot(ctx, fetchEntity)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			// Transient upstream failure: keep the session alive.
			slog.Debug("Camera snapshot failed, retrying",
				"entity_id", fetchEntity, "error", err)
			if p.SourceOverride != "" {
				overrideFailures++
				if overrideFailures >= overrideFailureLimit {
					// Persistent failure means the override is invalid, not
					// that the camera is down.
					slog.Info("Reverting camera source override",
						"entity_id", entityID, "override", p.SourceOverride,
						"failures", overrideFailures)
					session.clearOverride()
					overrideFailures = 0
				}
			}
			if !sleepFrame(ctx, p.FPS) {
				return nil
			}
			continue
		}
		overrideFailures = 0

		processed, err := s.pool.Process(ctx, snap.Content, p.Viewport, p.Width, p.Quality)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("Frame processing failed, skipping frame",
				"entity_id", fetchEntity, "error", err)
			if !sleepFrame(ctx, p.FPS) {
				return nil
			}
			continue
		}

		if err := writePart(w, processed); err != nil {
			// Client went away.
			return nil
		}
		flush()

		if !sleepFrame(ctx, p.FPS) {
			return nil
		}
	}
}

func (s *Streamer) fetchSnapshot(ctx context.Context, entityID string) (*hub.Snapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return s.source.Snapshot(fetchCtx, entityID, snapshotTimeout)
}

// writePart emits one multipart frame.
func writePart(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w,
		"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		Boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// sleepFrame pauses 1/fps, returning false when ctx was cancelled.
func sleepFrame(ctx context.Context, fps float64) bool {
	if fps < MinFPS {
		fps = MinFPS
	}
	timer := time.NewTimer(time.Duration(float64(time.Second) / fps))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

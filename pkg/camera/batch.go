package camera

import (
	"context"
	"encoding/base64"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// MaxBatchSize caps one batch request.
const MaxBatchSize = 8

// BatchTarget is one requested snapshot.
type BatchTarget struct {
	EntityID string `json:"entity_id"`
	Width    int    `json:"width"`
	Quality  int    `json:"quality"`
}

// BatchResult is one snapshot outcome. Data is base64 JPEG, or null with
// Size 0 when that camera failed.
type BatchResult struct {
	EntityID string  `json:"entity_id"`
	Data     *string `json:"data"`
	Size     int     `json:"size"`
}

// Batch fetches up to MaxBatchSize snapshots in parallel through the same
// crop/resize/encode path with the identity viewport. Per-camera failures
// never abort the batch.
func (s *Streamer) Batch(ctx context.Context, targets []BatchTarget) []BatchResult {
	if len(targets) > MaxBatchSize {
		targets = targets[:MaxBatchSize]
	}

	results := make([]BatchResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = s.batchOne(gctx, target)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Streamer) batchOne(ctx context.Context, target BatchTarget) BatchResult {
	result := BatchResult{EntityID: target.EntityID}

	width := int(clamp(float64(target.Width), MinWidth, MaxWidth))
	if target.Width == 0 {
		width = DefaultWidth
	}
	quality := int(clamp(float64(target.Quality), MinQuality, MaxQuality))
	if target.Quality == 0 {
		quality = DefaultQuality
	}

	snap, err := s.fetchSnapshot(ctx, target.EntityID)
	if err != nil {
		slog.Debug("Batch snapshot failed", "entity_id", target.EntityID, "error", err)
		return result
	}

	processed, err := s.pool.Process(ctx, snap.Content, FullFrame(), width, quality)
	if err != nil {
		slog.Debug("Batch frame processing failed", "entity_id", target.EntityID, "error", err)
		return result
	}

	encoded := base64.StdEncoding.EncodeToString(processed)
	result.Data = &encoded
	result.Size = len(processed)
	return result
}

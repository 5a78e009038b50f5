package camera

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nylondiamond/wristhub/pkg/metrics"
)

// Pool bounds concurrent frame processing so image work cannot starve the
// HTTP serving goroutines. Only immutable byte slices cross the boundary.
type Pool struct {
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewPool creates a pool with the given parallelism; 0 means GOMAXPROCS.
func NewPool(workers int, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		metrics: m,
	}
}

// Process crops, resizes, and encodes one frame on a pool slot. Blocks when
// all slots are busy; honors ctx while waiting.
func (p *Pool) Process(ctx context.Context, frame []byte, vp Viewport, width, quality int) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	out, err := processFrame(frame, vp, width, quality)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveFrame(time.Since(start).Seconds())
	return out, nil
}

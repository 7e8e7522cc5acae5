package backend

import (
	"sync"

	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
)

// Scalar scans every pixel in row-major order on the calling goroutine.
type Scalar struct {
	progressEvery int
	sink          monitoring.Sink
}

// NewScalar creates a scalar backend.
func NewScalar(opts Options) *Scalar {
	return &Scalar{progressEvery: opts.progressEvery(), sink: monitoring.OrDiscard(opts.Sink)}
}

func (s *Scalar) Name() string { return stereo.BackendScalar.String() }

func (s *Scalar) Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	if err := checkRun(ref, target, out, p); err != nil {
		return err
	}
	for y := 0; y < p.Height; y++ {
		matcher.MatchRows(ref, target, out, p, dir, y, y+1)
		if s.progressEvery > 0 && (y+1)%s.progressEvery == 0 {
			s.sink.Emit(monitoring.Event{
				Stage:   "progress",
				Backend: s.Name(),
				Message: dir.String(),
				Done:    y + 1,
				Total:   p.Height,
			})
		}
	}
	return nil
}

// ThreadPool splits the rows into one contiguous chunk per worker. Each
// worker writes only its own rows of the output map, so no locking is needed.
type ThreadPool struct {
	workers int
}

// NewThreadPool creates a thread-pool backend.
func NewThreadPool(opts Options) *ThreadPool {
	return &ThreadPool{workers: opts.workers()}
}

func (t *ThreadPool) Name() string { return stereo.BackendThreadPool.String() }

func (t *ThreadPool) Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	if err := checkRun(ref, target, out, p); err != nil {
		return err
	}
	runChunks(p.Height, t.workers, func(y0, y1 int) {
		matcher.MatchRows(ref, target, out, p, dir, y0, y1)
	})
	return nil
}

// runChunks calls fn concurrently for each row chunk and waits for all of them.
func runChunks(height, workers int, fn func(y0, y1 int)) {
	chunks := matcher.PartitionRows(height, workers)
	if len(chunks) == 1 {
		fn(chunks[0][0], chunks[0][1])
		return
	}
	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(c[0], c[1])
	}
	wg.Wait()
}

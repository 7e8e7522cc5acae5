package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/disparity/internal/db"
	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/imageio"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/evaluate"
	"github.com/banshee-data/disparity/internal/stereo/pipeline"
	"github.com/banshee-data/disparity/internal/timeutil"
)

// Status represents the current state of a sweep run
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// State is a snapshot of the runner's progress.
type State struct {
	Status      Status     `json:"status"`
	SweepID     string     `json:"sweep_id,omitempty"`
	Done        int        `json:"done"`
	Total       int        `json:"total"`
	Current     string     `json:"current,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store records sweeps and their runs. *db.RunStore implements it.
type Store interface {
	InsertSweep(rec *db.SweepRecord) error
	CompleteSweep(sweepID string, completedAt time.Time, errMsg string) error
	InsertRun(rec *db.RunRecord) error
}

// Request describes one sweep.
type Request struct {
	LeftPath  string `json:"left_path"`
	RightPath string `json:"right_path"`
	Grid      Grid   `json:"grid"`

	// Base supplies the fields the grid does not sweep: the post-processing
	// toggles, OccThresh and DeviceIndex.
	Base stereo.Params `json:"base"`

	// OutputDir receives one final map per combination. Empty disables output.
	OutputDir string `json:"output_dir,omitempty"`
}

// Result is the outcome of one combination.
type Result struct {
	RunID          string           `json:"run_id,omitempty"`
	Combo          Combo            `json:"combo"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	Matching       time.Duration    `json:"matching"`
	PostProcessing time.Duration    `json:"post_processing"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
	Summary        evaluate.Summary `json:"summary"`
	Histogram      []int            `json:"histogram"` // of the filled map, 0..MaxDisp
	OutputPath     string           `json:"output_path,omitempty"`
}

// Runner executes sweeps one at a time.
type Runner struct {
	pipeline *pipeline.Pipeline
	fsys     fsutil.FileSystem
	store    Store
	clock    timeutil.Clock
	logf     func(format string, v ...interface{})

	mu    sync.RWMutex
	state State
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore records sweeps and runs in s.
func WithStore(s Store) RunnerOption { return func(r *Runner) { r.store = s } }

// WithFileSystem sets the file system used for input and output images.
func WithFileSystem(fsys fsutil.FileSystem) RunnerOption { return func(r *Runner) { r.fsys = fsys } }

// WithClock sets the clock used for sweep timestamps.
func WithClock(c timeutil.Clock) RunnerOption { return func(r *Runner) { r.clock = c } }

// NewRunner creates a Runner that computes disparities with pl.
func NewRunner(pl *pipeline.Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline: pl,
		fsys:     fsutil.OSFileSystem{},
		clock:    timeutil.RealClock{},
		logf:     monitoring.Tagged("sweep"),
		state:    State{Status: StatusIdle},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns a snapshot of the current progress.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Run loads the stereo pair named in req and sweeps its grid.
func (r *Runner) Run(ctx context.Context, req Request) ([]Result, error) {
	left, err := imageio.Load(r.fsys, req.LeftPath)
	if err != nil {
		return nil, err
	}
	right, err := imageio.Load(r.fsys, req.RightPath)
	if err != nil {
		return nil, err
	}
	return r.RunPair(ctx, left, right, req)
}

// RunPair sweeps req.Grid over an already loaded full-resolution pair. Each
// (backend, resize, window, max disparity) is matched once; the cross-check
// thresholds are applied to that match. The context is checked between
// combinations. Results gathered before a failure are returned with the error.
func (r *Runner) RunPair(ctx context.Context, left, right stereo.Image, req Request) ([]Result, error) {
	if err := req.Grid.Validate(); err != nil {
		return nil, err
	}
	if left.Width != right.Width || left.Height != right.Height {
		return nil, fmt.Errorf("%w: left %dx%d, right %dx%d", stereo.ErrSizeMismatch,
			left.Width, left.Height, right.Width, right.Height)
	}
	if err := r.begin(req); err != nil {
		return nil, err
	}

	results, err := r.sweep(ctx, left, right, req)
	r.finish(err)
	return results, err
}

func (r *Runner) begin(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == StatusRunning {
		return fmt.Errorf("sweep already in progress")
	}
	r.state = State{Status: StatusRunning, Total: req.Grid.Size(), StartedAt: r.clock.Now()}

	if r.store == nil {
		return nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		r.state.Status = StatusError
		return fmt.Errorf("encoding sweep request: %w", err)
	}
	rec := &db.SweepRecord{
		LeftPath:  req.LeftPath,
		RightPath: req.RightPath,
		Request:   body,
		StartedAt: r.state.StartedAt,
	}
	if err := r.store.InsertSweep(rec); err != nil {
		r.state.Status = StatusError
		r.state.Error = err.Error()
		return err
	}
	r.state.SweepID = rec.SweepID
	return nil
}

func (r *Runner) finish(runErr error) {
	r.mu.Lock()
	now := r.clock.Now()
	r.state.CompletedAt = &now
	r.state.Current = ""
	r.state.Status = StatusComplete
	if runErr != nil {
		r.state.Status = StatusError
		r.state.Error = runErr.Error()
	}
	sweepID := r.state.SweepID
	r.mu.Unlock()

	if r.store == nil || sweepID == "" {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.store.CompleteSweep(sweepID, now, msg); err != nil {
		r.logf("failed to complete sweep %s: %v", sweepID, err)
	}
}

func (r *Runner) progress(current string, done int) {
	r.mu.Lock()
	r.state.Current = current
	r.state.Done = done
	r.mu.Unlock()
}

func (r *Runner) sweepID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.SweepID
}

type pair struct{ left, right stereo.Image }

func (r *Runner) sweep(ctx context.Context, left, right stereo.Image, req Request) ([]Result, error) {
	results := make([]Result, 0, req.Grid.Size())
	scaled := make(map[int]pair)
	sweepID := r.sweepID()

	for _, key := range req.Grid.MatchKeys() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		in, ok := scaled[key.ResizeFactor]
		if !ok {
			l, err := imageio.Downsample(left, key.ResizeFactor)
			if err != nil {
				return results, err
			}
			rt, err := imageio.Downsample(right, key.ResizeFactor)
			if err != nil {
				return results, err
			}
			in = pair{l, rt}
			scaled[key.ResizeFactor] = in
		}

		p := req.Base
		p.Width, p.Height = in.left.Width, in.left.Height
		p.Backend = key.Backend
		p.WinSize = key.WinSize
		p.MaxDisp = key.MaxDisp

		r.progress(fmt.Sprintf("%s r=%d w=%d d=%d", key.Backend, key.ResizeFactor, key.WinSize, key.MaxDisp), len(results))
		m, err := r.pipeline.Match(in.left, in.right, p)
		if err != nil {
			return results, fmt.Errorf("matching %+v: %w", key, err)
		}

		for _, cc := range req.Grid.CCThresholds {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			combo := Combo{Backend: key.Backend, ResizeFactor: key.ResizeFactor, WinSize: key.WinSize, MaxDisp: key.MaxDisp, CCThresh: cc}
			p.CCThresh = cc
			res, err := r.pipeline.PostProcess(m, p)
			if err != nil {
				return results, fmt.Errorf("post-processing %s: %w", combo, err)
			}
			out, err := r.record(sweepID, combo, res, req.OutputDir)
			if err != nil {
				return results, err
			}
			results = append(results, out)
			r.progress(combo.String(), len(results))
			r.logf("%s: matching %.1fms, occluded %.1f%%", combo,
				timeutil.Millis(out.Matching), 100*out.Summary.OccludedFraction)
		}
	}
	return results, nil
}

func (r *Runner) record(sweepID string, combo Combo, res *pipeline.Result, outDir string) (Result, error) {
	out := Result{
		Combo:          combo,
		Width:          res.Params.Width,
		Height:         res.Params.Height,
		Matching:       res.Matching,
		PostProcessing: res.PostProcessing,
		Degraded:       res.Degraded,
		DegradedReason: res.DegradedReason,
		Summary:        evaluate.Summarize(res.Filled),
		Histogram:      evaluate.Histogram(res.Filled, res.Params.MaxDisp),
	}
	if outDir != "" {
		out.OutputPath = filepath.Join(outDir, imageio.OutputName(combo.Backend, combo.ResizeFactor, combo.WinSize, combo.MaxDisp, combo.CCThresh))
		final := stereo.Image{Pix: res.Final, Width: res.Params.Width, Height: res.Params.Height}
		if err := imageio.Save(r.fsys, out.OutputPath, final); err != nil {
			return out, err
		}
	}
	if r.store == nil {
		return out, nil
	}

	p := res.Params
	rec := &db.RunRecord{
		SweepID:              sweepID,
		Backend:              res.Backend,
		DeviceIndex:          p.DeviceIndex,
		Width:                p.Width,
		Height:               p.Height,
		ResizeFactor:         combo.ResizeFactor,
		MaxDisp:              p.MaxDisp,
		WinSize:              p.WinSize,
		CCThresh:             p.CCThresh,
		OccThresh:            p.OccThresh,
		WithCrossChecking:    p.WithCrossChecking,
		WithOcclusionFilling: p.WithOcclusionFilling,
		WithNormalization:    p.WithNormalization,
		MatchingMs:           timeutil.Millis(res.Matching),
		PostProcessingMs:     timeutil.Millis(res.PostProcessing),
		Degraded:             res.Degraded,
		DegradedReason:       res.DegradedReason,
		OccludedFraction:     out.Summary.OccludedFraction,
		MeanDisparity:        out.Summary.Mean,
		OutputPath:           out.OutputPath,
		CreatedAt:            r.clock.Now(),
	}
	if err := r.store.InsertRun(rec); err != nil {
		return out, err
	}
	out.RunID = rec.RunID
	return out, nil
}

// Package pipeline sequences the two matching runs and the post-processing
// stages of one disparity computation and times them.
//
// Matching and post-processing are separate calls so that post-processing
// parameters such as CCThresh can be swept over a single, expensive match.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/backend"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
	"github.com/banshee-data/disparity/internal/stereo/postproc"
	"github.com/banshee-data/disparity/internal/timeutil"
)

// Stage names reported through the event sink.
const (
	StageMatching       = "matching"
	StagePostProcessing = "post-processing"
	StageDegraded       = "degraded"
)

// Pipeline runs disparity computations. It holds no per-run state and may be
// reused; concurrent calls are safe when the injected sink and devices are.
type Pipeline struct {
	devices       *accel.Registry
	clock         timeutil.Clock
	sink          monitoring.Sink
	workers       int
	progressEvery int
	split         bool
	logf          func(format string, v ...interface{})
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDevices supplies offload devices for the GPU and accelerator backends.
func WithDevices(r *accel.Registry) Option { return func(p *Pipeline) { p.devices = r } }

// WithClock sets the clock used for stage timings.
func WithClock(c timeutil.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithSink sets the event sink. Backend progress events go to the same sink.
func WithSink(s monitoring.Sink) Option { return func(p *Pipeline) { p.sink = s } }

// WithWorkers sets the worker count for the CPU backends.
func WithWorkers(n int) Option { return func(p *Pipeline) { p.workers = n } }

// WithSplitKernels makes the GPU backend use separate mean, score and argmax launches.
func WithSplitKernels(on bool) Option { return func(p *Pipeline) { p.split = on } }

// WithProgressEvery sets the scalar backend progress interval in rows.
func WithProgressEvery(rows int) Option { return func(p *Pipeline) { p.progressEvery = rows } }

// New creates a Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		clock: timeutil.RealClock{},
		sink:  monitoring.Discard,
		logf:  monitoring.Tagged("zncc"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	p.sink = monitoring.OrDiscard(p.sink)
	return p
}

// Matched holds the raw output of the matching stage.
type Matched struct {
	Left  []uint8 // left image as reference
	Right []uint8 // right image as reference

	Params   stereo.Params
	Backend  string
	Matching time.Duration

	// Degraded is set when the backend skipped work; the affected maps are
	// all Occluded.
	Degraded       bool
	DegradedReason string
}

// Result is the outcome of one full run. It owns all of its maps.
type Result struct {
	Left         []uint8
	Right        []uint8
	CrossChecked []uint8
	Filled       []uint8
	Final        []uint8

	// Normalised copies of the raw maps for diagnostic output.
	LeftNormalized  []uint8
	RightNormalized []uint8

	Matching       time.Duration
	PostProcessing time.Duration

	Backend        string
	Params         stereo.Params
	Degraded       bool
	DegradedReason string
}

// Match validates the inputs and runs the configured backend with each image
// as reference.
func (pl *Pipeline) Match(left, right stereo.Image, params stereo.Params) (*Matched, error) {
	if err := params.CheckPair(left, right); err != nil {
		return nil, err
	}
	b, err := backend.New(params.Backend, backend.Options{
		Workers:       pl.workers,
		ProgressEvery: pl.progressEvery,
		Sink:          pl.sink,
		Devices:       pl.devices,
		SplitKernels:  pl.split,
	})
	if err != nil {
		return nil, err
	}

	n := params.Width * params.Height
	m := &Matched{
		Left:    make([]uint8, n),
		Right:   make([]uint8, n),
		Params:  params,
		Backend: b.Name(),
	}

	sw := timeutil.StartStopwatch(pl.clock)
	runs := []struct {
		ref, target stereo.Image
		out         []uint8
		dir         matcher.Direction
	}{
		{left, right, m.Left, matcher.LeftToRight},
		{right, left, m.Right, matcher.RightToLeft},
	}
	for _, r := range runs {
		err := b.Run(r.ref, r.target, r.out, params, r.dir)
		switch {
		case err == nil:
		case errors.Is(err, backend.ErrDegraded):
			if !m.Degraded {
				m.Degraded = true
				m.DegradedReason = err.Error()
			}
		default:
			return nil, fmt.Errorf("%s %s: %w", b.Name(), r.dir, err)
		}
	}
	m.Matching = sw.Elapsed()

	if m.Degraded {
		pl.logf("%s degraded: %s", m.Backend, m.DegradedReason)
		pl.sink.Emit(monitoring.Event{Stage: StageDegraded, Backend: m.Backend, Message: m.DegradedReason})
	}
	pl.sink.Emit(monitoring.Event{Stage: StageMatching, Backend: m.Backend, Elapsed: m.Matching})
	return m, nil
}

// PostProcess runs cross-check, occlusion fill and normalisation over the
// maps in m. Only the post-processing fields of params may differ from the
// ones used for matching; m is not modified.
func (pl *Pipeline) PostProcess(m *Matched, params stereo.Params) (*Result, error) {
	if m == nil {
		return nil, errors.New("pipeline: nil match")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Width != m.Params.Width || params.Height != m.Params.Height {
		return nil, fmt.Errorf("%w: params %dx%d, matched %dx%d", stereo.ErrSizeMismatch,
			params.Width, params.Height, m.Params.Width, m.Params.Height)
	}
	if params.MaxDisp != m.Params.MaxDisp {
		return nil, fmt.Errorf("%w: max_disp %d differs from matched %d", stereo.ErrInvalidParams, params.MaxDisp, m.Params.MaxDisp)
	}
	if err := params.CheckMap(m.Left); err != nil {
		return nil, err
	}
	if err := params.CheckMap(m.Right); err != nil {
		return nil, err
	}

	sw := timeutil.StartStopwatch(pl.clock)
	res := &Result{
		Left:           slices.Clone(m.Left),
		Right:          slices.Clone(m.Right),
		Matching:       m.Matching,
		Backend:        m.Backend,
		Params:         params,
		Degraded:       m.Degraded,
		DegradedReason: m.DegradedReason,
	}
	res.CrossChecked = postproc.CrossCheck(m.Left, m.Right, params.CCThresh, params.WithCrossChecking)
	res.Filled = postproc.FillOcclusion(res.CrossChecked, params.Width, params.Height, params.MaxDisp, params.WithOcclusionFilling)
	if params.WithNormalization {
		res.Final = postproc.Normalize(res.Filled, params.MaxDisp)
	} else {
		res.Final = slices.Clone(res.Filled)
	}
	res.LeftNormalized = postproc.Normalize(m.Left, params.MaxDisp)
	res.RightNormalized = postproc.Normalize(m.Right, params.MaxDisp)
	res.PostProcessing = sw.Elapsed()

	pl.sink.Emit(monitoring.Event{Stage: StagePostProcessing, Backend: res.Backend, Elapsed: res.PostProcessing})
	return res, nil
}

// Run matches and post-processes one stereo pair.
func (pl *Pipeline) Run(left, right stereo.Image, params stereo.Params) (*Result, error) {
	m, err := pl.Match(left, right, params)
	if err != nil {
		return nil, err
	}
	return pl.PostProcess(m, params)
}

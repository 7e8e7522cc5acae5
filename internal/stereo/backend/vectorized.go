package backend

import (
	"math"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/kernel"
	"github.com/banshee-data/disparity/internal/stereo/matcher"
)

var logFeaturesOnce sync.Once

// SIMDFeatures lists the vector extensions gonum's assembly kernels can use
// on this machine.
func SIMDFeatures() []string {
	var f []string
	if cpu.X86.HasSSE41 {
		f = append(f, "sse4.1")
	}
	if cpu.X86.HasAVX {
		f = append(f, "avx")
	}
	if cpu.X86.HasAVX2 {
		f = append(f, "avx2")
	}
	if cpu.X86.HasFMA {
		f = append(f, "fma")
	}
	if cpu.X86.HasAVX512F {
		f = append(f, "avx512f")
	}
	if cpu.ARM64.HasASIMD {
		f = append(f, "asimd")
	}
	return f
}

// Vectorized partitions rows like ThreadPool but evaluates each window as a
// clamped rectangle: the bounds are computed once per window and the
// reductions run over contiguous row slices with gonum's floats kernels.
type Vectorized struct {
	workers int
}

// NewVectorized creates a vectorized backend.
func NewVectorized(opts Options) *Vectorized {
	logFeaturesOnce.Do(func() {
		feats := SIMDFeatures()
		if len(feats) == 0 {
			feats = []string{"none"}
		}
		monitoring.Tagged("vectorized")("cpu features: %s", strings.Join(feats, ","))
	})
	return &Vectorized{workers: opts.workers()}
}

func (v *Vectorized) Name() string { return stereo.BackendVectorized.String() }

func (v *Vectorized) Run(ref, target stereo.Image, out []uint8, p stereo.Params, dir matcher.Direction) error {
	if err := checkRun(ref, target, out, p); err != nil {
		return err
	}
	refF := toFloat64(ref.Pix)
	tgtF := toFloat64(target.Pix)
	runChunks(p.Height, v.workers, func(y0, y1 int) {
		s := newWindowScratch(p.WinSize)
		for y := y0; y < y1; y++ {
			for x := 0; x < p.Width; x++ {
				out[y*p.Width+x] = s.matchPixel(x, y, refF, tgtF, p, dir)
			}
		}
	})
	return nil
}

func toFloat64(pix []uint8) []float64 {
	f := make([]float64, len(pix))
	for i, v := range pix {
		f[i] = float64(v)
	}
	return f
}

// windowScratch holds one worker's centred window buffers.
type windowScratch struct {
	a, b []float64
}

func newWindowScratch(winSize int) *windowScratch {
	n := winSize * winSize
	return &windowScratch{a: make([]float64, n), b: make([]float64, n)}
}

func (s *windowScratch) matchPixel(x, y int, ref, tgt []float64, p stereo.Params, dir matcher.Direction) uint8 {
	half := p.HalfWindow()
	mean1 := rectMean(ref, p.Width, kernel.Clamp(x, y, 0, p.Width, p.Height, half))
	best := math.Inf(-1)
	bestD := 0
	for d := 0; d < p.MaxDisp; d++ {
		r := kernel.Clamp(x, y, dir.Shift(d), p.Width, p.Height, half)
		score := 0.0
		if !r.Empty() {
			score = s.score(ref, tgt, p.Width, r, mean1, rectMean(tgt, p.Width, r))
		}
		if score > best {
			best = score
			bestD = d
		}
	}
	return matcher.ClampDisparity(bestD)
}

// rectMean averages img over r, reading column c-r.Shift for reference column c.
func rectMean(img []float64, width int, r kernel.Rect) float64 {
	if r.Empty() {
		return 0
	}
	sum := 0.0
	for y := r.Y0; y < r.Y1; y++ {
		row := y*width - r.Shift
		sum += floats.Sum(img[row+r.X0 : row+r.X1])
	}
	return sum / float64(r.Count())
}

func (s *windowScratch) score(ref, tgt []float64, width int, r kernel.Rect, mean1, mean2 float64) float64 {
	n := r.Count()
	a, b := s.a[:n], s.b[:n]
	cols := r.X1 - r.X0
	k := 0
	for y := r.Y0; y < r.Y1; y++ {
		row := y * width
		copy(a[k:k+cols], ref[row+r.X0:row+r.X1])
		copy(b[k:k+cols], tgt[row+r.X0-r.Shift:row+r.X1-r.Shift])
		k += cols
	}
	floats.AddConst(-mean1, a)
	floats.AddConst(-mean2, b)
	return kernel.Score(floats.Dot(a, b), floats.Dot(a, a), floats.Dot(b, b))
}

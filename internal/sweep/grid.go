package sweep

import (
	"errors"
	"fmt"

	"github.com/banshee-data/disparity/internal/stereo"
)

// maxCombos bounds the size of one grid.
const maxCombos = 10000

// Grid is the cartesian product of parameter values to evaluate. Empty
// dimensions are invalid.
type Grid struct {
	Backends      []stereo.BackendKind `json:"backends"`
	ResizeFactors []int                `json:"resize_factors"`
	WinSizes      []int                `json:"win_sizes"`
	MaxDisps      []int                `json:"max_disps"`
	CCThresholds  []int                `json:"cc_thresholds"`
}

// Combo is one point of a Grid.
type Combo struct {
	Backend      stereo.BackendKind `json:"backend"`
	ResizeFactor int                `json:"resize_factor"`
	WinSize      int                `json:"win_size"`
	MaxDisp      int                `json:"max_disp"`
	CCThresh     int                `json:"cc_thresh"`
}

// String returns a compact label for logs and chart axes.
func (c Combo) String() string {
	return fmt.Sprintf("%s r=%d w=%d d=%d cc=%d", c.Backend, c.ResizeFactor, c.WinSize, c.MaxDisp, c.CCThresh)
}

// MatchKey identifies the combinations that share one matching run. Only
// the cross-check threshold varies within a key.
type MatchKey struct {
	Backend      stereo.BackendKind
	ResizeFactor int
	WinSize      int
	MaxDisp      int
}

// Key returns the matching key of c.
func (c Combo) Key() MatchKey {
	return MatchKey{Backend: c.Backend, ResizeFactor: c.ResizeFactor, WinSize: c.WinSize, MaxDisp: c.MaxDisp}
}

// Validate checks every dimension is non-empty and every value is usable.
func (g Grid) Validate() error {
	if len(g.Backends) == 0 || len(g.ResizeFactors) == 0 || len(g.WinSizes) == 0 ||
		len(g.MaxDisps) == 0 || len(g.CCThresholds) == 0 {
		return errors.New("sweep grid: every dimension needs at least one value")
	}
	for _, b := range g.Backends {
		if !b.Valid() {
			return fmt.Errorf("sweep grid: unknown backend %d", int(b))
		}
	}
	for _, r := range g.ResizeFactors {
		if r < 1 {
			return fmt.Errorf("sweep grid: resize factor must be >= 1, got %d", r)
		}
	}
	for _, w := range g.WinSizes {
		if w < 1 || w%2 == 0 {
			return fmt.Errorf("sweep grid: window size must be odd and >= 1, got %d", w)
		}
	}
	for _, d := range g.MaxDisps {
		if d < 1 || d > stereo.MaxStoredDisparity {
			return fmt.Errorf("sweep grid: max disparity must be in 1..%d, got %d", stereo.MaxStoredDisparity, d)
		}
	}
	for _, cc := range g.CCThresholds {
		if cc < 0 {
			return fmt.Errorf("sweep grid: cc threshold must be non-negative, got %d", cc)
		}
	}
	if n := g.Size(); n > maxCombos || n < 0 {
		return fmt.Errorf("sweep grid: %d combinations exceed limit of %d", n, maxCombos)
	}
	return nil
}

// Size returns the number of combinations.
func (g Grid) Size() int {
	return len(g.Backends) * len(g.ResizeFactors) * len(g.WinSizes) * len(g.MaxDisps) * len(g.CCThresholds)
}

// Combos lists the combinations with the cross-check threshold varying
// fastest, so combinations sharing a MatchKey are adjacent.
func (g Grid) Combos() []Combo {
	out := make([]Combo, 0, g.Size())
	for _, b := range g.Backends {
		for _, r := range g.ResizeFactors {
			for _, w := range g.WinSizes {
				for _, d := range g.MaxDisps {
					for _, cc := range g.CCThresholds {
						out = append(out, Combo{Backend: b, ResizeFactor: r, WinSize: w, MaxDisp: d, CCThresh: cc})
					}
				}
			}
		}
	}
	return out
}

// MatchKeys lists the distinct matching runs in Combos order.
func (g Grid) MatchKeys() []MatchKey {
	var out []MatchKey
	for _, b := range g.Backends {
		for _, r := range g.ResizeFactors {
			for _, w := range g.WinSizes {
				for _, d := range g.MaxDisps {
					out = append(out, MatchKey{Backend: b, ResizeFactor: r, WinSize: w, MaxDisp: d})
				}
			}
		}
	}
	return out
}

package stereo

import "fmt"

// MaxStoredDisparity is the largest disparity representable in a map pixel.
const MaxStoredDisparity = 255

// Params is the immutable per-run configuration. It is passed by value.
type Params struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	MaxDisp int `json:"max_disp"` // exclusive upper bound of the search range
	WinSize int `json:"win_size"` // odd side length of the correlation window

	CCThresh  int `json:"cc_thresh"`
	OccThresh int `json:"occ_thresh"` // reserved, only recorded

	WithCrossChecking    bool `json:"with_cross_checking"`
	WithOcclusionFilling bool `json:"with_occlusion_filling"`
	WithNormalization    bool `json:"with_normalization"`

	Backend     BackendKind `json:"backend"`
	DeviceIndex int         `json:"device_index"`
}

// DefaultParams returns the parameters used when nothing else is configured.
// All post-processing stages are enabled.
func DefaultParams(width, height int) Params {
	return Params{
		Width:                width,
		Height:               height,
		MaxDisp:              32,
		WinSize:              9,
		CCThresh:             4,
		OccThresh:            2,
		WithCrossChecking:    true,
		WithOcclusionFilling: true,
		WithNormalization:    true,
		Backend:              BackendThreadPool,
	}
}

// HalfWindow returns WinSize/2.
func (p Params) HalfWindow() int {
	return p.WinSize / 2
}

// Validate checks the parameter invariants.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive", ErrInvalidParams, p.Width, p.Height)
	}
	if p.WinSize < 1 || p.WinSize%2 == 0 {
		return fmt.Errorf("%w: win_size must be odd and >= 1, got %d", ErrInvalidParams, p.WinSize)
	}
	if p.MaxDisp < 1 {
		return fmt.Errorf("%w: max_disp must be >= 1, got %d", ErrInvalidParams, p.MaxDisp)
	}
	if p.CCThresh < 0 {
		return fmt.Errorf("%w: cc_thresh must be non-negative, got %d", ErrInvalidParams, p.CCThresh)
	}
	if p.OccThresh < 0 {
		return fmt.Errorf("%w: occ_thresh must be non-negative, got %d", ErrInvalidParams, p.OccThresh)
	}
	if p.DeviceIndex < 0 {
		return fmt.Errorf("%w: device_index must be non-negative, got %d", ErrInvalidParams, p.DeviceIndex)
	}
	if !p.Backend.Valid() {
		return fmt.Errorf("%w: unknown backend %d", ErrInvalidParams, int(p.Backend))
	}
	return nil
}

// CheckPair validates p and verifies both images match its dimensions.
func (p Params) CheckPair(left, right Image) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := left.Validate(); err != nil {
		return fmt.Errorf("left: %w", err)
	}
	if err := right.Validate(); err != nil {
		return fmt.Errorf("right: %w", err)
	}
	if left.Width != right.Width || left.Height != right.Height {
		return fmt.Errorf("%w: left %dx%d, right %dx%d", ErrSizeMismatch, left.Width, left.Height, right.Width, right.Height)
	}
	if left.Width != p.Width || left.Height != p.Height {
		return fmt.Errorf("%w: images %dx%d, params %dx%d", ErrSizeMismatch, left.Width, left.Height, p.Width, p.Height)
	}
	return nil
}

// CheckMap verifies an output map has one entry per pixel.
func (p Params) CheckMap(m []uint8) error {
	if len(m) != p.Width*p.Height {
		return fmt.Errorf("%w: map length %d, want %d", ErrSizeMismatch, len(m), p.Width*p.Height)
	}
	return nil
}

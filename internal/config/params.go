package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/disparity/internal/stereo"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/zncc.defaults.json"

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// Built-in defaults used when a field is absent from the JSON.
const (
	DefaultMaxDisp      = 32
	DefaultWinSize      = 9
	DefaultCCThresh     = 4
	DefaultOccThresh    = 2
	DefaultBackend      = "threadpool"
	DefaultResizeFactor = 1
)

// ParamsConfig is the JSON form of a run configuration. Pointer fields
// distinguish "unset" from zero so partial files fall back to defaults.
type ParamsConfig struct {
	// Matching
	MaxDisp *int `json:"max_disp,omitempty"`
	WinSize *int `json:"win_size,omitempty"`

	// Post-processing
	CCThresh             *int  `json:"cc_thresh,omitempty"`
	OccThresh            *int  `json:"occ_thresh,omitempty"`
	WithCrossChecking    *bool `json:"with_cross_checking,omitempty"`
	WithOcclusionFilling *bool `json:"with_occlusion_filling,omitempty"`
	WithNormalization    *bool `json:"with_normalization,omitempty"`

	// Execution
	Backend      *string `json:"backend,omitempty"`
	DeviceIndex  *int    `json:"device_index,omitempty"`
	Workers      *int    `json:"workers,omitempty"` // 0 = one per CPU
	SplitKernels *bool   `json:"split_kernels,omitempty"`

	// Emulated offload devices registered at startup
	EmulatedGPUs         *int `json:"emulated_gpus,omitempty"`
	EmulatedAccelerators *int `json:"emulated_accelerators,omitempty"`

	// Input preparation
	ResizeFactor *int `json:"resize_factor,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyParamsConfig returns a config with every field unset.
func EmptyParamsConfig() *ParamsConfig {
	return &ParamsConfig{}
}

// LoadParamsConfig loads a ParamsConfig from a JSON file. The file must have
// a .json extension and be at most 1MB. Omitted fields keep their defaults.
func LoadParamsConfig(path string) (*ParamsConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseParamsConfig(data)
}

// ParseParamsConfig decodes and validates a JSON config.
func ParseParamsConfig(data []byte) (*ParamsConfig, error) {
	cfg := EmptyParamsConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so tests can call it from any package. It panics when the
// file cannot be found.
func MustLoadDefaultConfig() *ParamsConfig {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadParamsConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *ParamsConfig) Validate() error {
	if c.WinSize != nil && (*c.WinSize < 1 || *c.WinSize%2 == 0) {
		return fmt.Errorf("win_size must be odd and >= 1, got %d", *c.WinSize)
	}
	if c.MaxDisp != nil && *c.MaxDisp < 1 {
		return fmt.Errorf("max_disp must be >= 1, got %d", *c.MaxDisp)
	}
	for name, v := range map[string]*int{
		"cc_thresh":             c.CCThresh,
		"occ_thresh":            c.OccThresh,
		"device_index":          c.DeviceIndex,
		"workers":               c.Workers,
		"emulated_gpus":         c.EmulatedGPUs,
		"emulated_accelerators": c.EmulatedAccelerators,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	if c.ResizeFactor != nil && *c.ResizeFactor < 1 {
		return fmt.Errorf("resize_factor must be >= 1, got %d", *c.ResizeFactor)
	}
	if c.Backend != nil {
		if _, err := stereo.ParseBackendKind(*c.Backend); err != nil {
			return fmt.Errorf("backend: %w", err)
		}
	}
	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetMaxDisp returns max_disp or the default.
func (c *ParamsConfig) GetMaxDisp() int { return getInt(c.MaxDisp, DefaultMaxDisp) }

// GetWinSize returns win_size or the default.
func (c *ParamsConfig) GetWinSize() int { return getInt(c.WinSize, DefaultWinSize) }

func (c *ParamsConfig) GetCCThresh() int  { return getInt(c.CCThresh, DefaultCCThresh) }
func (c *ParamsConfig) GetOccThresh() int { return getInt(c.OccThresh, DefaultOccThresh) }

func (c *ParamsConfig) GetWithCrossChecking() bool    { return getBool(c.WithCrossChecking, true) }
func (c *ParamsConfig) GetWithOcclusionFilling() bool { return getBool(c.WithOcclusionFilling, true) }
func (c *ParamsConfig) GetWithNormalization() bool    { return getBool(c.WithNormalization, true) }

// GetBackend returns the parsed backend, falling back to the default when
// unset or unparsable.
func (c *ParamsConfig) GetBackend() stereo.BackendKind {
	name := DefaultBackend
	if c.Backend != nil {
		name = *c.Backend
	}
	k, err := stereo.ParseBackendKind(name)
	if err != nil {
		return stereo.BackendThreadPool
	}
	return k
}

func (c *ParamsConfig) GetDeviceIndex() int          { return getInt(c.DeviceIndex, 0) }
func (c *ParamsConfig) GetWorkers() int              { return getInt(c.Workers, 0) }
func (c *ParamsConfig) GetSplitKernels() bool        { return getBool(c.SplitKernels, false) }
func (c *ParamsConfig) GetEmulatedGPUs() int         { return getInt(c.EmulatedGPUs, 0) }
func (c *ParamsConfig) GetEmulatedAccelerators() int { return getInt(c.EmulatedAccelerators, 0) }
func (c *ParamsConfig) GetResizeFactor() int         { return getInt(c.ResizeFactor, DefaultResizeFactor) }

// Params builds validated stereo parameters for a working image of the given size.
func (c *ParamsConfig) Params(width, height int) (stereo.Params, error) {
	p := stereo.Params{
		Width:                width,
		Height:               height,
		MaxDisp:              c.GetMaxDisp(),
		WinSize:              c.GetWinSize(),
		CCThresh:             c.GetCCThresh(),
		OccThresh:            c.GetOccThresh(),
		WithCrossChecking:    c.GetWithCrossChecking(),
		WithOcclusionFilling: c.GetWithOcclusionFilling(),
		WithNormalization:    c.GetWithNormalization(),
		Backend:              c.GetBackend(),
		DeviceIndex:          c.GetDeviceIndex(),
	}
	if err := p.Validate(); err != nil {
		return stereo.Params{}, err
	}
	return p, nil
}

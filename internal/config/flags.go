package config

import (
	"flag"
	"fmt"
)

// Flags binds the run parameters to command-line flags. Only flags the user
// set explicitly override the loaded config.
type Flags struct {
	fs *flag.FlagSet

	maxDisp      int
	winSize      int
	ccThresh     int
	occThresh    int
	crossCheck   bool
	fill         bool
	normalize    bool
	backend      string
	device       int
	workers      int
	splitKernels bool
	emulateGPUs  int
	emulateAccel int
	resize       int
}

// RegisterFlags adds the parameter flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.IntVar(&f.maxDisp, "max-disp", DefaultMaxDisp, "Exclusive upper bound of the disparity search")
	fs.IntVar(&f.winSize, "win-size", DefaultWinSize, "Odd correlation window size")
	fs.IntVar(&f.ccThresh, "cc-thresh", DefaultCCThresh, "Cross-check threshold")
	fs.IntVar(&f.occThresh, "occ-thresh", DefaultOccThresh, "Occlusion threshold (recorded only)")
	fs.BoolVar(&f.crossCheck, "cross-check", true, "Enable left/right cross-checking")
	fs.BoolVar(&f.fill, "fill", true, "Enable occlusion filling")
	fs.BoolVar(&f.normalize, "normalize", true, "Scale the final map to 0..255")
	fs.StringVar(&f.backend, "backend", DefaultBackend, "Backend: scalar, threadpool, vectorized, gpu, accelerator")
	fs.IntVar(&f.device, "device", 0, "Device index for the gpu and accelerator backends")
	fs.IntVar(&f.workers, "workers", 0, "CPU backend workers (0 = one per CPU)")
	fs.BoolVar(&f.splitKernels, "split-kernels", false, "Use separate mean, score and argmax GPU launches")
	fs.IntVar(&f.emulateGPUs, "emulate-gpus", 0, "Register this many host-emulated GPU devices")
	fs.IntVar(&f.emulateAccel, "emulate-accelerators", 0, "Register this many host-emulated accelerator devices")
	fs.IntVar(&f.resize, "resize", DefaultResizeFactor, "Downsample factor applied to both inputs")
	return f
}

// Apply copies every explicitly set flag into cfg and validates the result.
// Call it after fs.Parse.
func (f *Flags) Apply(cfg *ParamsConfig) error {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "max-disp":
			cfg.MaxDisp = ptrInt(f.maxDisp)
		case "win-size":
			cfg.WinSize = ptrInt(f.winSize)
		case "cc-thresh":
			cfg.CCThresh = ptrInt(f.ccThresh)
		case "occ-thresh":
			cfg.OccThresh = ptrInt(f.occThresh)
		case "cross-check":
			cfg.WithCrossChecking = ptrBool(f.crossCheck)
		case "fill":
			cfg.WithOcclusionFilling = ptrBool(f.fill)
		case "normalize":
			cfg.WithNormalization = ptrBool(f.normalize)
		case "backend":
			cfg.Backend = ptrString(f.backend)
		case "device":
			cfg.DeviceIndex = ptrInt(f.device)
		case "workers":
			cfg.Workers = ptrInt(f.workers)
		case "split-kernels":
			cfg.SplitKernels = ptrBool(f.splitKernels)
		case "emulate-gpus":
			cfg.EmulatedGPUs = ptrInt(f.emulateGPUs)
		case "emulate-accelerators":
			cfg.EmulatedAccelerators = ptrInt(f.emulateAccel)
		case "resize":
			cfg.ResizeFactor = ptrInt(f.resize)
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// Load reads path (or starts from defaults when path is empty) and applies
// the explicitly set flags on top.
func (f *Flags) Load(path string) (*ParamsConfig, error) {
	cfg := EmptyParamsConfig()
	if path != "" {
		var err error
		if cfg, err = LoadParamsConfig(path); err != nil {
			return nil, err
		}
	}
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Command zncc computes a ZNCC disparity map for one rectified stereo pair.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/config"
	"github.com/banshee-data/disparity/internal/db"
	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/imageio"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/evaluate"
	"github.com/banshee-data/disparity/internal/stereo/pipeline"
	"github.com/banshee-data/disparity/internal/timeutil"
	"github.com/banshee-data/disparity/internal/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("zncc: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zncc", flag.ContinueOnError)
	params := config.RegisterFlags(fs)
	configPath := fs.String("config", "", "JSON parameter file (flags override its values)")
	leftPath := fs.String("left", "", "Left image")
	rightPath := fs.String("right", "", "Right image")
	outDir := fs.String("out", ".", "Output directory")
	dbPath := fs.String("db", "", "Optional sqlite experiment log")
	diagnostics := fs.Bool("diagnostics", false, "Also write the normalised raw left and right maps")
	fullSize := fs.Bool("full-size", false, "Upsample the final map back to the input size")
	verbose := fs.Bool("v", false, "Log stage and progress events")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String("zncc"))
		return nil
	}

	// positional form: zncc [flags] left.png right.png
	if *leftPath == "" && *rightPath == "" && fs.NArg() == 2 {
		*leftPath, *rightPath = fs.Arg(0), fs.Arg(1)
	}
	if *leftPath == "" || *rightPath == "" {
		return fmt.Errorf("left and right images are required")
	}

	cfg, err := params.Load(*configPath)
	if err != nil {
		return err
	}

	fsys := fsutil.OSFileSystem{}
	resize := cfg.GetResizeFactor()
	left, right, err := imageio.LoadPair(fsys, *leftPath, *rightPath, resize)
	if err != nil {
		return err
	}
	p, err := cfg.Params(left.Width, left.Height)
	if err != nil {
		return err
	}

	devices := accel.NewEmulatedRegistry(cfg.GetEmulatedGPUs(), cfg.GetEmulatedAccelerators(), cfg.GetWorkers())
	defer devices.Close()

	sink := monitoring.Discard
	if *verbose {
		sink = monitoring.LogSink{}
	}
	pl := pipeline.New(
		pipeline.WithDevices(devices),
		pipeline.WithWorkers(cfg.GetWorkers()),
		pipeline.WithSplitKernels(cfg.GetSplitKernels()),
		pipeline.WithSink(sink),
	)

	res, err := pl.Run(left, right, p)
	if err != nil {
		return err
	}

	name := imageio.OutputName(p.Backend, resize, p.WinSize, p.MaxDisp, p.CCThresh)
	outPath := filepath.Join(*outDir, name)
	final := stereo.Image{Pix: res.Final, Width: p.Width, Height: p.Height}
	if *fullSize && resize > 1 {
		if final, err = imageio.Upsample(final, resize); err != nil {
			return err
		}
	}
	if err := imageio.Save(fsys, outPath, final); err != nil {
		return err
	}
	if *diagnostics {
		base := strings.TrimSuffix(outPath, ".png")
		maps := map[string][]uint8{"_left.png": res.LeftNormalized, "_right.png": res.RightNormalized}
		for suffix, m := range maps {
			if err := imageio.Save(fsys, base+suffix, stereo.Image{Pix: m, Width: p.Width, Height: p.Height}); err != nil {
				return err
			}
		}
	}

	sum := evaluate.Summarize(res.Filled)
	fmt.Fprintf(stdout, "backend=%s size=%dx%d matching=%.3fms post-processing=%.3fms\n",
		res.Backend, p.Width, p.Height, timeutil.Millis(res.Matching), timeutil.Millis(res.PostProcessing))
	fmt.Fprintf(stdout, "occluded=%.2f%% mean=%.3f std=%.3f range=%d..%d\n",
		100*sum.OccludedFraction, sum.Mean, sum.StdDev, sum.Min, sum.Max)
	if res.Degraded {
		fmt.Fprintf(stdout, "degraded: %s\n", res.DegradedReason)
	}
	fmt.Fprintf(stdout, "wrote %s\n", outPath)

	if *dbPath == "" {
		return nil
	}
	database, err := db.OpenDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()

	rec := &db.RunRecord{
		Backend:              res.Backend,
		DeviceIndex:          p.DeviceIndex,
		Width:                p.Width,
		Height:               p.Height,
		ResizeFactor:         resize,
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
		OccludedFraction:     sum.OccludedFraction,
		MeanDisparity:        sum.Mean,
		OutputPath:           outPath,
	}
	if err := db.NewRunStore(database).InsertRun(rec); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "logged run %s\n", rec.RunID)
	return nil
}

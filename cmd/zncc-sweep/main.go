// Command zncc-sweep runs a grid search over ZNCC parameters for one stereo
// pair and writes a CSV, charts and an HTML report.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/config"
	"github.com/banshee-data/disparity/internal/db"
	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/monitoring"
	"github.com/banshee-data/disparity/internal/report"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/pipeline"
	"github.com/banshee-data/disparity/internal/sweep"
	"github.com/banshee-data/disparity/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("zncc-sweep: %v", err)
	}
}

// gridFlags holds the swept dimensions. Each accepts a comma-separated list
// or a min:max:step range; empty falls back to the single configured value.
type gridFlags struct {
	backends      string
	resizeFactors string
	winSizes      string
	maxDisps      string
	ccThresholds  string
}

func (g gridFlags) build(cfg *config.ParamsConfig) (sweep.Grid, error) {
	var grid sweep.Grid
	var err error
	if g.backends == "" {
		grid.Backends = []stereo.BackendKind{cfg.GetBackend()}
	} else if grid.Backends, err = sweep.ParseBackendList(g.backends); err != nil {
		return grid, err
	}
	ints := []struct {
		name string
		spec string
		def  int
		dst  *[]int
	}{
		{"resize", g.resizeFactors, cfg.GetResizeFactor(), &grid.ResizeFactors},
		{"win", g.winSizes, cfg.GetWinSize(), &grid.WinSizes},
		{"disp", g.maxDisps, cfg.GetMaxDisp(), &grid.MaxDisps},
		{"cc", g.ccThresholds, cfg.GetCCThresh(), &grid.CCThresholds},
	}
	for _, d := range ints {
		vals, err := sweep.ParseIntParamList(d.spec)
		if err != nil {
			return grid, fmt.Errorf("-%s: %w", d.name, err)
		}
		if len(vals) == 0 {
			vals = []int{d.def}
		}
		*d.dst = vals
	}
	return grid, grid.Validate()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zncc-sweep", flag.ContinueOnError)
	params := config.RegisterFlags(fs)
	configPath := fs.String("config", "", "JSON parameter file for the values that are not swept")
	leftPath := fs.String("left", "", "Left image")
	rightPath := fs.String("right", "", "Right image")
	mapsDir := fs.String("maps", "", "Write one final map per combination to this directory")
	reportDir := fs.String("report", "", "Report directory (defaults to sweep-<timestamp>)")
	dbPath := fs.String("db", "", "Optional sqlite experiment log")
	verbose := fs.Bool("v", false, "Log stage events")
	showVersion := fs.Bool("version", false, "Print version and exit")

	var g gridFlags
	fs.StringVar(&g.backends, "backends", "", "Backends to sweep, comma-separated or 'all'")
	fs.StringVar(&g.resizeFactors, "resize-factors", "", "Resize factors (e.g. 1,2,4 or 1:4:1)")
	fs.StringVar(&g.winSizes, "win-sizes", "", "Window sizes (e.g. 5,9,13 or 3:15:2)")
	fs.StringVar(&g.maxDisps, "max-disps", "", "Max disparities (e.g. 32,64)")
	fs.StringVar(&g.ccThresholds, "cc-thresholds", "", "Cross-check thresholds (e.g. 0:8:1)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String("zncc-sweep"))
		return nil
	}
	if *leftPath == "" || *rightPath == "" {
		return fmt.Errorf("-left and -right are required")
	}

	cfg, err := params.Load(*configPath)
	if err != nil {
		return err
	}
	grid, err := g.build(cfg)
	if err != nil {
		return err
	}
	// width and height are filled per resize factor by the runner
	base, err := cfg.Params(1, 1)
	if err != nil {
		return err
	}

	devices := accel.NewEmulatedRegistry(cfg.GetEmulatedGPUs(), cfg.GetEmulatedAccelerators(), cfg.GetWorkers())
	defer devices.Close()

	pipeOpts := []pipeline.Option{
		pipeline.WithDevices(devices),
		pipeline.WithWorkers(cfg.GetWorkers()),
		pipeline.WithSplitKernels(cfg.GetSplitKernels()),
	}
	if *verbose {
		pipeOpts = append(pipeOpts, pipeline.WithSink(monitoring.LogSink{}))
	}

	runnerOpts := []sweep.RunnerOption{sweep.WithFileSystem(fsutil.OSFileSystem{})}
	if *dbPath != "" {
		database, err := db.OpenDB(*dbPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer database.Close()
		runnerOpts = append(runnerOpts, sweep.WithStore(db.NewRunStore(database)))
	}
	runner := sweep.NewRunner(pipeline.New(pipeOpts...), runnerOpts...)

	fmt.Fprintf(stdout, "sweeping %d combinations (%d matches)\n", grid.Size(), len(grid.MatchKeys()))
	results, err := runner.Run(ctx, sweep.Request{
		LeftPath:  *leftPath,
		RightPath: *rightPath,
		Grid:      grid,
		Base:      base,
		OutputDir: *mapsDir,
	})
	if err != nil {
		return err
	}

	dir := *reportDir
	if dir == "" {
		dir = fmt.Sprintf("sweep-%s", time.Now().Format("20060102-150405"))
	}
	if err := report.Write(fsutil.OSFileSystem{}, dir, results); err != nil {
		return err
	}

	best := results[report.Best(results)]
	fmt.Fprintf(stdout, "best: %s occluded=%.2f%%\n", best.Combo, 100*best.Summary.OccludedFraction)
	if id := runner.State().SweepID; id != "" {
		fmt.Fprintf(stdout, "sweep %s\n", id)
	}
	fmt.Fprintf(stdout, "report written to %s\n", filepath.Join(dir, report.HTMLFile))
	return nil
}

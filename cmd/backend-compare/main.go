// Command backend-compare runs every backend on the same stereo pair and
// reports how closely each one agrees with the scalar reference.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/banshee-data/disparity/internal/accel"
	"github.com/banshee-data/disparity/internal/config"
	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/imageio"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/stereo/evaluate"
	"github.com/banshee-data/disparity/internal/stereo/pipeline"
	"github.com/banshee-data/disparity/internal/sweep"
	"github.com/banshee-data/disparity/internal/timeutil"
	"github.com/banshee-data/disparity/internal/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("backend-compare: %v", err)
	}
}

// row is one backend's outcome relative to the reference.
type row struct {
	backend    string
	matchMs    float64
	postMs     float64
	rawAgree   float64
	finalAgree float64
	degraded   string
	truth      *evaluate.Comparison
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backend-compare", flag.ContinueOnError)
	params := config.RegisterFlags(fs)
	configPath := fs.String("config", "", "JSON parameter file")
	leftPath := fs.String("left", "", "Left image")
	rightPath := fs.String("right", "", "Right image")
	truthPath := fs.String("truth", "", "Optional ground-truth disparity image, scaled like the final map")
	backends := fs.String("backends", "all", "Backends to compare; scalar is always the reference")
	tol := fs.Int("tol", 0, "Largest per-pixel difference still counted as agreement")
	badThresh := fs.Int("bad-thresh", 2, "Ground-truth error above which a pixel is bad")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String("backend-compare"))
		return nil
	}
	if *leftPath == "" || *rightPath == "" {
		return fmt.Errorf("-left and -right are required")
	}

	cfg, err := params.Load(*configPath)
	if err != nil {
		return err
	}
	kinds, err := sweep.ParseBackendList(*backends)
	if err != nil {
		return err
	}

	fsys := fsutil.OSFileSystem{}
	resize := cfg.GetResizeFactor()
	left, right, err := imageio.LoadPair(fsys, *leftPath, *rightPath, resize)
	if err != nil {
		return err
	}
	base, err := cfg.Params(left.Width, left.Height)
	if err != nil {
		return err
	}

	var truth *stereo.Image
	if *truthPath != "" {
		t, err := imageio.Load(fsys, *truthPath)
		if err != nil {
			return err
		}
		if t, err = imageio.Downsample(t, resize); err != nil {
			return err
		}
		if t.Width != base.Width || t.Height != base.Height {
			return fmt.Errorf("%w: truth %dx%d, pair %dx%d", stereo.ErrSizeMismatch, t.Width, t.Height, base.Width, base.Height)
		}
		truth = &t
	}

	// offload backends get one emulated device each unless configured
	gpus, accels := cfg.GetEmulatedGPUs(), cfg.GetEmulatedAccelerators()
	if cfg.EmulatedGPUs == nil {
		gpus = 1
	}
	if cfg.EmulatedAccelerators == nil {
		accels = 1
	}
	devices := accel.NewEmulatedRegistry(gpus, accels, cfg.GetWorkers())
	defer devices.Close()

	pl := pipeline.New(
		pipeline.WithDevices(devices),
		pipeline.WithWorkers(cfg.GetWorkers()),
		pipeline.WithSplitKernels(cfg.GetSplitKernels()),
	)

	ref, err := runBackend(pl, left, right, base, stereo.BackendScalar)
	if err != nil {
		return fmt.Errorf("reference: %w", err)
	}

	rows := make([]row, 0, len(kinds))
	for _, k := range kinds {
		res := ref
		if k != stereo.BackendScalar {
			if res, err = runBackend(pl, left, right, base, k); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		rw := row{
			backend: res.Backend,
			matchMs: timeutil.Millis(res.Matching),
			postMs:  timeutil.Millis(res.PostProcessing),
		}
		if rw.rawAgree, err = evaluate.Agreement(ref.Left, res.Left, *tol); err != nil {
			return err
		}
		if rw.finalAgree, err = evaluate.Agreement(ref.Final, res.Final, *tol); err != nil {
			return err
		}
		if res.Degraded {
			rw.degraded = res.DegradedReason
		}
		if truth != nil {
			c, err := evaluate.Compare(res.Final, truth.Pix, *badThresh)
			if err != nil {
				return err
			}
			rw.truth = &c
		}
		rows = append(rows, rw)
	}

	writeTable(stdout, base, rows)
	return nil
}

func runBackend(pl *pipeline.Pipeline, left, right stereo.Image, base stereo.Params, k stereo.BackendKind) (*pipeline.Result, error) {
	p := base
	p.Backend = k
	return pl.Run(left, right, p)
}

func writeTable(w io.Writer, p stereo.Params, rows []row) {
	fmt.Fprintf(w, "%dx%d win=%d max_disp=%d cc=%d\n", p.Width, p.Height, p.WinSize, p.MaxDisp, p.CCThresh)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "backend\tmatching_ms\tpost_ms\traw_agree\tfinal_agree\tbad_px\trmse\tdegraded")
	for _, r := range rows {
		bad, rmse := "-", "-"
		if r.truth != nil {
			bad = fmt.Sprintf("%.2f%%", 100*r.truth.BadFraction)
			rmse = fmt.Sprintf("%.3f", r.truth.RMSE)
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.4f\t%.4f\t%s\t%s\t%s\n",
			r.backend, r.matchMs, r.postMs, r.rawAgree, r.finalAgree, bad, rmse, r.degraded)
	}
	tw.Flush()
}

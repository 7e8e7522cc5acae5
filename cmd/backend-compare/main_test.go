package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/imageio"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/testutil"
)

func fields(out string) map[string][]string {
	rows := make(map[string][]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n")[2:] {
		f := strings.Fields(line)
		rows[f[0]] = f
	}
	return rows
}

func TestRun_AllBackends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	left, right := testutil.ShiftedPair(40, 12, 3, 4)
	l, r := filepath.Join(dir, "im0.png"), filepath.Join(dir, "im1.png")
	require.NoError(t, imageio.Save(fsutil.OSFileSystem{}, l, left))
	require.NoError(t, imageio.Save(fsutil.OSFileSystem{}, r, right))

	// a flat truth map: every pixel at disparity 3, unnormalised
	truth := stereo.NewImage(40, 12)
	for i := range truth.Pix {
		truth.Pix[i] = 3
	}
	tp := filepath.Join(dir, "truth.png")
	require.NoError(t, imageio.Save(fsutil.OSFileSystem{}, tp, truth))

	var stdout bytes.Buffer
	err := run([]string{
		"-left", l, "-right", r, "-truth", tp,
		"-win-size", "3", "-max-disp", "8", "-normalize=false",
	}, &stdout)
	require.NoError(t, err)

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "40x12 win=3 max_disp=8 cc=4\n"), out)

	rows := fields(out)
	require.Len(t, rows, 5)
	for _, k := range stereo.AllBackends() {
		require.Contains(t, rows, k.String())
	}
	assert.Equal(t, []string{"1.0000", "1.0000"}, rows["scalar"][3:5])
	assert.Equal(t, "1.0000", rows["threadpool"][3])
	assert.Len(t, rows["gpu"], 7, "no degraded column when a device exists")
}

func TestRun_SubsetWithoutDevices(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	left, right := testutil.ShiftedPair(32, 10, 2, 4)
	l, r := filepath.Join(dir, "im0.png"), filepath.Join(dir, "im1.png")
	require.NoError(t, imageio.Save(fsutil.OSFileSystem{}, l, left))
	require.NoError(t, imageio.Save(fsutil.OSFileSystem{}, r, right))

	var stdout bytes.Buffer
	err := run([]string{
		"-left", l, "-right", r, "-backends", "scalar,accelerator",
		"-emulate-accelerators", "0", "-win-size", "3", "-max-disp", "4",
	}, &stdout)
	require.NoError(t, err)

	rows := fields(stdout.String())
	require.Len(t, rows, 2)
	assert.Greater(t, len(rows["accelerator"]), 7, "degraded reason is reported")
	assert.Contains(t, stdout.String(), "DEVICE_NOT_FOUND")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	assert.ErrorContains(t, run(nil, &stdout), "required")
	assert.Error(t, run([]string{"-left", "l.png", "-right", "r.png", "-backends", "fpga"}, &stdout))

	require.NoError(t, run([]string{"-version"}, &stdout))
	assert.Contains(t, stdout.String(), "backend-compare dev")
}

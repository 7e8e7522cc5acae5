package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/stereo"
	"github.com/banshee-data/disparity/internal/testutil"
)

func TestToGray_Rec709(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(3, 0, color.NRGBA{R: 10, G: 20, B: 200, A: 255})

	g := ToGray(img)
	assert.Equal(t, 4, g.Width)
	assert.Equal(t, 1, g.Height)
	// truncated, never rounded
	assert.Equal(t, []uint8{54, 182, 18, 30}, g.Pix)
}

func TestToGray_GraySubImage(t *testing.T) {
	t.Parallel()

	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i)
	}
	sub := src.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)

	g := ToGray(sub)
	assert.Equal(t, []uint8{5, 6, 9, 10}, g.Pix)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	im := testutil.Texture(17, 9, 42)

	require.NoError(t, Save(fsys, "out/maps/left.png", im))
	assert.True(t, fsys.Exists("out/maps/left.png"))

	got, err := Load(fsys, "out/maps/left.png")
	require.NoError(t, err)
	assert.Equal(t, im, got)

	raw, err := fsys.ReadFile("out/maps/left.png")
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, decoded, "maps are stored as 8-bit gray")
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	_, err := Load(fsys, "missing.png")
	assert.ErrorContains(t, err, "missing.png")

	require.NoError(t, fsys.WriteFile("junk.png", []byte("not an image"), 0o644))
	_, err = Load(fsys, "junk.png")
	assert.ErrorContains(t, err, "decode image")

	assert.Error(t, Save(fsys, "bad.png", stereo.Image{Width: 3, Height: 3}))
}

func TestLoadPair(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	left, right := testutil.ShiftedPair(40, 20, 2, 9)
	require.NoError(t, Save(fsys, "l.png", left))
	require.NoError(t, Save(fsys, "r.png", right))
	require.NoError(t, Save(fsys, "small.png", testutil.Texture(10, 20, 1)))

	l, r, err := LoadPair(fsys, "l.png", "r.png", 2)
	require.NoError(t, err)
	assert.Equal(t, 20, l.Width)
	assert.Equal(t, 10, l.Height)
	assert.Equal(t, l.Width, r.Width)

	_, _, err = LoadPair(fsys, "l.png", "small.png", 1)
	assert.ErrorIs(t, err, stereo.ErrSizeMismatch)
}

func blocks(w, h, factor int) stereo.Image {
	im := stereo.NewImage(w*factor, h*factor)
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			im.Pix[y*im.Width+x] = uint8((y/factor)*w + x/factor)
		}
	}
	return im
}

func TestDownsample(t *testing.T) {
	t.Parallel()

	for _, factor := range []int{1, 2, 3, 4} {
		t.Run("", func(t *testing.T) {
			t.Parallel()
			src := blocks(5, 3, factor)
			got, err := Downsample(src, factor)
			require.NoError(t, err)
			require.Equal(t, 5, got.Width)
			require.Equal(t, 3, got.Height)
			for i, v := range got.Pix {
				assert.Equal(t, uint8(i), v)
			}
		})
	}

	// partial trailing blocks are dropped
	got, err := Downsample(stereo.NewImage(9, 7), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 1, got.Height)

	_, err = Downsample(stereo.NewImage(3, 3), 0)
	assert.ErrorIs(t, err, ErrFactor)
	_, err = Downsample(stereo.NewImage(3, 3), 4)
	assert.ErrorIs(t, err, ErrFactor)
}

func TestUpsample_Replicates(t *testing.T) {
	t.Parallel()

	src := stereo.Image{Pix: []uint8{1, 2, 3, 4, 5, 6}, Width: 3, Height: 2}
	got, err := Upsample(src, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Width)
	assert.Equal(t, 6, got.Height)
	for y := 0; y < got.Height; y++ {
		for x := 0; x < got.Width; x++ {
			assert.Equal(t, src.At(x/3, y/3), got.At(x, y), "x=%d y=%d", x, y)
		}
	}

	same, err := Upsample(src, 1)
	require.NoError(t, err)
	same.Pix[0] = 99
	assert.Equal(t, uint8(1), src.Pix[0], "factor 1 copies")

	_, err = Upsample(src, -2)
	assert.ErrorIs(t, err, ErrFactor)
}

func TestOutputName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disp_zncc_THREADPOOL_4_9_32_4.png", OutputName(stereo.BackendThreadPool, 4, 9, 32, 4))
	assert.Equal(t, "disp_zncc_GPU_1_5_64_0.png", OutputName(stereo.BackendGPU, 1, 5, 64, 0))
}

// Package imageio converts between image files and the grayscale buffers
// the disparity pipeline works on, and resizes them by integer factors.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // decoder registration
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/banshee-data/disparity/internal/fsutil"
	"github.com/banshee-data/disparity/internal/stereo"
)

// Rec. 709 luma weights.
const (
	wRed   = 0.2126
	wGreen = 0.7152
	wBlue  = 0.0722
)

// ErrFactor is returned for resize factors below 1 or too large for the image.
var ErrFactor = errors.New("invalid resize factor")

// ToGray converts img to an 8-bit grayscale buffer. Colour pixels use the
// Rec. 709 weights on non-premultiplied 8-bit channels and truncate the sum.
// Gray images are copied unchanged.
func ToGray(img image.Image) stereo.Image {
	b := img.Bounds()
	out := stereo.NewImage(b.Dx(), b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < out.Height; y++ {
			src := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			copy(out.Pix[y*out.Width:(y+1)*out.Width], src[:out.Width])
		}
		return out
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			v := float64(c.R)*wRed + float64(c.G)*wGreen + float64(c.B)*wBlue
			out.Pix[y*out.Width+x] = uint8(v)
		}
	}
	return out
}

// ToImage wraps a grayscale buffer as an image.Gray without copying.
func ToImage(im stereo.Image) *image.Gray {
	return &image.Gray{Pix: im.Pix, Stride: im.Width, Rect: image.Rect(0, 0, im.Width, im.Height)}
}

// Decode reads any registered image format and converts it to grayscale.
func Decode(r io.Reader) (stereo.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return stereo.Image{}, fmt.Errorf("decode image: %w", err)
	}
	return ToGray(img), nil
}

// Encode writes im as an 8-bit grayscale PNG.
func Encode(w io.Writer, im stereo.Image) error {
	if err := im.Validate(); err != nil {
		return err
	}
	return png.Encode(w, ToImage(im))
}

// Load opens and decodes an image file.
func Load(fsys fsutil.FileSystem, path string) (stereo.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return stereo.Image{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	im, err := Decode(f)
	if err != nil {
		return stereo.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// Save writes im as a PNG, creating the parent directory if needed.
func Save(fsys fsutil.FileSystem, path string, im stereo.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, im); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// LoadPair loads a stereo pair, checks the two images agree in size and
// downsamples both by factor.
func LoadPair(fsys fsutil.FileSystem, leftPath, rightPath string, factor int) (left, right stereo.Image, err error) {
	if left, err = Load(fsys, leftPath); err != nil {
		return
	}
	if right, err = Load(fsys, rightPath); err != nil {
		return
	}
	if left.Width != right.Width || left.Height != right.Height {
		err = fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", stereo.ErrSizeMismatch,
			leftPath, left.Width, left.Height, rightPath, right.Width, right.Height)
		return
	}
	if left, err = Downsample(left, factor); err != nil {
		return
	}
	right, err = Downsample(right, factor)
	return
}

// Downsample shrinks im by an integer factor, keeping one sample per
// factor x factor block. Trailing rows and columns that do not fill a block
// are dropped.
func Downsample(im stereo.Image, factor int) (stereo.Image, error) {
	if factor < 1 || im.Width/factor == 0 || im.Height/factor == 0 {
		return stereo.Image{}, fmt.Errorf("%w: %d for %dx%d image", ErrFactor, factor, im.Width, im.Height)
	}
	if factor == 1 {
		return clone(im), nil
	}
	w, h := im.Width/factor, im.Height/factor
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), ToImage(im), image.Rect(0, 0, w*factor, h*factor), draw.Src, nil)
	return stereo.Image{Pix: dst.Pix, Width: w, Height: h}, nil
}

// Upsample enlarges im by an integer factor by pixel replication.
func Upsample(im stereo.Image, factor int) (stereo.Image, error) {
	if factor < 1 {
		return stereo.Image{}, fmt.Errorf("%w: %d", ErrFactor, factor)
	}
	if factor == 1 {
		return clone(im), nil
	}
	w, h := im.Width*factor, im.Height*factor
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), ToImage(im), image.Rect(0, 0, im.Width, im.Height), draw.Src, nil)
	return stereo.Image{Pix: dst.Pix, Width: w, Height: h}, nil
}

func clone(im stereo.Image) stereo.Image {
	return stereo.Image{Pix: append([]uint8(nil), im.Pix...), Width: im.Width, Height: im.Height}
}

// OutputName returns the conventional file name for a disparity map:
// disp_zncc_<BACKEND>_<resize>_<win>_<maxdisp>_<cc>.png
func OutputName(kind stereo.BackendKind, resize, winSize, maxDisp, ccThresh int) string {
	return fmt.Sprintf("disp_zncc_%s_%d_%d_%d_%d.png", strings.ToUpper(kind.String()), resize, winSize, maxDisp, ccThresh)
}

package preprocessing

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/tsawler/cxr-probe/tensor"
)

// ImageProcessor decodes single-channel radiographs and masks, optionally
// resizing them at load time. A zero targetSize keeps the native resolution.
type ImageProcessor struct {
	mu         sync.Mutex
	scratch    *image.Gray16
	targetSize int
}

// NewImageProcessor creates a processor; targetSize <= 0 disables resizing.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{targetSize: targetSize}
}

// GrayImage is a decoded single-channel image with intensities on the 8-bit
// scale [0, 255], row-major.
type GrayImage struct {
	Pix    []float32
	Width  int
	Height int
}

// Decode reads any registered format (PNG, JPEG, TIFF, BMP).
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return img, nil
}

// resize draws img into a 16-bit gray buffer of the target size with the
// given interpolator. Colour inputs are converted to luminance on the way.
func (p *ImageProcessor) resize(img image.Image, scaler draw.Interpolator) *image.Gray16 {
	bounds := img.Bounds()
	if p.targetSize <= 0 || (bounds.Dx() == p.targetSize && bounds.Dy() == p.targetSize) {
		dst := image.NewGray16(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return dst
	}

	if p.scratch == nil || p.scratch.Bounds().Dx() != p.targetSize {
		p.scratch = image.NewGray16(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	scaler.Scale(p.scratch, p.scratch.Bounds(), img, bounds, draw.Src, nil)

	dst := image.NewGray16(p.scratch.Bounds())
	copy(dst.Pix, p.scratch.Pix)
	return dst
}

// LoadGray decodes an X-ray as grayscale (bilinear resize when configured).
func (p *ImageProcessor) LoadGray(path string) (*GrayImage, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	gray := p.resize(img, draw.BiLinear)
	p.mu.Unlock()

	b := gray.Bounds()
	out := &GrayImage{
		Pix:    make([]float32, b.Dx()*b.Dy()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			out.Pix[y*out.Width+x] = float32(v) / 257.0
		}
	}
	return out, nil
}

// LoadMask decodes a binary mask. Any non-zero pixel is foreground.
// Nearest-neighbour resizing keeps the mask binary.
func (p *ImageProcessor) LoadMask(path string) ([]bool, int, int, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, 0, 0, err
	}

	p.mu.Lock()
	gray := p.resize(img, draw.NearestNeighbor)
	p.mu.Unlock()

	b := gray.Bounds()
	mask := make([]bool, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.Gray16Model.Convert(gray.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			mask[y*b.Dx()+x] = c.Y != 0
		}
	}
	return mask, b.Dx(), b.Dy(), nil
}

// ToCHW stacks a grayscale image three times into a [3, H, W] tensor.
func (g *GrayImage) ToCHW() (*tensor.Tensor, error) {
	plane := g.Width * g.Height
	data := make([]float32, 3*plane)
	for c := 0; c < 3; c++ {
		copy(data[c*plane:(c+1)*plane], g.Pix)
	}
	return tensor.FromFloat32([]int{3, g.Height, g.Width}, data)
}

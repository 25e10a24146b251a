// Package vision holds the image primitives shared by the capture,
// calibration and stereo packages, and the capabilities they need from an
// image-processing backend.
package vision

import (
	"fmt"
	"image"
	"image/png"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Image is an 8-bit single channel image stored row by row.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// NewImage allocates a black image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]byte, width*height)}
}

// WrapImage uses pix as the backing buffer without copying it.
func WrapImage(width, height int, pix []byte) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("buffer holds %d bytes, %dx%d needs %d", len(pix), width, height, width*height)
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

func (m *Image) At(x, y int) byte {
	return m.Pix[y*m.Width+x]
}

func (m *Image) Set(x, y int, v byte) {
	m.Pix[y*m.Width+x] = v
}

// Gray returns a standard library view sharing the same pixels.
func (m *Image) Gray() *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// FromImage converts any decoded image to 8-bit gray.
func FromImage(src image.Image) *Image {
	if g, ok := src.(*image.Gray); ok && g.Stride == g.Rect.Dx() && g.Rect.Min == (image.Point{}) {
		return &Image{Width: g.Rect.Dx(), Height: g.Rect.Dy(), Pix: g.Pix}
	}

	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R 601 luma, same weights image/color uses.
			lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 24
			out.Set(x, y, byte(lum))
		}
	}
	return out
}

// Point2D is a sub-pixel image coordinate.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CornerDetector finds the inner corners of a chessboard. It returns
// ok=false unless the full pattern was found.
type CornerDetector interface {
	FindCorners(img *Image, pattern image.Point) (corners []Point2D, ok bool)
}

// ImageWriter persists an image to a path.
type ImageWriter interface {
	WriteImage(path string, img *Image) error
}

// PNGWriter writes lossless 8-bit gray PNG files.
type PNGWriter struct{}

func (PNGWriter) WriteImage(path string, img *Image) error {
	fp, err := os.Create(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create image %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	if err := png.Encode(fp, img.Gray()); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode image %s", path)
	}
	return nil
}

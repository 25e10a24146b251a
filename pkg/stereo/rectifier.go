package stereo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/vision"
)

// ErrDimensionMismatch means the remap tables were computed for another
// resolution than the frame has. The calibration is stale for the current
// cameras.
var ErrDimensionMismatch = errors.New("frame size does not match rectification maps")

// RemapTables gives the per-side lookup tables of a calibration. For every
// destination pixel (x, y), X.At(y, x) and Y.At(y, x) are the source
// coordinates to sample.
type RemapTables interface {
	Maps(side camera.Side) (x, y mat.Matrix)
}

// Remapper samples src through lookup tables of the same size as src with
// bilinear interpolation. Pixels mapped outside the source are black.
type Remapper interface {
	Remap(src *vision.Image, mx, my mat.Matrix) *vision.Image
}

// Rectifier undistorts and rectifies frames. It has no state of its own.
type Rectifier struct {
	remapper Remapper
}

// NewRectifier returns a Rectifier backed by r, or by Bilinear when r is nil.
func NewRectifier(r Remapper) *Rectifier {
	if r == nil {
		r = Bilinear{}
	}
	return &Rectifier{remapper: r}
}

// Rectify remaps a frame with the maps for its side.
func (r *Rectifier) Rectify(f *camera.Frame, side camera.Side, tables RemapTables) (*vision.Image, error) {
	src, err := f.Image()
	if err != nil {
		return nil, err
	}
	mx, my := tables.Maps(side)
	if mx == nil || my == nil {
		return nil, fmt.Errorf("no rectification maps for %s camera", side)
	}
	rx, cx := mx.Dims()
	ry, cy := my.Dims()
	if rx != src.Height || cx != src.Width || ry != src.Height || cy != src.Width {
		return nil, fmt.Errorf("%w: frame is %dx%d, maps are %dx%d and %dx%d",
			ErrDimensionMismatch, src.Width, src.Height, cx, rx, cy, ry)
	}
	return r.remapper.Remap(src, mx, my), nil
}

// Bilinear is a pure Go Remapper for hosts without OpenCV.
type Bilinear struct{}

func (Bilinear) Remap(src *vision.Image, mx, my mat.Matrix) *vision.Image {
	dst := vision.NewImage(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			dst.Set(x, y, bilinear(src, mx.At(y, x), my.At(y, x)))
		}
	}
	return dst
}

func bilinear(src *vision.Image, sx, sy float64) byte {
	if math.IsNaN(sx) || math.IsNaN(sy) {
		return 0
	}
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	if x0 < 0 || y0 < 0 || x0 >= src.Width || y0 >= src.Height {
		return 0
	}
	x1, y1 := x0+1, y0+1
	if x1 >= src.Width {
		x1 = x0
	}
	if y1 >= src.Height {
		y1 = y0
	}
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	top := float64(src.At(x0, y0))*(1-fx) + float64(src.At(x1, y0))*fx
	bottom := float64(src.At(x0, y1))*(1-fx) + float64(src.At(x1, y1))*fx
	v := top*(1-fy) + bottom*fy
	return byte(math.Round(math.Max(0, math.Min(255, v))))
}

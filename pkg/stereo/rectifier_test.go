package stereo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/vision"
)

type fakeTables struct {
	x, y map[camera.Side]*mat.Dense
}

func (f fakeTables) Maps(side camera.Side) (mat.Matrix, mat.Matrix) {
	x, y := f.x[side], f.y[side]
	if x == nil || y == nil {
		return nil, nil
	}
	return x, y
}

// shiftMaps samples each destination pixel from (x+dx, y+dy).
func shiftMaps(w, h int, dx, dy float64) (*mat.Dense, *mat.Dense) {
	mx := mat.NewDense(h, w, nil)
	my := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mx.Set(y, x, float64(x)+dx)
			my.Set(y, x, float64(y)+dy)
		}
	}
	return mx, my
}

// countingRemapper records calls and delegates to Bilinear.
type countingRemapper struct{ calls int }

func (c *countingRemapper) Remap(src *vision.Image, mx, my mat.Matrix) *vision.Image {
	c.calls++
	return Bilinear{}.Remap(src, mx, my)
}

func rectify(f *camera.Frame, side camera.Side, tables RemapTables) (*vision.Image, error) {
	return NewRectifier(nil).Rectify(f, side, tables)
}

func gradientFrame(side camera.Side, w, h int) *camera.Frame {
	img := vision.NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, byte(10*x+y))
		}
	}
	return camera.NewFrame(side, img)
}

func TestRectifyIdentity(t *testing.T) {
	mx, my := shiftMaps(4, 3, 0, 0)
	tables := fakeTables{
		x: map[camera.Side]*mat.Dense{camera.Left: mx},
		y: map[camera.Side]*mat.Dense{camera.Left: my},
	}
	f := gradientFrame(camera.Left, 4, 3)

	got, err := rectify(f, camera.Left, tables)
	require.NoError(t, err)
	assert.Equal(t, f.Pixels, got.Pix)
}

func TestRectifyShiftAndBorder(t *testing.T) {
	mx, my := shiftMaps(4, 3, 1, 0)
	tables := fakeTables{
		x: map[camera.Side]*mat.Dense{camera.Right: mx},
		y: map[camera.Side]*mat.Dense{camera.Right: my},
	}
	f := gradientFrame(camera.Right, 4, 3)

	got, err := rectify(f, camera.Right, tables)
	require.NoError(t, err)
	assert.Equal(t, byte(10*1+2), got.At(0, 2))
	assert.Equal(t, byte(10*3+0), got.At(2, 0))
	// Last column maps outside the source.
	assert.Equal(t, byte(0), got.At(3, 1))
}

func TestRectifyInterpolates(t *testing.T) {
	mx, my := shiftMaps(4, 3, 0.5, 0)
	tables := fakeTables{
		x: map[camera.Side]*mat.Dense{camera.Left: mx},
		y: map[camera.Side]*mat.Dense{camera.Left: my},
	}
	f := gradientFrame(camera.Left, 4, 3)

	got, err := rectify(f, camera.Left, tables)
	require.NoError(t, err)
	// Halfway between 10 and 20.
	assert.Equal(t, byte(15), got.At(1, 0))
}

func TestRectifyDimensionMismatch(t *testing.T) {
	mx, my := shiftMaps(8, 6, 0, 0)
	tables := fakeTables{
		x: map[camera.Side]*mat.Dense{camera.Left: mx},
		y: map[camera.Side]*mat.Dense{camera.Left: my},
	}

	remapper := &countingRemapper{}
	_, err := NewRectifier(remapper).Rectify(gradientFrame(camera.Left, 4, 3), camera.Left, tables)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	// Backends only ever see tables matching the frame.
	assert.Zero(t, remapper.calls)
}

func TestRectifyUsesRemapper(t *testing.T) {
	mx, my := shiftMaps(4, 3, 0, 0)
	tables := fakeTables{
		x: map[camera.Side]*mat.Dense{camera.Left: mx},
		y: map[camera.Side]*mat.Dense{camera.Left: my},
	}
	f := gradientFrame(camera.Left, 4, 3)

	remapper := &countingRemapper{}
	got, err := NewRectifier(remapper).Rectify(f, camera.Left, tables)
	require.NoError(t, err)
	assert.Equal(t, 1, remapper.calls)
	assert.Equal(t, f.Pixels, got.Pix)
}

func TestRectifyMissingMapsOrFailedFrame(t *testing.T) {
	_, err := rectify(gradientFrame(camera.Left, 4, 3), camera.Left, fakeTables{})
	assert.Error(t, err)

	_, err = rectify(camera.FailedFrame(camera.Left, 1, "x"), camera.Left, fakeTables{})
	assert.Error(t, err)
}

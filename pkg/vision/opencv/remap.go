package opencv

import (
	"image/color"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// maxCachedMaps bounds the converted tables kept: one pair per side of the
// current calibration plus the previous one during a switch.
const maxCachedMaps = 4

type mapKey struct {
	x, y mat.Matrix
}

type mapPair struct {
	x, y gocv.Mat
}

// Remapper rectifies with cv::remap. Lookup tables are converted to 32-bit
// float mats once and cached by identity, so callers must not mutate a table
// after passing it in.
type Remapper struct {
	mu    sync.Mutex
	cache map[mapKey]mapPair
}

func NewRemapper() *Remapper {
	return &Remapper{cache: make(map[mapKey]mapPair)}
}

// Remap implements stereo.Remapper.
func (r *Remapper) Remap(src *vision.Image, mx, my mat.Matrix) *vision.Image {
	maps := r.maps(mx, my)

	in, err := gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC1, src.Pix)
	if err != nil {
		logrus.WithError(err).Error("failed to wrap image for rectification")
		return vision.NewImage(src.Width, src.Height)
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()

	gocv.Remap(in, &out, &maps.x, &maps.y, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	dst, err := vision.WrapImage(src.Width, src.Height, out.ToBytes())
	if err != nil {
		logrus.WithError(err).Error("unexpected rectified image")
		return vision.NewImage(src.Width, src.Height)
	}
	return dst
}

func (r *Remapper) maps(mx, my mat.Matrix) mapPair {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mapKey{mx, my}
	if p, ok := r.cache[key]; ok {
		return p
	}
	if len(r.cache) >= maxCachedMaps {
		r.reset()
	}
	p := mapPair{x: toFloatMat(mx), y: toFloatMat(my)}
	r.cache[key] = p
	return p
}

func (r *Remapper) reset() {
	for k, p := range r.cache {
		_ = p.x.Close()
		_ = p.y.Close()
		delete(r.cache, k)
	}
}

// Close releases the cached tables.
func (r *Remapper) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

func toFloatMat(m mat.Matrix) gocv.Mat {
	rows, cols := m.Dims()
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32FC1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out.SetFloatAt(y, x, float32(m.At(y, x)))
		}
	}
	return out
}

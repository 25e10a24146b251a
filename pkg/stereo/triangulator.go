package stereo

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// Corner is a chessboard corner reprojected into 3D camera coordinates, in
// the unit of the board square size.
type Corner struct {
	Index int       `json:"index"`
	Point r3.Vector `json:"point"`
}

// Triangulation is the outcome for one frame pair.
type Triangulation struct {
	Corners []Corner `json:"corners"`
	// Skipped counts corners with zero disparity or a non-finite result.
	Skipped int `json:"skipped"`
}

// Triangulate reprojects matched corners through the disparity-to-depth
// matrix q (4x4). Nothing is returned when the two sides did not detect the
// same number of corners, which happens whenever the board is partly out of
// view.
func Triangulate(left, right []vision.Point2D, q mat.Matrix) Triangulation {
	if len(left) == 0 || len(left) != len(right) {
		return Triangulation{}
	}
	if r, c := q.Dims(); r != 4 || c != 4 {
		logrus.WithFields(logrus.Fields{"rows": r, "cols": c}).Error("Q must be a 4x4 matrix")
		return Triangulation{}
	}

	out := Triangulation{Corners: make([]Corner, 0, len(left))}
	for i := range left {
		d := right[i].X - left[i].X
		x := left[i].X*q.At(0, 0) + q.At(0, 3)
		y := left[i].Y*q.At(1, 1) + q.At(1, 3)
		z := q.At(2, 3)
		w := d*q.At(3, 2) + q.At(3, 3)

		if w == 0 {
			out.Skipped++
			logrus.WithField("corner", i).Trace("zero disparity, skipping corner")
			continue
		}
		p := r3.Vector{X: x / w, Y: y / w, Z: z / w}
		if !finite(p) {
			out.Skipped++
			logrus.WithField("corner", i).Trace("non-finite reprojection, skipping corner")
			continue
		}
		out.Corners = append(out.Corners, Corner{Index: i, Point: p})
	}
	return out
}

func finite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Package opencv implements the vision capabilities with gocv.
package opencv

import (
	"image"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// ChessboardDetector finds chessboard corners with OpenCV and refines them
// to sub-pixel accuracy.
type ChessboardDetector struct {
	// Flags are passed to FindChessboardCorners.
	Flags gocv.CalibCBFlag
	// SubPixWindow is the half size of the refinement search window. Zero
	// skips refinement.
	SubPixWindow int
}

func NewChessboardDetector() *ChessboardDetector {
	return &ChessboardDetector{
		Flags:        gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage | gocv.CalibCBFastCheck,
		SubPixWindow: 11,
	}
}

// FindCorners implements vision.CornerDetector.
func (d *ChessboardDetector) FindCorners(img *vision.Image, pattern image.Point) ([]vision.Point2D, bool) {
	src, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC1, img.Pix)
	if err != nil {
		logrus.WithError(err).Error("failed to wrap image for corner detection")
		return nil, false
	}
	defer src.Close()

	corners := gocv.NewMat()
	defer corners.Close()

	if !gocv.FindChessboardCorners(src, pattern, &corners, d.Flags) {
		return nil, false
	}

	if d.SubPixWindow > 0 {
		criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.1)
		win := image.Pt(d.SubPixWindow, d.SubPixWindow)
		gocv.CornerSubPix(src, &corners, win, image.Pt(-1, -1), criteria)
	}

	data, err := corners.DataPtrFloat32()
	if err != nil {
		logrus.WithError(err).Error("failed to read chessboard corners")
		return nil, false
	}
	if len(data) != 2*pattern.X*pattern.Y {
		logrus.WithFields(logrus.Fields{
			"want": pattern.X * pattern.Y,
			"got":  len(data) / 2,
		}).Warn("partial chessboard detection")
		return nil, false
	}

	out := make([]vision.Point2D, len(data)/2)
	for i := range out {
		out[i] = vision.Point2D{X: float64(data[2*i]), Y: float64(data[2*i+1])}
	}
	return out, true
}

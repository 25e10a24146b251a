// Package geometry describes the printed chessboard target and the capture
// parameters of a calibration run.
package geometry

import (
	"bufio"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	MinCorners    = 2
	MinSquareSize = 2.0

	MinPhotos = 5
	MaxPhotos = 50
	MinDelay  = 3 * time.Second
	MaxDelay  = 60 * time.Second
)

// Geometry is the inner-corner grid of the chessboard and the size of one
// square. It is immutable once validated.
type Geometry struct {
	CornersWidth  uint    `json:"cornersWidth"`
	CornersHeight uint    `json:"cornersHeight"`
	SquareSize    float64 `json:"squareSize"`
}

// Validate checks the board can be used for stereo calibration. A square
// board is rejected because its orientation is ambiguous.
func (g Geometry) Validate() error {
	if g.CornersWidth < MinCorners {
		return fmt.Errorf("board width must be at least %d, got %d", MinCorners, g.CornersWidth)
	}
	if g.CornersHeight < MinCorners {
		return fmt.Errorf("board height must be at least %d, got %d", MinCorners, g.CornersHeight)
	}
	if g.CornersWidth == g.CornersHeight {
		return fmt.Errorf("board width and height must differ, both are %d", g.CornersWidth)
	}
	if math.IsNaN(g.SquareSize) || math.IsInf(g.SquareSize, 0) || g.SquareSize < MinSquareSize {
		return fmt.Errorf("square size must be at least %.1f, got %g", MinSquareSize, g.SquareSize)
	}
	return nil
}

// PatternSize returns the corner grid as columns x rows.
func (g Geometry) PatternSize() image.Point {
	return image.Pt(int(g.CornersWidth), int(g.CornersHeight))
}

// CornerCount is the number of inner corners a full detection yields.
func (g Geometry) CornerCount() int {
	return int(g.CornersWidth * g.CornersHeight)
}

func (g Geometry) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"cornersWidth":  g.CornersWidth,
		"cornersHeight": g.CornersHeight,
		"squareSize":    g.SquareSize,
	}
}

// Save writes the pattern file: width, height and square size on successive
// lines.
func (g Geometry) Save(path string) error {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open pattern file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	_, err = fmt.Fprintf(fp, "%d\n%d\n%s\n",
		g.CornersWidth, g.CornersHeight, strconv.FormatFloat(g.SquareSize, 'g', -1, 64))
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write pattern file %s", path)
	}

	return nil
}

// Load reads a pattern file written by Save. Any whitespace separates the
// three tokens.
func Load(path string) (Geometry, error) {
	fp, err := os.Open(path)
	if err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "failed to open pattern file %s", path)
	}
	defer fp.Close()

	sc := bufio.NewScanner(fp)
	sc.Split(bufio.ScanWords)

	var tokens []string
	for sc.Scan() {
		tokens = append(tokens, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "failed to read pattern file %s", path)
	}
	if len(tokens) != 3 {
		return Geometry{}, fmt.Errorf("pattern file %s: expected 3 tokens, got %d", path, len(tokens))
	}

	w, err := strconv.ParseUint(tokens[0], 10, 32)
	if err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "pattern file %s: invalid width", path)
	}
	h, err := strconv.ParseUint(tokens[1], 10, 32)
	if err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "pattern file %s: invalid height", path)
	}
	s, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "pattern file %s: invalid square size", path)
	}

	g := Geometry{CornersWidth: uint(w), CornersHeight: uint(h), SquareSize: s}
	if err := g.Validate(); err != nil {
		return Geometry{}, pkgerrors.Wrapf(err, "pattern file %s", path)
	}
	return g, nil
}

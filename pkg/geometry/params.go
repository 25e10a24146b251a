package geometry

import (
	"fmt"
	"time"
)

// CaptureParams controls how many stereo photos a session takes and how long
// the operator gets to move the board between them.
type CaptureParams struct {
	Photos int
	Delay  time.Duration
}

func (p CaptureParams) Validate() error {
	if p.Photos < MinPhotos || p.Photos > MaxPhotos {
		return fmt.Errorf("number of photos must be between %d and %d, got %d", MinPhotos, MaxPhotos, p.Photos)
	}
	if p.Delay < MinDelay || p.Delay > MaxDelay {
		return fmt.Errorf("delay must be between %.1fs and %.1fs, got %.1fs",
			MinDelay.Seconds(), MaxDelay.Seconds(), p.Delay.Seconds())
	}
	return nil
}

// Defaults returns the board and capture parameters used when the operator
// asks for defaults: 20 photos of a 9x6 board with 2.3cm squares, 3.5s apart.
func Defaults() (Geometry, CaptureParams) {
	return Geometry{CornersWidth: 9, CornersHeight: 6, SquareSize: 2.3},
		CaptureParams{Photos: 20, Delay: 3500 * time.Millisecond}
}

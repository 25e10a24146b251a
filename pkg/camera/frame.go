package camera

import (
	"fmt"
	"time"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// Side identifies a camera of the stereo rig by its context index.
type Side int

const (
	Left  Side = 0
	Right Side = 1
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("camera%d", int(s))
}

// Frame is one grab result. The consumer owns Pixels once it is handed over.
type Frame struct {
	CameraIndex Side
	Width       int
	Height      int
	Pixels      []byte
	Succeeded   bool
	// ErrorCode and ErrorDescription are set when Succeeded is false.
	ErrorCode        int
	ErrorDescription string
	Timestamp        time.Time
}

// Image returns the frame pixels as a gray image without copying.
func (f *Frame) Image() (*vision.Image, error) {
	if !f.Succeeded {
		return nil, fmt.Errorf("grab failed on %s camera: %d %s", f.CameraIndex, f.ErrorCode, f.ErrorDescription)
	}
	return vision.WrapImage(f.Width, f.Height, f.Pixels)
}

// NewFrame builds a successful grab result.
func NewFrame(side Side, img *vision.Image) *Frame {
	return &Frame{
		CameraIndex: side,
		Width:       img.Width,
		Height:      img.Height,
		Pixels:      img.Pix,
		Succeeded:   true,
		Timestamp:   time.Now(),
	}
}

// FailedFrame builds a grab error result.
func FailedFrame(side Side, code int, desc string) *Frame {
	return &Frame{
		CameraIndex:      side,
		ErrorCode:        code,
		ErrorDescription: desc,
		Timestamp:        time.Now(),
	}
}

// Pair is a left and a right frame from the same synchronization cycle.
type Pair struct {
	Left       *Frame
	Right      *Frame
	SequenceID uint64
}

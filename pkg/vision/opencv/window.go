package opencv

import (
	"image"
	"image/color"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// Keys that end the live loop.
const (
	KeyEscape = 27
	KeyQuit   = 'q'
	KeyQuitUp = 'Q'
)

// Display shows one window per camera. It must be used from the goroutine
// that owns the GUI event loop, which here is the grab loop.
type Display struct {
	mu      sync.Mutex
	windows map[string]*gocv.Window
}

func NewDisplay() *Display {
	return &Display{windows: make(map[string]*gocv.Window)}
}

func (d *Display) window(name string) *gocv.Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[name]
	if !ok {
		w = gocv.NewWindow(name)
		d.windows[name] = w
	}
	return w
}

// Show draws img in the window called name, with the chessboard corners if
// any were found, and pumps GUI events for one millisecond.
func (d *Display) Show(name string, img *vision.Image, pattern image.Point, corners []vision.Point2D, found bool) {
	gray, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC1, img.Pix)
	if err != nil {
		logrus.WithError(err).WithField("window", name).Error("failed to wrap image for display")
		return
	}
	defer gray.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)

	for i, c := range corners {
		col := color.RGBA{R: 255, A: 255}
		if found {
			col = color.RGBA{G: 255, A: 255}
		}
		gocv.Circle(&bgr, image.Pt(int(c.X+0.5), int(c.Y+0.5)), 3, col, 1)
		if i == 0 {
			gocv.PutText(&bgr, "0", image.Pt(int(c.X)+4, int(c.Y)-4), gocv.FontHersheyPlain, 1, col, 1)
		}
	}

	w := d.window(name)
	w.IMShow(bgr)
	w.WaitKey(1)
}

// PollKey pumps GUI events and returns the key pressed, or -1.
func (d *Display) PollKey() int {
	d.mu.Lock()
	var w *gocv.Window
	for _, w = range d.windows {
		break
	}
	d.mu.Unlock()
	if w == nil {
		return -1
	}
	return w.WaitKey(1)
}

// Close destroys every window.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, w := range d.windows {
		if err := w.Close(); err != nil {
			logrus.WithError(err).WithField("window", name).Warn("failed to close window")
		}
		delete(d.windows, name)
	}
	return nil
}

// IsQuitKey reports whether key ends the live loop.
func IsQuitKey(key int) bool {
	return key == KeyEscape || key == KeyQuit || key == KeyQuitUp
}

package camera

import (
	"bufio"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/charlie0129/stereovision/pkg/vision"
)

// RecordedOptions tunes a RecordedSource.
type RecordedOptions struct {
	// Loop restarts from the first image instead of returning
	// ErrSourceExhausted.
	Loop bool
	// Interval is slept before each frame to mimic the camera frame rate.
	Interval time.Duration
}

// RecordedSource replays an image list (one path per line, left and right
// alternating) as if two cameras produced it. Line i comes from camera i%2.
type RecordedSource struct {
	listPath string
	opts     RecordedOptions

	paths    []string
	devices  []Device
	handler  ConfigurationHandler
	next     int
	grabbing bool
}

var _ Source = &RecordedSource{}

func NewRecordedSource(listPath string, opts RecordedOptions) *RecordedSource {
	return &RecordedSource{listPath: listPath, opts: opts}
}

// ReadImageList returns the non-empty lines of an image list. Relative
// paths are resolved against the list's directory.
func ReadImageList(listPath string) ([]string, error) {
	fp, err := os.Open(listPath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open image list %s", listPath)
	}
	defer fp.Close()

	base := filepath.Dir(listPath)
	var paths []string
	sc := bufio.NewScanner(fp)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read image list %s", listPath)
	}
	return paths, nil
}

func (s *RecordedSource) Open(h ConfigurationHandler) error {
	paths, err := ReadImageList(s.listPath)
	if err != nil {
		return err
	}
	if len(paths) < 2 {
		return pkgerrors.Wrapf(ErrNoDevices, "image list %s needs at least one left and one right image", s.listPath)
	}
	// Sides follow line parity, which an unpaired last image breaks on wrap.
	if len(paths)%2 != 0 {
		logrus.WithFields(logrus.Fields{
			"list":    s.listPath,
			"dropped": paths[len(paths)-1],
		}).Warn("image list has an unpaired last image, ignoring it")
		paths = paths[:len(paths)-1]
	}
	s.paths = paths
	s.handler = h

	for _, side := range []Side{Left, Right} {
		d := Device{
			Index: side,
			Name:  "emulated-" + side.String(),
			Model: "Emulated Camera",
		}
		if img, err := decodeImage(paths[int(side)]); err == nil {
			d.Width, d.Height = img.Width, img.Height
		}
		s.devices = append(s.devices, d)
		if h != nil {
			h.OnDeviceOpened(d)
		}
	}

	logrus.WithFields(logrus.Fields{
		"list":   s.listPath,
		"images": len(paths),
		"loop":   s.opts.Loop,
	}).Info("replaying recorded images")
	return nil
}

func (s *RecordedSource) StartGrabbing() error {
	if s.paths == nil {
		return pkgerrors.New("recorded source is not open")
	}
	s.grabbing = true
	if s.handler != nil {
		for _, d := range s.devices {
			s.handler.OnGrabStarted(d)
		}
	}
	return nil
}

func (s *RecordedSource) StopGrabbing() error {
	s.grabbing = false
	return nil
}

func (s *RecordedSource) IsGrabbing() bool {
	return s.grabbing
}

func (s *RecordedSource) Retrieve(_ time.Duration) (*Frame, error) {
	if !s.grabbing {
		return nil, ErrNotGrabbing
	}
	if s.next >= len(s.paths) {
		if !s.opts.Loop {
			return nil, ErrSourceExhausted
		}
		s.next = 0
	}

	i := s.next
	s.next++
	side := Side(i % 2)

	if s.opts.Interval > 0 {
		time.Sleep(s.opts.Interval)
	}

	img, err := decodeImage(s.paths[i])
	if err != nil {
		return FailedFrame(side, -1, err.Error()), nil
	}
	return NewFrame(side, img), nil
}

func (s *RecordedSource) Devices() []Device {
	return s.devices
}

func (s *RecordedSource) Close() error {
	s.grabbing = false
	s.paths = nil
	s.devices = nil
	return nil
}

func decodeImage(path string) (*vision.Image, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open image %s", path)
	}
	defer fp.Close()

	img, _, err := image.Decode(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to decode image %s", path)
	}
	return vision.FromImage(img), nil
}

package camera

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// HardwareOptions selects and configures the two capture devices.
type HardwareOptions struct {
	// DeviceIDs are the capture device indexes for the left and right
	// camera, in that order.
	DeviceIDs []int
	Width     int
	Height    int
	FPS       float64
}

// HardwareSource grabs from two capture devices. Each device has a reader
// goroutine that hands gray frames to Retrieve through a bounded channel, so
// the poll loop stays the only consumer.
type HardwareSource struct {
	opts HardwareOptions

	mu       sync.Mutex
	captures []*gocv.VideoCapture
	devices  []Device
	handler  ConfigurationHandler
	frames   chan *Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup
	grabbing bool
}

var _ Source = &HardwareSource{}

func NewHardwareSource(opts HardwareOptions) *HardwareSource {
	if len(opts.DeviceIDs) == 0 {
		opts.DeviceIDs = []int{0, 1}
	}
	return &HardwareSource{opts: opts}
}

func (s *HardwareSource) Open(h ConfigurationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.opts.DeviceIDs {
		if i >= 2 {
			logrus.WithField("device", id).Warn("only two cameras are used, ignoring extra device")
			break
		}
		vc, err := gocv.OpenVideoCapture(id)
		if err != nil {
			logrus.WithError(err).WithField("device", id).Error("failed to open capture device")
			continue
		}
		if s.opts.Width > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		}
		if s.opts.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
		}
		if s.opts.FPS > 0 {
			vc.Set(gocv.VideoCaptureFPS, s.opts.FPS)
		}

		d := Device{
			Index:  Side(len(s.captures)),
			Name:   fmt.Sprintf("video%d", id),
			Model:  fmt.Sprintf("capture device %d", id),
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		}
		s.captures = append(s.captures, vc)
		s.devices = append(s.devices, d)
	}

	if len(s.captures) < 2 {
		s.closeCaptures()
		return pkgerrors.Wrapf(ErrNoDevices, "opened %d of the 2 cameras a stereo rig needs", len(s.captures))
	}

	s.handler = h
	if h != nil {
		for _, d := range s.devices {
			h.OnDeviceOpened(d)
		}
	}
	return nil
}

func (s *HardwareSource) StartGrabbing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.captures) == 0 {
		return pkgerrors.New("hardware source is not open")
	}
	if s.grabbing {
		return nil
	}

	s.frames = make(chan *Frame, 2*len(s.captures))
	s.stopCh = make(chan struct{})
	for i, vc := range s.captures {
		s.wg.Add(1)
		go s.readLoop(Side(i), vc)
	}
	s.grabbing = true

	if s.handler != nil {
		for _, d := range s.devices {
			s.handler.OnGrabStarted(d)
		}
	}
	return nil
}

func (s *HardwareSource) readLoop(side Side, vc *gocv.VideoCapture) {
	defer s.wg.Done()

	img := gocv.NewMat()
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		var f *Frame
		if ok := vc.Read(&img); !ok || img.Empty() {
			f = FailedFrame(side, 1, "device returned no image")
		} else {
			src := img
			if img.Channels() != 1 {
				gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
				src = gray
			}
			f = &Frame{
				CameraIndex: side,
				Width:       src.Cols(),
				Height:      src.Rows(),
				Pixels:      src.ToBytes(),
				Succeeded:   true,
				Timestamp:   time.Now(),
			}
		}

		select {
		case s.frames <- f:
		case <-s.stopCh:
			return
		}
	}
}

func (s *HardwareSource) StopGrabbing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.grabbing {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	// Drop frames grabbed after the consumer stopped.
	for len(s.frames) > 0 {
		<-s.frames
	}
	s.grabbing = false
	return nil
}

func (s *HardwareSource) IsGrabbing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabbing
}

func (s *HardwareSource) Retrieve(timeout time.Duration) (*Frame, error) {
	s.mu.Lock()
	frames, grabbing := s.frames, s.grabbing
	s.mu.Unlock()
	if !grabbing {
		return nil, ErrNotGrabbing
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-frames:
		return f, nil
	case <-timer.C:
		return nil, ErrGrabTimeout
	}
}

func (s *HardwareSource) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

func (s *HardwareSource) Close() error {
	if err := s.StopGrabbing(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCaptures()
}

func (s *HardwareSource) closeCaptures() error {
	var firstErr error
	for _, vc := range s.captures {
		if err := vc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.captures = nil
	s.devices = nil
	return firstErr
}

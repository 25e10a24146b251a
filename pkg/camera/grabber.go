package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned by Grabber.Run when the operator cancelled.
var ErrCancelled = errors.New("grabbing cancelled by operator")

const DefaultRetrieveTimeout = 5 * time.Second

// Grabber polls a Source and hands every grab result to an ImageHandler on
// the calling goroutine. It is the single consumer of the source; nothing it
// touches needs locking.
type Grabber struct {
	// RetrieveTimeout bounds each Retrieve call.
	RetrieveTimeout time.Duration
	// MaxConsecutiveTimeouts aborts the loop after that many timeouts in a
	// row. Zero retries forever.
	MaxConsecutiveTimeouts int

	stats GrabStats
}

// GrabStats counts what the poll loop has seen.
type GrabStats struct {
	Frames   uint64 `json:"frames"`
	Failed   uint64 `json:"failed"`
	Timeouts uint64 `json:"timeouts"`
}

func (g *Grabber) Stats() GrabStats {
	return g.stats
}

func (g *Grabber) retrieveTimeout() time.Duration {
	if g.RetrieveTimeout <= 0 {
		return DefaultRetrieveTimeout
	}
	return g.RetrieveTimeout
}

// Run starts grabbing and polls until h reports done, cancelled returns true,
// ctx is done, or the source fails. cancelled is checked once per iteration
// and may be nil. Grabbing is always stopped before Run returns.
func (g *Grabber) Run(ctx context.Context, src Source, h ImageHandler, cancelled func() bool) (err error) {
	if err := src.StartGrabbing(); err != nil {
		return fmt.Errorf("failed to start grabbing: %w", err)
	}
	defer func() {
		if stopErr := src.StopGrabbing(); stopErr != nil {
			logrus.WithError(stopErr).Error("failed to stop grabbing")
			if err == nil {
				err = fmt.Errorf("failed to stop grabbing: %w", stopErr)
			}
		}
	}()

	timeouts := 0
	for src.IsGrabbing() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cancelled != nil && cancelled() {
			logrus.Info("grabbing cancelled")
			return ErrCancelled
		}

		f, err := src.Retrieve(g.retrieveTimeout())
		if errors.Is(err, ErrGrabTimeout) {
			timeouts++
			g.stats.Timeouts++
			logrus.WithFields(logrus.Fields{
				"timeout":             g.retrieveTimeout(),
				"consecutiveTimeouts": timeouts,
			}).Warn("grab timed out, polling again")
			if g.MaxConsecutiveTimeouts > 0 && timeouts >= g.MaxConsecutiveTimeouts {
				return fmt.Errorf("%w: %d in a row", err, timeouts)
			}
			continue
		}
		if err != nil {
			return err
		}
		timeouts = 0

		g.stats.Frames++
		if !f.Succeeded {
			g.stats.Failed++
		}

		if h.OnFrameGrabbed(f) {
			return nil
		}
	}

	return nil
}

package calibration

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/geometry"
)

// Solver runs the external stereo calibration program. It is invoked as
//
//	<Path> <manifest> <cornersWidth> <cornersHeight> <squareSize> <matrixDir>
//
// and is expected to write the five matrices into matrixDir and exit 0.
type Solver struct {
	Path  string
	Store *Store
}

func NewSolver(path string, store *Store) *Solver {
	return &Solver{Path: path, Store: store}
}

// Args returns the positional arguments for a run.
func (s *Solver) Args(manifestPath string, g geometry.Geometry) []string {
	return []string{
		manifestPath,
		strconv.FormatUint(uint64(g.CornersWidth), 10),
		strconv.FormatUint(uint64(g.CornersHeight), 10),
		strconv.FormatFloat(g.SquareSize, 'g', -1, 64),
		s.Store.MatrixDir(),
	}
}

// Invoke blocks until the solver exits and then loads its output. It never
// retries. Errors are *SpawnError, *ExitError or wrap ErrCalibrationLoad.
// Only matrices written by this run count; on any error the previous ones
// are left as they were.
func (s *Solver) Invoke(ctx context.Context, manifestPath string, g geometry.Geometry) (res *Result, err error) {
	backup, err := s.Store.BackupMatrices()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			backup.Restore()
		} else {
			backup.Discard()
		}
	}()

	args := s.Args(manifestPath, g)
	log := logrus.WithFields(logrus.Fields{
		"solver":   s.Path,
		"manifest": manifestPath,
	}).WithFields(g.LogrusFields())

	stdout := log.WriterLevel(logrus.DebugLevel)
	defer stdout.Close()
	stderr := log.WriterLevel(logrus.WarnLevel)
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info("running calibration solver")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: s.Path, Err: err}
	}

	err = cmd.Wait()
	log = log.WithField("elapsed", time.Since(start).Truncate(time.Millisecond))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("calibration solver interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.WithField("code", exitErr.ExitCode()).Error("calibration solver failed")
			return nil, &ExitError{Code: exitErr.ExitCode()}
		}
		return nil, fmt.Errorf("failed to wait for calibration solver: %w", err)
	}
	log.Info("calibration solver finished")

	res, err = s.Store.LoadMatrices()
	if err != nil {
		return nil, err
	}
	return res, nil
}

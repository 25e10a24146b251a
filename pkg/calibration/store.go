package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/geometry"
)

// Files under the data directory.
const (
	TimestampFile = "timestamp.txt"
	PatternFile   = "pattern.txt"
	ManifestFile  = "images.txt"
	ImagesDir     = "images"
	MatrixDir     = "xml"
)

// NotCalibrated is written to the timestamp file to mark the rig as never
// calibrated.
const NotCalibrated = "NOT_CALIBRATED"

// TimestampLayout is the human-readable format of the timestamp file.
const TimestampLayout = time.ANSIC

// Matrix names, as written by the solver.
const (
	MatrixQ         = "Q"
	MatrixLeftMapX  = "mx1"
	MatrixLeftMapY  = "my1"
	MatrixRightMapX = "mx2"
	MatrixRightMapY = "my2"
)

var MatrixNames = []string{MatrixQ, MatrixLeftMapX, MatrixLeftMapY, MatrixRightMapX, MatrixRightMapY}

// Result is a loaded calibration. It is immutable once loaded.
type Result struct {
	Timestamp string
	Q         *mat.Dense
	LeftMapX  *mat.Dense
	LeftMapY  *mat.Dense
	RightMapX *mat.Dense
	RightMapY *mat.Dense
}

// Maps returns the remap tables of a side.
func (r *Result) Maps(side camera.Side) (mat.Matrix, mat.Matrix) {
	var x, y *mat.Dense
	switch side {
	case camera.Left:
		x, y = r.LeftMapX, r.LeftMapY
	case camera.Right:
		x, y = r.RightMapX, r.RightMapY
	}
	if x == nil || y == nil {
		return nil, nil
	}
	return x, y
}

// Size returns the frame size the maps were computed for.
func (r *Result) Size() (width, height int) {
	if r.LeftMapX == nil {
		return 0, 0
	}
	height, width = r.LeftMapX.Dims()
	return width, height
}

func (r *Result) validate() error {
	if rows, cols := r.Q.Dims(); rows != 4 || cols != 4 {
		return fmt.Errorf("Q is %dx%d, want 4x4", rows, cols)
	}
	h, w := r.LeftMapX.Dims()
	for name, m := range map[string]*mat.Dense{
		MatrixLeftMapY:  r.LeftMapY,
		MatrixRightMapX: r.RightMapX,
		MatrixRightMapY: r.RightMapY,
	} {
		if mh, mw := m.Dims(); mh != h || mw != w {
			return fmt.Errorf("%s is %dx%d, %s is %dx%d", name, mw, mh, MatrixLeftMapX, w, h)
		}
	}
	return nil
}

// Store owns the calibration files under a data directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string           { return s.dir }
func (s *Store) TimestampPath() string { return filepath.Join(s.dir, TimestampFile) }
func (s *Store) PatternPath() string   { return filepath.Join(s.dir, PatternFile) }
func (s *Store) ManifestPath() string  { return filepath.Join(s.dir, ManifestFile) }
func (s *Store) ImagesDir() string     { return filepath.Join(s.dir, ImagesDir) }
func (s *Store) MatrixDir() string     { return filepath.Join(s.dir, MatrixDir) }

func (s *Store) MatrixPath(name string) string {
	return filepath.Join(s.MatrixDir(), name+".xml")
}

// Init creates the directory layout.
func (s *Store) Init() error {
	for _, d := range []string{s.dir, s.ImagesDir(), s.MatrixDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return pkgerrors.Wrapf(err, "failed to create directory %s", d)
		}
	}
	return nil
}

// LoadTimestamp returns the last calibration time. A missing or empty file,
// or the NotCalibrated sentinel, reports ok=false.
func (s *Store) LoadTimestamp() (ts string, ok bool, err error) {
	b, err := os.ReadFile(s.TimestampPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, pkgerrors.Wrapf(err, "failed to read timestamp file %s", s.TimestampPath())
	}
	ts = strings.TrimSpace(string(b))
	if ts == "" || ts == NotCalibrated {
		return "", false, nil
	}
	return ts, true, nil
}

// SaveTimestamp records a successful calibration at t.
func (s *Store) SaveTimestamp(t time.Time) error {
	return s.writeTimestamp(t.Format(TimestampLayout))
}

// ResetTimestamp marks the rig as never calibrated.
func (s *Store) ResetTimestamp() error {
	return s.writeTimestamp(NotCalibrated)
}

func (s *Store) writeTimestamp(v string) error {
	if err := os.WriteFile(s.TimestampPath(), []byte(v+"\n"), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write timestamp file %s", s.TimestampPath())
	}
	return nil
}

// LoadMatrices loads all five matrices. If any one is missing or malformed
// nothing is returned and the error wraps ErrCalibrationLoad.
func (s *Store) LoadMatrices() (*Result, error) {
	loaded := make(map[string]*mat.Dense, len(MatrixNames))
	for _, name := range MatrixNames {
		m, err := s.loadMatrix(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCalibrationLoad, err)
		}
		loaded[name] = m
	}

	r := &Result{
		Q:         loaded[MatrixQ],
		LeftMapX:  loaded[MatrixLeftMapX],
		LeftMapY:  loaded[MatrixLeftMapY],
		RightMapX: loaded[MatrixRightMapX],
		RightMapY: loaded[MatrixRightMapY],
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationLoad, err)
	}
	return r, nil
}

func (s *Store) loadMatrix(name string) (*mat.Dense, error) {
	path := s.MatrixPath(name)
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	m, err := readCVMatrix(fp, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveMatrix writes m in the same format the solver uses.
func (s *Store) SaveMatrix(name string, m mat.Matrix) error {
	path := s.MatrixPath(name)
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open matrix file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	if err := writeCVMatrix(fp, name, m); err != nil {
		return pkgerrors.Wrapf(err, "failed to write matrix file %s", path)
	}
	return nil
}

// matrixBackupSuffix marks a matrix moved aside while the solver runs.
const matrixBackupSuffix = ".prev"

// MatrixBackup holds the matrices of the previous calibration while a solver
// run replaces them.
type MatrixBackup struct {
	store *Store
	moved map[string]bool
}

// BackupMatrices moves the current matrices aside so that only files the
// next solver run writes can be loaded. Missing files are skipped.
func (s *Store) BackupMatrices() (*MatrixBackup, error) {
	b := &MatrixBackup{store: s, moved: make(map[string]bool, len(MatrixNames))}
	for _, name := range MatrixNames {
		path := s.MatrixPath(name)
		err := os.Rename(path, path+matrixBackupSuffix)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			b.Restore()
			return nil, pkgerrors.Wrapf(err, "failed to back up matrix file %s", path)
		}
		b.moved[name] = true
	}
	return b, nil
}

// Restore puts the previous matrices back and removes anything written in
// their place.
func (b *MatrixBackup) Restore() {
	for _, name := range MatrixNames {
		path := b.store.MatrixPath(name)
		var err error
		if b.moved[name] {
			err = os.Rename(path+matrixBackupSuffix, path)
		} else if err = os.Remove(path); os.IsNotExist(err) {
			err = nil
		}
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("failed to restore calibration matrix")
		}
	}
	b.moved = nil
}

// Discard deletes the previous matrices.
func (b *MatrixBackup) Discard() {
	for name := range b.moved {
		path := b.store.MatrixPath(name) + matrixBackupSuffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("file", path).Warn("failed to remove old calibration matrix")
		}
	}
	b.moved = nil
}

// SaveGeometry writes the pattern file the solver and later runs read.
func (s *Store) SaveGeometry(g geometry.Geometry) error {
	return g.Save(s.PatternPath())
}

func (s *Store) LoadGeometry() (geometry.Geometry, error) {
	return geometry.Load(s.PatternPath())
}

// State derives the calibration state. A timestamp without a loadable set
// of matrices is Stale, and so is a calibration older than maxAge when
// maxAge is positive.
func (s *Store) State(maxAge time.Duration) State {
	ts, ok, err := s.LoadTimestamp()
	if err != nil {
		logrus.WithError(err).Warn("failed to read calibration timestamp, treating as never calibrated")
		return State{Kind: StateNeverCalibrated}
	}
	if !ok {
		return State{Kind: StateNeverCalibrated}
	}

	res, err := s.LoadMatrices()
	if err != nil {
		return State{Kind: StateStale, Timestamp: ts, Reason: err.Error()}
	}
	res.Timestamp = ts

	if maxAge > 0 {
		at, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			logrus.WithError(err).WithField("timestamp", ts).Warn("unrecognized calibration timestamp, age not checked")
		} else if age := s.now().Sub(at); age > maxAge {
			return State{
				Kind:      StateStale,
				Timestamp: ts,
				Reason:    fmt.Sprintf("calibration is %s old, limit is %s", age.Truncate(time.Minute), maxAge),
			}
		}
	}

	return State{Kind: StateCalibrated, Timestamp: ts, Result: res}
}

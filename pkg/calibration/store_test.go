package calibration

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/geometry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	require.NoError(t, s.Init())
	return s
}

func rampMatrix(rows, cols int, offset float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, float64(c)+offset+0.25*float64(r))
		}
	}
	return m
}

// writeAllMatrices stores a consistent calibration for 4x3 frames.
func writeAllMatrices(t *testing.T, s *Store) {
	t.Helper()
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -320,
		0, 1, 0, -240,
		0, 0, 0, 500,
		0, 0, -0.1, 0,
	})
	require.NoError(t, s.SaveMatrix(MatrixQ, q))
	require.NoError(t, s.SaveMatrix(MatrixLeftMapX, rampMatrix(3, 4, 0)))
	require.NoError(t, s.SaveMatrix(MatrixLeftMapY, rampMatrix(3, 4, 1)))
	require.NoError(t, s.SaveMatrix(MatrixRightMapX, rampMatrix(3, 4, 2)))
	require.NoError(t, s.SaveMatrix(MatrixRightMapY, rampMatrix(3, 4, 3)))
}

func TestStoreTimestamp(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.LoadTimestamp()
	require.NoError(t, err)
	assert.False(t, ok, "missing file means never calibrated")

	require.NoError(t, os.WriteFile(s.TimestampPath(), []byte("  \n"), 0644))
	_, ok, err = s.LoadTimestamp()
	require.NoError(t, err)
	assert.False(t, ok, "empty file means never calibrated")

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	require.NoError(t, s.SaveTimestamp(at))
	ts, ok, err := s.LoadTimestamp()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Sat Mar  9 14:05:07 2024", ts)

	require.NoError(t, s.ResetTimestamp())
	b, err := os.ReadFile(s.TimestampPath())
	require.NoError(t, err)
	assert.Equal(t, NotCalibrated+"\n", string(b))
	_, ok, err = s.LoadTimestamp()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreMatricesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	writeAllMatrices(t, s)

	res, err := s.LoadMatrices()
	require.NoError(t, err)

	assert.Equal(t, -0.1, res.Q.At(3, 2))
	assert.True(t, mat.Equal(rampMatrix(3, 4, 3), res.RightMapY))
	w, h := res.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)

	x, y := res.Maps(camera.Left)
	assert.True(t, mat.Equal(rampMatrix(3, 4, 0), x))
	assert.True(t, mat.Equal(rampMatrix(3, 4, 1), y))
	x, y = res.Maps(camera.Side(5))
	assert.Nil(t, x)
	assert.Nil(t, y)
}

func TestStoreLoadIsAllOrNothing(t *testing.T) {
	for _, name := range MatrixNames {
		t.Run("missing "+name, func(t *testing.T) {
			s := newTestStore(t)
			writeAllMatrices(t, s)
			require.NoError(t, os.Remove(s.MatrixPath(name)))

			res, err := s.LoadMatrices()
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrCalibrationLoad)
		})
	}

	t.Run("malformed my2", func(t *testing.T) {
		s := newTestStore(t)
		writeAllMatrices(t, s)
		require.NoError(t, os.WriteFile(s.MatrixPath(MatrixRightMapY), []byte("<opencv_storage><my2>"), 0644))

		_, err := s.LoadMatrices()
		assert.ErrorIs(t, err, ErrCalibrationLoad)
	})

	t.Run("map size mismatch", func(t *testing.T) {
		s := newTestStore(t)
		writeAllMatrices(t, s)
		require.NoError(t, s.SaveMatrix(MatrixRightMapX, rampMatrix(6, 8, 0)))

		_, err := s.LoadMatrices()
		assert.ErrorIs(t, err, ErrCalibrationLoad)
	})

	t.Run("Q not 4x4", func(t *testing.T) {
		s := newTestStore(t)
		writeAllMatrices(t, s)
		require.NoError(t, s.SaveMatrix(MatrixQ, mat.NewDense(3, 3, nil)))

		_, err := s.LoadMatrices()
		assert.ErrorIs(t, err, ErrCalibrationLoad)
	})
}

func TestStoreState(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

	t.Run("never calibrated", func(t *testing.T) {
		s := newTestStore(t)
		writeAllMatrices(t, s)
		st := s.State(0)
		assert.Equal(t, StateNeverCalibrated, st.Kind)
		assert.False(t, st.Usable())
	})

	t.Run("stale without matrices", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.SaveTimestamp(now))
		st := s.State(0)
		assert.Equal(t, StateStale, st.Kind)
		assert.Equal(t, now.Format(TimestampLayout), st.Timestamp)
		assert.Contains(t, st.Reason, ErrCalibrationLoad.Error())
	})

	t.Run("stale by age", func(t *testing.T) {
		s := newTestStore(t)
		s.now = func() time.Time { return now.Add(48 * time.Hour) }
		writeAllMatrices(t, s)
		require.NoError(t, s.SaveTimestamp(now))

		st := s.State(24 * time.Hour)
		assert.Equal(t, StateStale, st.Kind)
		assert.True(t, strings.HasPrefix(st.Reason, "calibration is 48h0m0s old"), st.Reason)

		st = s.State(72 * time.Hour)
		assert.Equal(t, StateCalibrated, st.Kind)
	})

	t.Run("calibrated", func(t *testing.T) {
		s := newTestStore(t)
		writeAllMatrices(t, s)
		require.NoError(t, s.SaveTimestamp(now))

		st := s.State(0)
		assert.Equal(t, StateCalibrated, st.Kind)
		assert.True(t, st.Usable())
		assert.Equal(t, st.Timestamp, st.Result.Timestamp)
	})
}

func TestStoreGeometry(t *testing.T) {
	s := newTestStore(t)
	g := geometry.Geometry{CornersWidth: 8, CornersHeight: 5, SquareSize: 2.5}
	require.NoError(t, s.SaveGeometry(g))

	got, err := s.LoadGeometry()
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

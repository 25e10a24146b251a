package geometry

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name    string
		g       Geometry
		wantErr bool
	}{
		{name: "defaults", g: Geometry{9, 6, 2.3}},
		{name: "minimum", g: Geometry{2, 3, 2.0}},
		{name: "square board", g: Geometry{6, 6, 2.3}, wantErr: true},
		{name: "narrow", g: Geometry{1, 6, 2.3}, wantErr: true},
		{name: "short", g: Geometry{9, 1, 2.3}, wantErr: true},
		{name: "tiny squares", g: Geometry{9, 6, 1.9}, wantErr: true},
		{name: "NaN square size", g: Geometry{9, 6, math.NaN()}, wantErr: true},
		{name: "infinite square size", g: Geometry{9, 6, math.Inf(1)}, wantErr: true},
		{name: "negative infinite square size", g: Geometry{9, 6, math.Inf(-1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCaptureParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       CaptureParams
		wantErr bool
	}{
		{name: "lower bounds", p: CaptureParams{Photos: 5, Delay: 3 * time.Second}},
		{name: "upper bounds", p: CaptureParams{Photos: 50, Delay: 60 * time.Second}},
		{name: "too few photos", p: CaptureParams{Photos: 4, Delay: 5 * time.Second}, wantErr: true},
		{name: "too many photos", p: CaptureParams{Photos: 51, Delay: 5 * time.Second}, wantErr: true},
		{name: "delay too short", p: CaptureParams{Photos: 20, Delay: 2900 * time.Millisecond}, wantErr: true},
		{name: "delay too long", p: CaptureParams{Photos: 20, Delay: 61 * time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	g, p := Defaults()
	require.NoError(t, g.Validate())
	require.NoError(t, p.Validate())
	assert.Equal(t, 54, g.CornerCount())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pattern.txt")
	want := Geometry{CornersWidth: 7, CornersHeight: 5, SquareSize: 2.45}

	require.NoError(t, want.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7\n5\n2.45\n", string(b))
}

func TestLoadAcceptsAnyWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pattern.txt")
	require.NoError(t, os.WriteFile(path, []byte("  9 6\t\n2.3"), 0644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Geometry{9, 6, 2.3}, got)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing-token": "9\n6\n",
		"not-a-number":  "nine\n6\n2.3\n",
		"invalid-board": "6\n6\n2.3\n",
		"nan-square":    "9\n6\nNaN\n",
		"inf-square":    "9\n6\n+Inf\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "does-not-exist"))
	assert.Error(t, err)
}

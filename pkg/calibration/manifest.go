package calibration

import (
	"bufio"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/stereovision/pkg/camera"
)

// Manifest is the list of accepted image paths handed to the solver: one
// path per line, left then right for every pair. Every (slot, side) is
// written at most once.
type Manifest struct {
	path    string
	fp      *os.File
	w       *bufio.Writer
	written map[int][2]bool
	lines   int
}

// CreateManifest truncates path and opens it for appending.
func CreateManifest(path string) (*Manifest, error) {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create manifest %s", path)
	}
	return &Manifest{
		path:    path,
		fp:      fp,
		w:       bufio.NewWriter(fp),
		written: make(map[int][2]bool),
	}, nil
}

func (m *Manifest) Path() string { return m.path }

// Lines is the number of paths written so far.
func (m *Manifest) Lines() int { return m.lines }

// Append writes imagePath for the given slot and side. It returns false
// without writing when that slot side is already recorded. A right image is
// only accepted after the left image of the same slot.
func (m *Manifest) Append(slot int, side camera.Side, imagePath string) (bool, error) {
	if m.fp == nil {
		return false, ErrManifestClosed
	}
	if side != camera.Left && side != camera.Right {
		return false, pkgerrors.Errorf("unknown camera side %d", int(side))
	}
	done := m.written[slot]
	if done[side] {
		return false, nil
	}
	if side == camera.Right && !done[camera.Left] {
		return false, ErrManifestOrder
	}

	if _, err := m.w.WriteString(imagePath + "\n"); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to append to manifest %s", m.path)
	}
	done[side] = true
	m.written[slot] = done
	m.lines++

	// A pair is complete, make it durable.
	if side == camera.Right {
		if err := m.w.Flush(); err != nil {
			return true, pkgerrors.Wrapf(err, "failed to flush manifest %s", m.path)
		}
	}
	return true, nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (m *Manifest) Close() error {
	if m.fp == nil {
		return nil
	}
	fp := m.fp
	m.fp = nil
	if err := m.w.Flush(); err != nil {
		_ = fp.Close()
		return pkgerrors.Wrapf(err, "failed to flush manifest %s", m.path)
	}
	if err := fp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close manifest %s", m.path)
	}
	return nil
}

// ReadManifest returns the paths listed in a manifest.
func ReadManifest(path string) ([]string, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open manifest %s", path)
	}
	defer fp.Close()

	var lines []string
	sc := bufio.NewScanner(fp)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read manifest %s", path)
	}
	return lines, nil
}

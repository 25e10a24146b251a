package app

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/charlie0129/stereovision/pkg/vision/opencv"
)

// keyInterrupt is Ctrl-C, which raw mode delivers as a byte instead of
// SIGINT.
const keyInterrupt = 3

var ErrNotTerminal = errors.New("stdin is not a terminal")

// TerminalKeys watches a terminal for q, Q or ESC without waiting for Enter.
// While it is active the terminal is in raw mode, so log output gets its
// line endings rewritten.
type TerminalKeys struct {
	fd      int
	old     *term.State
	prevOut io.Writer
	pressed atomic.Bool
}

func NewTerminalKeys(in *os.File) (*TerminalKeys, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	k := &TerminalKeys{fd: fd, old: old, prevOut: logrus.StandardLogger().Out}
	logrus.SetOutput(crlfWriter{w: k.prevOut})
	go watchKeys(in, &k.pressed)
	return k, nil
}

// Pressed reports whether a quit key has been pressed. It stays true.
func (k *TerminalKeys) Pressed() bool {
	return k.pressed.Load()
}

// Close restores the terminal.
func (k *TerminalKeys) Close() error {
	logrus.SetOutput(k.prevOut)
	return term.Restore(k.fd, k.old)
}

func watchKeys(r io.Reader, pressed *atomic.Bool) {
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if opencv.IsQuitKey(int(b)) || b == keyInterrupt {
				logrus.WithField("key", int(b)).Debug("quit key pressed")
				pressed.Store(true)
			}
		}
		if err != nil {
			return
		}
	}
}

type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

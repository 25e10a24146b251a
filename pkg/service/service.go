// Package service installs sv as a systemd unit so that `sv run` starts on
// boot.
package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	UnitName = "sv.service"
	UnitDir  = "/etc/systemd/system"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Stereo camera calibration and live triangulation
After=network.target

[Service]
Type=simple
ExecStart={{ .Executable }} run --config {{ .ConfigPath }}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

// Installer writes and registers the unit. Systemctl is replaced in tests.
type Installer struct {
	UnitDir    string
	Executable string
	ConfigPath string
	Systemctl  func(args ...string) error
}

// NewInstaller returns an Installer for the running executable.
func NewInstaller(configPath string) (*Installer, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get the absolute path to the config: %w", err)
	}

	return &Installer{
		UnitDir:    UnitDir,
		Executable: exePath,
		ConfigPath: configPath,
		Systemctl:  systemctl,
	}, nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v: %w: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}

func (i *Installer) UnitPath() string {
	return filepath.Join(i.UnitDir, UnitName)
}

// Unit renders the unit file.
func (i *Installer) Unit() ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, i); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to render %s", UnitName)
	}
	return buf.Bytes(), nil
}

func (i *Installer) Install() error {
	logrus.WithField("executable", i.Executable).Info("installing sv service")

	unit, err := i.Unit()
	if err != nil {
		return err
	}

	err = os.MkdirAll(i.UnitDir, 0755)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", i.UnitDir)
	}

	path := i.UnitPath()
	if _, err := os.Stat(path); err == nil {
		logrus.WithField("unit", path).Warn("unit already exists, overwriting")
	}

	err = os.WriteFile(path, unit, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", path)
	}

	logrus.Info("starting sv")

	if err := i.Systemctl("daemon-reload"); err != nil {
		return err
	}
	return i.Systemctl("enable", "--now", UnitName)
}

func (i *Installer) Uninstall() error {
	logrus.Info("stopping sv")

	path := i.UnitPath()
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to stat %s", path)
	}

	if err := i.Systemctl("disable", "--now", UnitName); err != nil {
		return err
	}

	logrus.WithField("unit", path).Info("removing unit")
	err = os.Remove(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to remove %s", path)
	}

	return i.Systemctl("daemon-reload")
}

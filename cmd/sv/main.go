package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/client"
	"github.com/charlie0129/stereovision/pkg/config"
)

var (
	logLevel   = "info"
	configPath = "/etc/sv.json"
	// apiSocket overrides the socket from the config file when set.
	apiSocket = ""
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func loadConfig() (config.Config, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, nil
}

// socketPath is where the running application serves its API.
func socketPath() string {
	if apiSocket != "" {
		return apiSocket
	}
	conf, err := loadConfig()
	if err != nil {
		return config.DefaultAPISocket
	}
	return conf.APISocket()
}

func newAPIClient() *client.Client {
	return client.NewClient(socketPath())
}

func handleCmdError(err error) {
	var spawnErr *calibration.SpawnError
	var exitErr *calibration.ExitError
	switch {
	case errors.Is(err, client.ErrAppNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: sv is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'sv run' first.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
	case errors.Is(err, camera.ErrNoDevices):
		fmt.Fprintln(os.Stderr, "\nError: no stereo camera pair found")
		fmt.Fprintln(os.Stderr, "  - Check both cameras are plugged in and the 'devices' config points at them")
		fmt.Fprintln(os.Stderr, "  - Or replay recorded images with '--emulate <image list>'")
	case errors.As(err, &spawnErr):
		fmt.Fprintf(os.Stderr, "\nError: cannot run the calibration solver %q\n", spawnErr.Path)
		fmt.Fprintln(os.Stderr, "  - Install it or point 'solverPath' in the config at it")
	case errors.As(err, &exitErr):
		fmt.Fprintf(os.Stderr, "\nError: calibration solver failed with status %d\n", exitErr.Code)
		fmt.Fprintln(os.Stderr, "  - The rig stays uncalibrated; run 'sv calibrate' again with better board views")
	case errors.Is(err, calibration.ErrCalibrationLoad):
		fmt.Fprintln(os.Stderr, "\nError: the solver finished but its matrices could not be loaded")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sv",
		Short: "sv calibrates a stereo camera rig and triangulates a chessboard live",
		Long: `sv calibrates a stereo camera pair against a printed chessboard and then
reprojects the board corners into 3D in real time.

On start it checks the calibration in its data directory: an uncalibrated or
stale rig is calibrated first, a calibrated one goes straight to live
triangulation. Press q, Q or ESC to quit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&apiSocket, "api-socket", apiSocket, "unix socket of the status API (defaults to the config value)")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewRunCommand(),
		NewCalibrateCommand(),
		NewStatusCommand(),
		NewRecalibrateCommand(),
		NewPatternCommand(),
		NewScheduleCommand(),
		NewHistoryCommand(),
		NewResetCommand(),
		NewVersionCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/app"
	"github.com/charlie0129/stereovision/pkg/config"
	"github.com/charlie0129/stereovision/pkg/geometry"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/version"
	"github.com/charlie0129/stereovision/pkg/vision/opencv"
)

// captureFlags are the calibration parameters an operator can set.
type captureFlags struct {
	photos   int
	width    uint
	height   uint
	square   float64
	delay    float64
	defaults bool
}

var capturePatternFlags = []string{"photos", "width", "height", "square-size", "delay"}

func addCaptureFlags(cmd *cobra.Command) *captureFlags {
	g, p := geometry.Defaults()
	f := &captureFlags{}

	fs := cmd.Flags()
	fs.IntVarP(&f.photos, "photos", "n", p.Photos,
		fmt.Sprintf("number of stereo photos to take (%d-%d)", geometry.MinPhotos, geometry.MaxPhotos))
	fs.UintVarP(&f.width, "width", "w", g.CornersWidth, "inner corners along the board width (at least 2)")
	fs.UintVarP(&f.height, "height", "H", g.CornersHeight, "inner corners along the board height (at least 2, not equal to width)")
	fs.Float64VarP(&f.square, "square-size", "s", g.SquareSize, "size of one board square (at least 2.0)")
	fs.Float64VarP(&f.delay, "delay", "d", p.Delay.Seconds(),
		fmt.Sprintf("seconds between photos (%.1f-%.1f)", geometry.MinDelay.Seconds(), geometry.MaxDelay.Seconds()))
	fs.BoolVarP(&f.defaults, "defaults", "c", false, "use the default board and capture parameters")
	return f
}

// resolve validates the flags. --defaults may not be mixed with explicit
// values.
func (f *captureFlags) resolve(cmd *cobra.Command) (geometry.Geometry, geometry.CaptureParams, error) {
	if f.defaults {
		for _, name := range capturePatternFlags {
			if cmd.Flags().Changed(name) {
				return geometry.Geometry{}, geometry.CaptureParams{}, fmt.Errorf("--defaults cannot be combined with --%s", name)
			}
		}
		g, p := geometry.Defaults()
		return g, p, nil
	}

	g := geometry.Geometry{
		CornersWidth:  f.width,
		CornersHeight: f.height,
		SquareSize:    f.square,
	}
	p := geometry.CaptureParams{
		Photos: f.photos,
		Delay:  time.Duration(f.delay * float64(time.Second)),
	}
	if err := g.Validate(); err != nil {
		return g, p, err
	}
	if err := p.Validate(); err != nil {
		return g, p, err
	}
	return g, p, nil
}

// sourceFlags override the config for one run.
type sourceFlags struct {
	emulate string
	dataDir string
	solver  string
	display bool
}

func addSourceFlags(cmd *cobra.Command) *sourceFlags {
	f := &sourceFlags{}
	fs := cmd.Flags()
	fs.StringVar(&f.emulate, "emulate", "", "replay an image list (left and right alternating) instead of opening cameras")
	fs.StringVar(&f.dataDir, "data-dir", "", "calibration data directory (defaults to the config value)")
	fs.StringVar(&f.solver, "solver", "", "calibration solver executable (defaults to the config value)")
	fs.BoolVar(&f.display, "display", false, "show the camera images in windows")
	return f
}

func (f *sourceFlags) apply(cmd *cobra.Command, conf config.Config) {
	if f.emulate != "" {
		conf.SetEmulationImages(f.emulate)
	}
	if f.dataDir != "" {
		conf.SetDataDir(f.dataDir)
	}
	if f.solver != "" {
		conf.SetSolverPath(f.solver)
	}
	if apiSocket != "" {
		conf.SetAPISocket(apiSocket)
	}
	if cmd.Flags().Changed("display") {
		conf.SetDisplay(f.display)
	}
}

// newApp wires the application for this process. The returned cleanup must
// run after the application stopped.
func newApp(conf config.Config, g geometry.Geometry, p geometry.CaptureParams, recalibrate, loopRecorded bool) (*app.Application, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	opts := app.Options{
		Config:      conf,
		Geometry:    g,
		Params:      p,
		Recalibrate: recalibrate,
		Source:      app.NewSource(conf, loopRecorded),
		Detector:    opencv.NewChessboardDetector(),
		SaveSchedule: func(expr string) error {
			// Reload so that flags overriding this run are not persisted.
			f, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			f.SetRecalibrationCron(expr)
			return f.Save()
		},
	}

	if path := conf.HistoryDB(); path != "" {
		db, err := history.Open(path)
		if err != nil {
			logrus.WithError(err).Warn("failed to open calibration history, runs will not be recorded")
		} else {
			opts.History = db
			cleanups = append(cleanups, func() { _ = db.Close() })
		}
	}

	if conf.Display() {
		opts.Display = opencv.NewDisplay()
	}

	keys, err := app.NewTerminalKeys(os.Stdin)
	if err != nil {
		logrus.WithError(err).Debug("quit keys are not read from the terminal")
	} else {
		opts.Keys = keys.Pressed
		cleanups = append(cleanups, func() {
			if err := keys.Close(); err != nil {
				logrus.WithError(err).Warn("failed to restore terminal")
			}
		})
	}

	a, err := app.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func NewRunCommand() *cobra.Command {
	var recalibrate bool

	cmd := &cobra.Command{
		Use:     "run",
		GroupID: gBasic,
		Short:   "Calibrate if needed, then triangulate the chessboard live",
		Long: `Open the cameras and triangulate the chessboard live.

An uncalibrated rig, or one whose calibration is stale, is calibrated first
with the board and capture flags. The status API is served while running.
Press q, Q or ESC (or send SIGINT/SIGTERM) to stop.`,
		Args: cobra.NoArgs,
	}
	capture := addCaptureFlags(cmd)
	source := addSourceFlags(cmd)
	cmd.Flags().BoolVar(&recalibrate, "recalibrate", false, "calibrate even if the rig is already calibrated")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		g, p, err := capture.resolve(cmd)
		if err != nil {
			_ = cmd.Usage()
			return err
		}
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		source.apply(cmd, conf)

		logrus.WithFields(logrus.Fields{
			"version": version.Version,
			"commit":  version.GitCommit,
		}).Info("sv starting")
		logrus.WithFields(conf.LogrusFields()).Debug("config loaded")

		a, cleanup, err := newApp(conf, g, p, recalibrate, true)
		if err != nil {
			return err
		}
		defer cleanup()
		return a.Run(context.Background())
	}

	return cmd
}

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"cali"},
		GroupID: gBasic,
		Short:   "Run a calibration session and the solver, then exit",
		Long: `Take stereo photos of the chessboard and run the calibration solver on them.

A pair is kept only when the full board is found by both cameras. The
timestamp is written only when the solver succeeds.`,
		Example: `  sv calibrate -c                    (defaults: 20 photos, 9x6 board, 2.3 squares, 3.5s apart)
  sv calibrate -n 10 -w 7 -H 5 -s 3 -d 5`,
		Args: cobra.NoArgs,
	}
	capture := addCaptureFlags(cmd)
	source := addSourceFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		g, p, err := capture.resolve(cmd)
		if err != nil {
			_ = cmd.Usage()
			return err
		}
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		source.apply(cmd, conf)

		a, cleanup, err := newApp(conf, g, p, true, false)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := a.Calibrate(context.Background()); err != nil {
			return err
		}
		st := a.Status()
		cmd.Printf("Calibrated at %s\n", bold("%s", st.CalibratedAt))
		return nil
	}

	return cmd
}

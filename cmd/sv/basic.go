package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/api"
	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/client"
	"github.com/charlie0129/stereovision/pkg/version"
)

func NewRecalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "recalibrate",
		GroupID: gBasic,
		Short:   "Ask a running sv to recalibrate now",
		Long: `Ask a running sv to stop live triangulation, run a new calibration session
and resume.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := newAPIClient().Recalibrate()
			if errors.Is(err, client.ErrConflict) {
				return fmt.Errorf("cannot recalibrate: %w", api.ErrBusy)
			}
			if err != nil {
				return fmt.Errorf("failed to request recalibration: %w", err)
			}
			cmd.Println("Recalibration requested.")
			return nil
		},
	}
}

func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		GroupID: gAdvanced,
		Short:   "Mark the rig as never calibrated",
		Long: `Mark the rig as never calibrated. The next 'sv run' starts with a
calibration session. The matrices are left in place.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			store := calibration.NewStore(conf.DataDir())
			if err := store.Init(); err != nil {
				return err
			}
			if err := store.ResetTimestamp(); err != nil {
				return err
			}
			logrus.WithField("file", store.TimestampPath()).Info("calibration reset")
			return nil
		},
	}
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		GroupID: gBasic,
		Short:   "Print version",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("sv %s (%s)\n", version.Version, version.GitCommit)
			running, err := newAPIClient().GetVersion()
			if err != nil {
				logrus.WithError(err).Debug("cannot get the version of a running sv")
				return
			}
			cmd.Printf("running: %s\n", running)
			if running != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion":  version.Version,
					"runningVersion": running,
				}).Warn("the running sv is a different version")
			}
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/service"
)

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

func NewInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "install",
		Short:   "Install sv as a systemd service",
		GroupID: gInstallation,
		Long: `Install sv as a systemd service (system-wide).

This makes 'sv run' start on boot with the current config file. You must run
this command as root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, err := service.NewInstaller(configPath)
			if err != nil {
				return err
			}
			if err := inst.Install(); err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install service: %w", err)
			}

			logrus.Infof("installation succeeded")
			cmd.Printf("systemd will use the current binary (%s) at startup so please make sure you do not move it. Once it is moved or deleted, you will need to run 'sv install' again.\n", inst.Executable)
			return nil
		},
	}
}

func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall the sv systemd service",
		GroupID: gInstallation,
		Long: `Stop sv and remove its systemd unit. Calibration data and the config file
are left in place.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			inst, err := service.NewInstaller(configPath)
			if err != nil {
				return err
			}
			if err := inst.Uninstall(); err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall service: %w", err)
			}
			logrus.Infof("uninstallation succeeded")
			return nil
		},
	}
}

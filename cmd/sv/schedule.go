package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/client"
	"github.com/charlie0129/stereovision/pkg/schedule"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage the automatic recalibration schedule",
		Long: `Manage the automatic recalibration schedule.

The schedule command can be used in multiple ways:
  sv schedule 'minute hour day month weekday' Set schedule with cron expression
  sv schedule disable                         Disable the schedule
  sv schedule skip                            Skip the next scheduled run
  sv schedule show                            Show current schedule

A scheduled recalibration interrupts live triangulation, runs a new session
and resumes. When sv is not running the schedule is written to the config
file and applies from the next start.`,
		Example: `  sv schedule '0 3 * * 0' (At 03:00 on Sunday)
  sv schedule '@every 168h'`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the recalibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleSet(cmd, "")
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current recalibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled recalibration of a running sv",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := newAPIClient().SkipSchedule()
				if errors.Is(err, client.ErrConflict) {
					return schedule.ErrNoSchedule
				}
				if err != nil {
					return err
				}
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := newAPIClient().GetSchedule()
	if errors.Is(err, client.ErrAppNotRunning) {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		st = &schedule.Status{Expression: conf.RecalibrationCron()}
	} else if err != nil {
		return err
	}

	if st.Expression == "" {
		cmd.Println("No recalibration scheduled.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", bold("%s", st.Expression))
	cmd.Printf("Active: %s\n", bool2Text(st.Running))
	if !st.NextRun.IsZero() {
		cmd.Printf("Next run: %s\n", bold("%s", st.NextRun.Local().Format(time.DateTime)))
	}
	return nil
}

func runScheduleSet(cmd *cobra.Command, expr string) error {
	if expr != "" {
		if _, err := schedule.Parser.Parse(expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}

	_, err := newAPIClient().SetSchedule(expr)
	if errors.Is(err, client.ErrAppNotRunning) {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		conf.SetRecalibrationCron(expr)
		if err := conf.Save(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if expr == "" {
		cmd.Println("Recalibration schedule disabled.")
		return nil
	}
	return runScheduleShow(cmd)
}

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/client"
	"github.com/charlie0129/stereovision/pkg/history"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history",
		GroupID: gAdvanced,
		Short:   "List past calibration runs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := newAPIClient().GetHistory(limit)
			if errors.Is(err, client.ErrAppNotRunning) {
				runs, err = localHistory(limit)
			}
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	return cmd
}

func localHistory(limit int) ([]history.Run, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := history.Open(conf.HistoryDB())
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.List(limit)
}

func printHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No calibration runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTRIGGER\tOUTCOME\tPAIRS\tREJECTED\tBOARD\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%dx%d/%g\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Trigger,
			outcomeText(r.Outcome),
			r.PairsCaptured, r.Target,
			r.Rejected,
			r.Geometry.CornersWidth, r.Geometry.CornersHeight, r.Geometry.SquareSize,
			r.Error,
		)
	}
	_ = tw.Flush()
}

func outcomeText(o string) string {
	switch o {
	case history.OutcomeDone:
		return color.GreenString(o)
	case history.OutcomeFailed:
		return color.RedString(o)
	case history.OutcomeCancelled:
		return color.YellowString(o)
	default:
		return o
	}
}

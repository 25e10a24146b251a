package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/client"
	"github.com/charlie0129/stereovision/pkg/events"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of sv",
		Long: `Get the calibration state, the running session and the latest triangulation.

When sv is not running, the calibration state is read from the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newAPIClient()
			st, err := c.GetStatus()
			if errors.Is(err, client.ErrAppNotRunning) {
				st, err = localStatus()
			}
			if err != nil {
				return err
			}

			var tri *events.TriangulationEvent
			if st.Mode == calibration.ModeLive {
				tri, err = c.GetTriangulation()
				if err != nil && !errors.Is(err, client.ErrNotFound) {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*calibration.Status
					Triangulation *events.TriangulationEvent `json:"triangulation,omitempty"`
				}{st, tri})
			}
			printStatus(cmd.OutOrStdout(), st, tri)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

// localStatus reads the calibration state from disk.
func localStatus() (*calibration.Status, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store := calibration.NewStore(conf.DataDir())
	state := store.State(conf.MaxCalibrationAge())
	st := &calibration.Status{
		Mode:         calibration.ModeStopped,
		State:        state.Kind,
		CalibratedAt: state.Timestamp,
		Reason:       state.Reason,
		Message:      "sv is not running",
	}
	if g, err := store.LoadGeometry(); err == nil {
		st.Geometry = g
	}
	return st, nil
}

func printStatus(w io.Writer, st *calibration.Status, tri *events.TriangulationEvent) {
	fmt.Fprintln(w, bold("Calibration:"))
	fmt.Fprintf(w, "  State: %s\n", stateText(st.State))
	if st.CalibratedAt != "" {
		fmt.Fprintf(w, "  Calibrated at: %s\n", bold("%s", st.CalibratedAt))
	}
	if st.Reason != "" {
		fmt.Fprintf(w, "    %s\n", st.Reason)
	}
	if st.Geometry.CornersWidth > 0 {
		fmt.Fprintf(w, "  Board: %s\n", bold("%dx%d corners, squares of %g",
			st.Geometry.CornersWidth, st.Geometry.CornersHeight, st.Geometry.SquareSize))
	}
	if !st.NextRecalibration.IsZero() {
		fmt.Fprintf(w, "  Next recalibration: %s\n", bold("%s", st.NextRecalibration.Local().Format(time.DateTime)))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, bold("Application:"))
	fmt.Fprintf(w, "  Mode: %s\n", bold("%s", st.Mode))
	if st.Message != "" {
		fmt.Fprintf(w, "    %s\n", st.Message)
	}

	if s := st.Session; s != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Calibration session:"))
		fmt.Fprintf(w, "  Phase: %s\n", phaseText(s.Phase))
		fmt.Fprintf(w, "  Pairs: %s (%d rejected)\n", bold("%d/%d", s.PairsCaptured, s.Target), s.Rejected)
		if s.CooldownRemaining > 0 {
			fmt.Fprintf(w, "  Next photo in: %s\n", bold("%.1fs", s.CooldownRemaining))
		}
		if s.LastError != "" {
			fmt.Fprintf(w, "  Error: %s\n", color.RedString(s.LastError))
		}
	}

	if tri != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Latest triangulation:"))
		fmt.Fprintf(w, "  Pair: %s, %d corners, %d skipped\n", bold("#%d", tri.SequenceID), len(tri.Points), tri.Skipped)
		if len(tri.Points) > 0 {
			p := tri.Points[0]
			fmt.Fprintf(w, "  First corner: %s\n", bold("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z))
		}
	}
}

func stateText(k calibration.StateKind) string {
	switch k {
	case calibration.StateCalibrated:
		return color.New(color.Bold, color.FgGreen).Sprint(k)
	case calibration.StateStale:
		return color.New(color.Bold, color.FgYellow).Sprint(k)
	default:
		return color.New(color.Bold, color.FgRed).Sprint(k)
	}
}

func phaseText(p calibration.Phase) string {
	switch p {
	case calibration.PhaseDone, calibration.PhasePairAccepted:
		return color.New(color.Bold, color.FgGreen).Sprint(p)
	case calibration.PhaseFailed, calibration.PhasePairRejected:
		return color.New(color.Bold, color.FgRed).Sprint(p)
	default:
		return bold("%s", p)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

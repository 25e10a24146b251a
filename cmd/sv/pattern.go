package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/geometry"
)

func patternStore() (*calibration.Store, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return calibration.NewStore(conf.DataDir()), nil
}

func NewPatternCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pattern",
		GroupID: gAdvanced,
		Short:   "Show or set the chessboard pattern of the calibration",
		Long: `Show or set the chessboard pattern stored next to the calibration.

The pattern is written by every calibration session and read by live
triangulation to know how many corners to look for.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the stored pattern",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := patternStore()
				if err != nil {
					return err
				}
				g, err := store.LoadGeometry()
				if err != nil {
					return fmt.Errorf("failed to read pattern: %w", err)
				}
				cmd.Printf("Inner corners: %s\n", bold("%d x %d", g.CornersWidth, g.CornersHeight))
				cmd.Printf("Square size: %s\n", bold("%g", g.SquareSize))
				return nil
			},
		},
		newPatternSetCommand(),
	)

	return cmd
}

func newPatternSetCommand() *cobra.Command {
	def, _ := geometry.Defaults()
	g := def

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the stored pattern",
		Long: `Set the stored pattern without recalibrating. Use this when the matrices
were produced elsewhere for a known board.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.Validate(); err != nil {
				_ = cmd.Usage()
				return err
			}
			store, err := patternStore()
			if err != nil {
				return err
			}
			if err := store.Init(); err != nil {
				return err
			}
			if err := store.SaveGeometry(g); err != nil {
				return err
			}
			logrus.WithFields(g.LogrusFields()).Info("pattern saved")
			return nil
		},
	}

	fs := cmd.Flags()
	fs.UintVarP(&g.CornersWidth, "width", "w", def.CornersWidth, "inner corners along the board width")
	fs.UintVarP(&g.CornersHeight, "height", "H", def.CornersHeight, "inner corners along the board height")
	fs.Float64VarP(&g.SquareSize, "square-size", "s", def.SquareSize, "size of one board square")

	return cmd
}

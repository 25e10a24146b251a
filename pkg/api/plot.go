package api

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/charlie0129/stereovision/pkg/events"
)

// TopViewPNG renders the triangulated corners seen from above: lateral
// position X against depth Z.
func TopViewPNG(tri events.TriangulationEvent) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pair %d: %d corners, %d skipped", tri.SequenceID, len(tri.Points), tri.Skipped)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z (depth)"
	p.Add(plotter.NewGrid())

	if len(tri.Points) > 0 {
		pts := make(plotter.XYs, 0, len(tri.Points))
		for _, c := range tri.Points {
			pts = append(pts, plotter.XY{X: c.X, Y: c.Z})
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build scatter: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
	}

	w, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

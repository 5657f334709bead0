// Package monitor renders localization diagnostics. It is a read-only
// consumer of the particle population and the world segments; nothing
// here feeds back into estimation state.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/mcl.localizer/internal/mcl"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

// CloudPlotter writes one PNG per sampled cycle showing the world
// segments, the particle cloud and the mean pose estimate.
type CloudPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	cycleIdx  int
}

// NewCloudPlotter creates a disabled plotter; call Start to enable.
func NewCloudPlotter() *CloudPlotter {
	return &CloudPlotter{}
}

// Start enables plotting into outputDir, creating it if needed.
func (cp *CloudPlotter) Start(outputDir string) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	cp.outputDir = outputDir
	cp.enabled = true
	cp.cycleIdx = 0
	return nil
}

// Stop disables further output.
func (cp *CloudPlotter) Stop() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.enabled = false
}

// Sample renders the given cycle result against the world segments.
// A disabled plotter is a no-op so callers can leave this wired in.
func (cp *CloudPlotter) Sample(segments []worldmodel.LineSegment, res *mcl.CycleResult) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.enabled {
		return nil
	}
	cp.cycleIdx++

	p := plot.New()
	p.Title.Text = fmt.Sprintf("cycle %d (%d particles)", cp.cycleIdx, len(res.Samples))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	// World segments as thin grey lines.
	for _, seg := range segments {
		line, err := plotter.NewLine(plotter.XYs{
			{X: seg.Start.X, Y: seg.Start.Y},
			{X: seg.End.X, Y: seg.End.Y},
		})
		if err != nil {
			return fmt.Errorf("building segment line: %w", err)
		}
		line.Color = color.Gray{Y: 128}
		p.Add(line)
	}

	// Particle cloud, shaded so heavier hypotheses draw more opaque.
	maxWeight := 0.0
	for _, s := range res.Samples {
		if s.Weight > maxWeight {
			maxWeight = s.Weight
		}
	}
	pts := make(plotter.XYs, len(res.Samples))
	for i, s := range res.Samples {
		pts[i] = plotter.XY{X: s.Pose.T.X, Y: s.Pose.T.Y}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("building particle scatter: %w", err)
	}
	samples := res.Samples
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		alpha := uint8(255)
		if maxWeight > 0 {
			alpha = uint8(55 + 200*samples[i].Weight/maxWeight)
		}
		return draw.GlyphStyle{
			Color:  color.RGBA{R: 200, A: alpha},
			Radius: vg.Points(1.5),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(scatter)

	// Mean pose with a short heading tick.
	mean := res.MeanPose
	tick := 0.3
	heading, err := plotter.NewLine(plotter.XYs{
		{X: mean.T.X, Y: mean.T.Y},
		{X: mean.T.X + tick*math.Cos(mean.Angle()), Y: mean.T.Y + tick*math.Sin(mean.Angle())},
	})
	if err != nil {
		return fmt.Errorf("building heading line: %w", err)
	}
	heading.Color = color.RGBA{B: 255, A: 255}
	heading.Width = vg.Points(2)
	p.Add(heading)

	out := filepath.Join(cp.outputDir, fmt.Sprintf("cycle_%04d.png", cp.cycleIdx))
	if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
		return fmt.Errorf("saving plot %s: %w", out, err)
	}
	return nil
}

// Package report renders reconstruction statistics as PNG plots next to
// the output mesh: the cluster size distribution after planar growing and
// the signed-distance histogram of the voxel grid corners.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/optimize"
	"github.com/banshee-data/surface.report/internal/voxel"
)

// Writer collects plots for one reconstruction run.
type Writer struct {
	outputDir string
	runID     string
}

// NewWriter creates the output directory if necessary. runID becomes part
// of every artifact file name.
func NewWriter(outputDir, runID string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("report: creating output dir: %w", err)
	}
	return &Writer{outputDir: outputDir, runID: runID}, nil
}

// ClusterSizes plots a histogram of faces-per-cluster.
func (w *Writer) ClusterSizes(cm *optimize.ClusterBiMap) error {
	if cm == nil || cm.NumClusters() == 0 {
		return nil
	}
	sizes := make(plotter.Values, 0, cm.NumClusters())
	for _, c := range cm.Clusters() {
		sizes = append(sizes, float64(len(cm.Faces(c))))
	}

	p := plot.New()
	p.Title.Text = "Planar cluster sizes"
	p.X.Label.Text = "faces per cluster"
	p.Y.Label.Text = "clusters"

	h, err := plotter.NewHist(sizes, 32)
	if err != nil {
		return fmt.Errorf("report: cluster histogram: %w", err)
	}
	p.Add(h)

	file := filepath.Join(w.outputDir, fmt.Sprintf("%s_cluster_sizes.png", w.runID))
	if err := p.Save(8*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("report: saving %s: %w", file, err)
	}
	monitoring.Logf("report: wrote %s", file)
	return nil
}

// CornerDistances plots the signed-distance histogram over the voxel
// grid's valid corners.
func (w *Writer) CornerDistances(g *voxel.Grid) error {
	if g == nil || g.NumCorners() == 0 {
		return nil
	}
	values := make(plotter.Values, 0, g.NumCorners())
	for i := 0; i < g.NumCorners(); i++ {
		if d, valid := g.CornerDistance(uint32(i)); valid {
			values = append(values, float64(d))
		}
	}
	if len(values) == 0 {
		return nil
	}

	p := plot.New()
	p.Title.Text = "Corner signed distances"
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "corners"

	h, err := plotter.NewHist(values, 64)
	if err != nil {
		return fmt.Errorf("report: distance histogram: %w", err)
	}
	p.Add(h)

	file := filepath.Join(w.outputDir, fmt.Sprintf("%s_corner_distances.png", w.runID))
	if err := p.Save(8*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("report: saving %s: %w", file, err)
	}
	monitoring.Logf("report: wrote %s", file)
	return nil
}

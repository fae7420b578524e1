package hemesh

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// FromIndexed builds a half-edge mesh from an indexed triangle list.
// Triangles that would create a non-manifold configuration (iso-extraction
// can emit a handful around invalid-corner fringes) are skipped and
// counted rather than failing the build; allocation failures abort.
func FromIndexed(vertices []mgl32.Vec3, faces [][3]uint32) (m *Mesh, skipped int, err error) {
	m = NewMesh()
	handles := make([]Vertex, len(vertices))
	for i, p := range vertices {
		v, err := m.AddVertex(p)
		if err != nil {
			return nil, 0, err
		}
		handles[i] = v
	}

	for _, f := range faces {
		if _, err := m.AddTriangle(handles[f[0]], handles[f[1]], handles[f[2]]); err != nil {
			if !errors.Is(err, geomerr.ErrTopology) {
				return nil, skipped, err
			}
			skipped++
		}
	}
	if skipped > 0 {
		monitoring.Logf("hemesh: skipped %d non-manifold triangles of %d", skipped, len(faces))
	}
	return m, skipped, nil
}

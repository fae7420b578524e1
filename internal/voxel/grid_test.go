package voxel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/surface"
)

func init() {
	monitoring.SetLogger(nil)
}

func spherePointSet(t *testing.T, seed int64, n int, center mgl32.Vec3, radius float32) *surface.PointSet {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mgl32.Vec3, n)
	for i := range pts {
		v := mgl32.Vec3{
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
		}
		if v.Len() < 1e-6 {
			v = mgl32.Vec3{1, 0, 0}
		}
		pts[i] = center.Add(v.Normalize().Mul(radius))
	}
	opts := surface.DefaultOptions()
	opts.FlipPoint = center
	s, err := surface.New(cloud.FromVec3s(pts), opts)
	require.NoError(t, err)
	require.NoError(t, s.CalculateSurfaceNormals())
	// Sphere normals oriented toward the centre point inward; distance
	// sign flips accordingly but the zero level set is unchanged.
	return s
}

func TestParseDecomposition(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"MC", "PMC", "MT", "SF"} {
		d, err := ParseDecomposition(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.String())
	}
	_, err := ParseDecomposition("DMC")
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
}

func TestNewGrid_Validation(t *testing.T) {
	t.Parallel()

	s := spherePointSet(t, 1, 200, mgl32.Vec3{}, 1)
	_, err := NewGrid(s, Params{VoxelSize: 0})
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)

	_, err = NewGrid(s, Params{VoxelSize: -1})
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
}

func TestEmptyAndTinyBuffers(t *testing.T) {
	t.Parallel()

	t.Run("empty buffer", func(t *testing.T) {
		t.Parallel()
		opts := surface.DefaultOptions()
		s, err := surface.New(cloud.FromVec3s(nil), opts)
		require.NoError(t, err)
		g, err := Build(s, DefaultParams(0.1))
		require.NoError(t, err)
		assert.Equal(t, 0, g.NumCells())

		mesh, err := g.Extract()
		require.NoError(t, err)
		assert.Empty(t, mesh.Faces)
		assert.Empty(t, mesh.Vertices)
	})

	t.Run("single point", func(t *testing.T) {
		t.Parallel()
		opts := surface.DefaultOptions()
		s, err := surface.New(cloud.FromVec3s([]mgl32.Vec3{{1, 2, 3}}), opts)
		require.NoError(t, err)
		require.NoError(t, s.EstimateNormals())
		g, err := Build(s, DefaultParams(0.1))
		require.NoError(t, err)
		assert.Equal(t, 0, g.NumCells())

		mesh, err := g.Extract()
		require.NoError(t, err)
		assert.Empty(t, mesh.Faces)
	})
}

func TestGrid_CornersShared(t *testing.T) {
	t.Parallel()

	s := spherePointSet(t, 5, 1500, mgl32.Vec3{}, 1)
	g, err := NewGrid(s, DefaultParams(0.2))
	require.NoError(t, err)

	require.Greater(t, g.NumCells(), 0)
	// Shared corners: the table must be strictly smaller than 8 corners
	// per cell.
	assert.Less(t, g.NumCorners(), 8*g.NumCells())

	// Structural sharing implies the shared-value invariant: adjacent
	// cells reference the same corner index, hence bit-identical values.
	seen := map[uint32]int{}
	for _, c := range g.cells {
		for _, idx := range c.corners {
			seen[idx]++
		}
	}
	shared := 0
	for _, count := range seen {
		if count > 1 {
			shared++
		}
	}
	assert.Greater(t, shared, 0)
}

// meshArea sums triangle areas in float64.
func meshArea(m *Mesh) float64 {
	var area float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		area += float64(b.Sub(a).Cross(c.Sub(a)).Len()) / 2
	}
	return area
}

// meshCentroid averages face centroids weighted by area.
func meshCentroid(m *Mesh) mgl32.Vec3 {
	var cx, cy, cz, w float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		area := float64(b.Sub(a).Cross(c.Sub(a)).Len()) / 2
		centroid := a.Add(b).Add(c).Mul(1.0 / 3.0)
		cx += float64(centroid[0]) * area
		cy += float64(centroid[1]) * area
		cz += float64(centroid[2]) * area
		w += area
	}
	if w == 0 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{float32(cx / w), float32(cy / w), float32(cz / w)}
}

// edgeUseCounts maps undirected vertex pairs to the number of incident
// faces.
func edgeUseCounts(m *Mesh) map[[2]uint32]int {
	counts := map[[2]uint32]int{}
	for _, f := range m.Faces {
		for e := 0; e < 3; e++ {
			a, b := f[e], f[(e+1)%3]
			if a > b {
				a, b = b, a
			}
			counts[[2]uint32{a, b}]++
		}
	}
	return counts
}

func TestExtract_SphereMC(t *testing.T) {
	t.Parallel()

	const radius = 1.0
	s := spherePointSet(t, 42, 4000, mgl32.Vec3{}, radius)
	params := DefaultParams(0.15)
	params.Decomposition = MC
	g, err := Build(s, params)
	require.NoError(t, err)

	mesh, err := g.Extract()
	require.NoError(t, err)
	require.NotEmpty(t, mesh.Faces)
	require.Equal(t, len(mesh.Faces), len(mesh.FaceCells))

	// Round-trip law: centroid within half a voxel of the sphere centre.
	centroid := meshCentroid(mesh)
	assert.Less(t, float64(centroid.Len()), float64(params.VoxelSize)/2)

	// Surface area approximates 4 pi r^2 within sampling error.
	area := meshArea(mesh)
	want := 4 * math.Pi * radius * radius
	assert.InDelta(t, want, area, want*0.25)

	// Watertight: every edge is shared by exactly two faces.
	for edge, count := range edgeUseCounts(mesh) {
		assert.Equal(t, 2, count, "edge %v", edge)
	}
}

func TestExtract_SphereMT(t *testing.T) {
	t.Parallel()

	s := spherePointSet(t, 43, 4000, mgl32.Vec3{}, 1)
	params := DefaultParams(0.15)
	params.Decomposition = MT
	g, err := Build(s, params)
	require.NoError(t, err)

	mesh, err := g.Extract()
	require.NoError(t, err)
	require.NotEmpty(t, mesh.Faces)

	for edge, count := range edgeUseCounts(mesh) {
		assert.Equal(t, 2, count, "edge %v", edge)
	}

	// Tetrahedra cut more triangles out of the same band than plain MC.
	paramsMC := DefaultParams(0.15)
	paramsMC.Decomposition = MC
	gMC, err := Build(s, paramsMC)
	require.NoError(t, err)
	meshMC, err := gMC.Extract()
	require.NoError(t, err)
	assert.Greater(t, len(mesh.Faces), len(meshMC.Faces))
}

func TestExtract_PMCAndSFProduceMeshes(t *testing.T) {
	t.Parallel()

	for _, d := range []Decomposition{PMC, SF} {
		d := d
		t.Run(d.String(), func(t *testing.T) {
			t.Parallel()
			s := spherePointSet(t, 44, 3000, mgl32.Vec3{}, 1)
			params := DefaultParams(0.2)
			params.Decomposition = d
			g, err := Build(s, params)
			require.NoError(t, err)
			mesh, err := g.Extract()
			require.NoError(t, err)
			assert.NotEmpty(t, mesh.Faces)
		})
	}
}

func TestExtract_DeterministicAcrossThreads(t *testing.T) {
	t.Parallel()

	s := spherePointSet(t, 42, 2000, mgl32.Vec3{}, 1)

	var meshes []*Mesh
	for _, threads := range []int{1, 4} {
		params := DefaultParams(0.2)
		params.Decomposition = MC
		params.Threads = threads
		g, err := Build(s, params)
		require.NoError(t, err)
		m, err := g.Extract()
		require.NoError(t, err)
		meshes = append(meshes, m)
	}

	// The ordered merge keys everything by cell index, so even the face
	// order is reproducible across thread counts.
	assert.Equal(t, meshes[0].Vertices, meshes[1].Vertices)
	assert.Equal(t, meshes[0].Faces, meshes[1].Faces)
	assert.Equal(t, meshes[0].FaceCells, meshes[1].FaceCells)
}

func TestExtract_PlanarCloudIsFlat(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(9))
	pts := make([]mgl32.Vec3, 3000)
	for i := range pts {
		pts[i] = mgl32.Vec3{rng.Float32(), rng.Float32(), 0}
	}
	opts := surface.DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 10}
	s, err := surface.New(cloud.FromVec3s(pts), opts)
	require.NoError(t, err)
	require.NoError(t, s.CalculateSurfaceNormals())

	params := DefaultParams(0.1)
	params.Decomposition = MC
	g, err := Build(s, params)
	require.NoError(t, err)
	mesh, err := g.Extract()
	require.NoError(t, err)
	require.NotEmpty(t, mesh.Faces)

	// All extracted vertices hug the z = 0 plane.
	for i, v := range mesh.Vertices {
		assert.InDelta(t, 0, float64(v[2]), 0.06, "vertex %d", i)
	}
}

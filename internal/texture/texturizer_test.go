package texture

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/optimize"
	"github.com/banshee-data/surface.report/internal/surface"
)

func init() {
	monitoring.SetLogger(nil)
}

// flatScene builds a unit-square patch mesh, a matching red point cloud
// surface and a single cluster over all faces.
func flatScene(t *testing.T) (*hemesh.Mesh, *optimize.ClusterBiMap, *surface.PointSet) {
	t.Helper()

	m := hemesh.NewMesh()
	var vs [3][3]hemesh.Vertex
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v, err := m.AddVertex(mgl32.Vec3{float32(i) / 2, float32(j) / 2, 0})
			require.NoError(t, err)
			vs[i][j] = v
		}
	}
	cm := optimize.NewClusterBiMap()
	c := cm.CreateCluster()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			f1, err := m.AddTriangle(vs[i][j], vs[i+1][j], vs[i+1][j+1])
			require.NoError(t, err)
			f2, err := m.AddTriangle(vs[i][j], vs[i+1][j+1], vs[i][j+1])
			require.NoError(t, err)
			cm.AddToCluster(c, f1)
			cm.AddToCluster(c, f2)
		}
	}

	rng := rand.New(rand.NewSource(8))
	n := 500
	pts := make([]mgl32.Vec3, n)
	colors := make([]uint8, 0, n*3)
	for i := range pts {
		pts[i] = mgl32.Vec3{rng.Float32(), rng.Float32(), 0}
		colors = append(colors, 200, 10, 10)
	}
	buf := cloud.FromVec3s(pts)
	require.NoError(t, buf.SetColors(colors, 3))

	opts := surface.DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 5}
	s, err := surface.New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.CalculateSurfaceNormals())
	return m, cm, s
}

func TestGenerateTextures_NearestMode(t *testing.T) {
	t.Parallel()

	m, cm, s := flatScene(t)
	p := DefaultParams(0.1)
	p.MinClusterSize = 1

	res, err := GenerateTextures(m, cm, s, &SequentialIDs{}, p)
	require.NoError(t, err)
	require.Len(t, res.Textures, 1)
	require.Len(t, res.Materials, 1)

	tex := res.Textures[0]
	assert.Equal(t, uint32(0), tex.ID)
	assert.Equal(t, 3, tex.Channels)
	// Unit square at 0.1 m texels: roughly 10x10.
	assert.GreaterOrEqual(t, tex.Width, 10)
	assert.LessOrEqual(t, tex.Width, 12)
	assert.Len(t, tex.Pixels, tex.Width*tex.Height*3)

	// Every texel samples the red cloud.
	for i := 0; i < len(tex.Pixels); i += 3 {
		assert.Equal(t, uint8(200), tex.Pixels[i])
	}

	// UVs normalized into the cluster rectangle.
	for vi := 0; vi < m.VerticesSize(); vi++ {
		uv := res.UV.Data[vi]
		assert.GreaterOrEqual(t, float64(uv[0]), 0.0)
		assert.LessOrEqual(t, float64(uv[0]), 1.0)
		assert.GreaterOrEqual(t, float64(uv[1]), 0.0)
		assert.LessOrEqual(t, float64(uv[1]), 1.0)
	}
}

func TestGenerateTextures_SmallClusterFallback(t *testing.T) {
	t.Parallel()

	m, cm, s := flatScene(t)
	p := DefaultParams(0.1) // default MinClusterSize 100 exceeds 8 faces

	res, err := GenerateTextures(m, cm, s, &SequentialIDs{}, p)
	require.NoError(t, err)
	assert.Empty(t, res.Textures)
	require.Len(t, res.Materials, 1)
	assert.Equal(t, -1, res.Materials[0].TextureIndex)
	assert.Equal(t, fallbackColor, res.Materials[0].BaseColor)
}

func TestGenerateTextures_MeanMode(t *testing.T) {
	t.Parallel()

	m, cm, s := flatScene(t)
	p := DefaultParams(0.25)
	p.MinClusterSize = 1
	p.Mode = MeanInTexel

	res, err := GenerateTextures(m, cm, s, &SequentialIDs{}, p)
	require.NoError(t, err)
	require.Len(t, res.Textures, 1)
	for i := 0; i < len(res.Textures[0].Pixels); i += 3 {
		assert.Equal(t, uint8(200), res.Textures[0].Pixels[i])
	}
}

func TestGenerateTextures_Spectral(t *testing.T) {
	t.Parallel()

	m, cm, s := flatScene(t)
	buf := s.Buffer()
	spectral := make([]uint8, buf.NumPoints()*2)
	for i := range spectral {
		spectral[i] = 77
	}
	require.NoError(t, buf.SetSpectral(spectral, 2, 400, 700))

	p := DefaultParams(0.2)
	p.MinClusterSize = 1
	p.SpectralChannel = 1

	res, err := GenerateTextures(m, cm, s, &SequentialIDs{}, p)
	require.NoError(t, err)
	require.Len(t, res.Textures, 1)
	for i := 0; i < len(res.Textures[0].Pixels); i++ {
		assert.Equal(t, uint8(77), res.Textures[0].Pixels[i])
	}
}

func TestSequentialIDs(t *testing.T) {
	t.Parallel()

	alloc := &SequentialIDs{}
	assert.Equal(t, uint32(0), alloc.Next())
	assert.Equal(t, uint32(1), alloc.Next())
	assert.Equal(t, uint32(2), alloc.Next())
}

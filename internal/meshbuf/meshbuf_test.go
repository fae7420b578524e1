package meshbuf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/hemesh"
)

func buildQuad(t *testing.T) *hemesh.Mesh {
	t.Helper()
	m := hemesh.NewMesh()
	var vs [4]hemesh.Vertex
	positions := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}}
	for i, p := range positions {
		v, err := m.AddVertex(p)
		require.NoError(t, err)
		vs[i] = v
	}
	_, err := m.AddFace(vs[:])
	require.NoError(t, err)
	return m
}

func TestFromHalfEdgeMesh_FansPolygons(t *testing.T) {
	t.Parallel()

	m := buildQuad(t)
	buf, err := FromHalfEdgeMesh(m, Options{WithNormals: true})
	require.NoError(t, err)

	assert.Equal(t, 4, buf.NumVertices())
	// One quad fans into two triangles.
	assert.Equal(t, 2, buf.NumFaces())
	assert.Len(t, buf.VertexNormals, 12)

	// All normals face +z.
	for i := 0; i < buf.NumVertices(); i++ {
		assert.InDelta(t, 1.0, float64(buf.VertexNormals[i*3+2]), 1e-5)
	}
}

func TestFromHalfEdgeMesh_SkipsDeleted(t *testing.T) {
	t.Parallel()

	m := buildQuad(t)
	m.DeleteFace(hemesh.Face(0))
	buf, err := FromHalfEdgeMesh(m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, buf.NumFaces())
	assert.Equal(t, 0, buf.NumVertices())
}

func TestWritePLY(t *testing.T) {
	t.Parallel()

	m := buildQuad(t)
	buf, err := FromHalfEdgeMesh(m, Options{WithNormals: true})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, buf.WritePLY(&out))
	text := out.String()

	assert.True(t, strings.HasPrefix(text, "ply\nformat ascii 1.0\n"))
	assert.Contains(t, text, "element vertex 4")
	assert.Contains(t, text, "element face 2")
	assert.Contains(t, text, "property float nx")
	assert.NotContains(t, text, "property uchar red")

	lines := strings.Split(strings.TrimSpace(text), "\n")
	// Last two lines are the triangle records.
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "3 "))
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "3 "))
}

func TestWritePLY_EmptyMesh(t *testing.T) {
	t.Parallel()

	buf := &MeshBuffer{}
	var out bytes.Buffer
	require.NoError(t, buf.WritePLY(&out))
	assert.Contains(t, out.String(), "element vertex 0")
	assert.Contains(t, out.String(), "element face 0")
}

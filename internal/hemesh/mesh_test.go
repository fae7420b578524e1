package hemesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func addVertex(t *testing.T, m *Mesh, p mgl32.Vec3) Vertex {
	t.Helper()
	v, err := m.AddVertex(p)
	require.NoError(t, err)
	return v
}

// quadMesh builds one quad face over the unit square.
func quadMesh(t *testing.T) (*Mesh, []Vertex) {
	t.Helper()
	m := NewMesh()
	vs := []Vertex{
		addVertex(t, m, mgl32.Vec3{0, 0, 0}),
		addVertex(t, m, mgl32.Vec3{1, 0, 0}),
		addVertex(t, m, mgl32.Vec3{1, 1, 0}),
		addVertex(t, m, mgl32.Vec3{0, 1, 0}),
	}
	_, err := m.AddFace(vs)
	require.NoError(t, err)
	return m, vs
}

// tetrahedron builds a closed tetrahedron with outward-oriented faces.
func tetrahedron(t *testing.T) (*Mesh, []Vertex) {
	t.Helper()
	m := NewMesh()
	vs := []Vertex{
		addVertex(t, m, mgl32.Vec3{0, 0, 0}),
		addVertex(t, m, mgl32.Vec3{1, 0, 0}),
		addVertex(t, m, mgl32.Vec3{0, 1, 0}),
		addVertex(t, m, mgl32.Vec3{0, 0, 1}),
	}
	for _, f := range [][3]Vertex{
		{vs[0], vs[2], vs[1]},
		{vs[0], vs[1], vs[3]},
		{vs[0], vs[3], vs[2]},
		{vs[1], vs[2], vs[3]},
	} {
		_, err := m.AddTriangle(f[0], f[1], f[2])
		require.NoError(t, err)
	}
	return m, vs
}

// checkInvariants verifies the core half-edge identities on all live
// entities.
func checkInvariants(t *testing.T, m *Mesh) {
	t.Helper()
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := Halfedge(hi)
		if m.HalfedgeDeleted(h) {
			continue
		}
		assert.Equal(t, h, Opposite(Opposite(h)), "opposite involution")
		assert.NotEqual(t, h, Opposite(h), "opposite is fixpoint-free")
		assert.Equal(t, h, m.NextHalfedge(m.PrevHalfedge(h)), "next(prev(h))")
		assert.Equal(t, h, m.PrevHalfedge(m.NextHalfedge(h)), "prev(next(h))")
		if f := m.HalfedgeFace(h); f.Valid() {
			assert.Equal(t, f, m.HalfedgeFace(m.NextHalfedge(h)), "face consistency along cycle")
		}
		assert.Equal(t, m.ToVertex(h), m.FromVertex(Opposite(h)))
	}
	for vi := 0; vi < m.VerticesSize(); vi++ {
		v := Vertex(vi)
		if m.VertexDeleted(v) || m.IsIsolated(v) {
			continue
		}
		// Boundary vertices keep a boundary representative.
		isBoundary := false
		require.NoError(t, m.ForEachOutgoingHalfedge(v, func(h Halfedge) bool {
			if m.IsBoundaryHalfedge(h) {
				isBoundary = true
			}
			return true
		}))
		if isBoundary {
			assert.True(t, m.IsBoundaryHalfedge(m.VertexHalfedge(v)),
				"vertex %d representative not on boundary", v)
		}
	}
}

func TestAddFace_QuadConnectivity(t *testing.T) {
	t.Parallel()

	m, vs := quadMesh(t)
	assert.Equal(t, 4, m.NumVertices())
	assert.Equal(t, 4, m.NumEdges())
	assert.Equal(t, 1, m.NumFaces())
	checkInvariants(t, m)

	cycle, err := m.FaceVertices(Face(0))
	require.NoError(t, err)
	assert.Len(t, cycle, 4)

	for _, v := range vs {
		assert.True(t, m.IsBoundaryVertex(v))
	}
}

func TestAddFace_SharedEdge(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{1, 1, 0})

	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v1, v3, v2)
	require.NoError(t, err)

	assert.Equal(t, 5, m.NumEdges())
	assert.Equal(t, 2, m.NumFaces())
	checkInvariants(t, m)

	// The diagonal v1-v2 is interior.
	diag := m.FindHalfedge(v1, v2)
	require.True(t, diag.Valid())
	assert.False(t, m.IsBoundaryEdge(EdgeOf(diag)))
}

func TestAddFace_RejectsComplexEdge(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{0, 0, 1})

	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v0, v1, v3)
	// Re-using the directed edge v0->v1 creates a non-manifold edge.
	assert.ErrorIs(t, err, geomerr.ErrTopology)
}

func TestAddFace_RejectsTooFewVertices(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	_, err := m.AddFace([]Vertex{v0, v1})
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
}

func TestTetrahedron_Closed(t *testing.T) {
	t.Parallel()

	m, vs := tetrahedron(t)
	assert.Equal(t, 4, m.NumVertices())
	assert.Equal(t, 6, m.NumEdges())
	assert.Equal(t, 4, m.NumFaces())
	checkInvariants(t, m)

	for _, v := range vs {
		assert.False(t, m.IsBoundaryVertex(v))
		val, err := m.Valence(v)
		require.NoError(t, err)
		assert.Equal(t, 3, val)
	}
}

func TestCollapse_Tetrahedron(t *testing.T) {
	t.Parallel()

	m, vs := tetrahedron(t)
	h := m.FindHalfedge(vs[0], vs[1])
	require.True(t, h.Valid())
	require.True(t, m.IsCollapseOK(h))
	require.NoError(t, m.Collapse(h))
	m.GarbageCollect()

	// Collapsing any edge of a tetrahedron leaves a single open triangle.
	assert.Equal(t, 3, m.NumVertices())
	assert.Equal(t, 3, m.NumEdges())
	assert.Equal(t, 1, m.NumFaces())
	checkInvariants(t, m)

	cycle, err := m.FaceVertices(Face(0))
	require.NoError(t, err)
	assert.Len(t, cycle, 3)
}

func TestCollapse_RejectedWhenIllegal(t *testing.T) {
	t.Parallel()

	// A single triangle: collapsing any of its edges would leave no face.
	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)

	// The lone triangle: every collapse is illegal (the two other edges of
	// the face are both boundary edges, the first check IsCollapseOK makes).
	h := m.FindHalfedge(v0, v1)
	require.True(t, h.Valid())
	assert.False(t, m.IsCollapseOK(h))
	assert.ErrorIs(t, m.Collapse(h), geomerr.ErrTopology)
}

func TestFlip(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{1, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v0, v2, v3)
	require.NoError(t, err)

	diag := EdgeOf(m.FindHalfedge(v0, v2))
	require.True(t, m.IsFlipOK(diag))
	require.NoError(t, m.Flip(diag))
	checkInvariants(t, m)

	// The diagonal now connects v1 and v3.
	assert.True(t, m.FindHalfedge(v1, v3).Valid() || m.FindHalfedge(v3, v1).Valid())
	assert.False(t, m.FindHalfedge(v0, v2).Valid())

	// Flipping a boundary edge is rejected.
	boundary := EdgeOf(m.FindHalfedge(v0, v1))
	assert.False(t, m.IsFlipOK(boundary))
	assert.ErrorIs(t, m.Flip(boundary), geomerr.ErrTopology)

	// Flipping back is legal and restores the original diagonal.
	require.True(t, m.IsFlipOK(diag))
	require.NoError(t, m.Flip(diag))
	assert.True(t, m.FindHalfedge(v0, v2).Valid())
	checkInvariants(t, m)
}

func TestSplitEdge(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{1, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v0, v2, v3)
	require.NoError(t, err)

	diag := EdgeOf(m.FindHalfedge(v0, v2))
	v, err := m.SplitEdge(diag, mgl32.Vec3{0.5, 0.5, 0})
	require.NoError(t, err)
	require.True(t, v.Valid())

	assert.Equal(t, 5, m.NumVertices())
	assert.Equal(t, 4, m.NumFaces())
	assert.Equal(t, 8, m.NumEdges())
	checkInvariants(t, m)

	val, err := m.Valence(v)
	require.NoError(t, err)
	assert.Equal(t, 4, val)
}

func TestSplitEdge_Boundary(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	_, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)

	e := EdgeOf(m.FindHalfedge(v0, v1))
	v, err := m.SplitEdge(e, mgl32.Vec3{0.5, 0, 0})
	require.NoError(t, err)
	require.True(t, v.Valid())

	assert.Equal(t, 4, m.NumVertices())
	assert.Equal(t, 2, m.NumFaces())
	checkInvariants(t, m)
}

func TestSplitFace(t *testing.T) {
	t.Parallel()

	m, _ := quadMesh(t)
	v, err := m.SplitFace(Face(0), mgl32.Vec3{0.5, 0.5, 0})
	require.NoError(t, err)
	require.True(t, v.Valid())

	assert.Equal(t, 5, m.NumVertices())
	assert.Equal(t, 4, m.NumFaces())
	assert.Equal(t, 8, m.NumEdges())
	checkInvariants(t, m)

	val, err := m.Valence(v)
	require.NoError(t, err)
	assert.Equal(t, 4, val)
}

func TestDeleteFace_RestoresBoundary(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{1, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	f0, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v0, v2, v3)
	require.NoError(t, err)

	m.DeleteFace(f0)
	assert.Equal(t, 1, m.NumFaces())
	assert.True(t, m.VertexDeleted(v1))
	m.GarbageCollect()
	assert.Equal(t, 3, m.NumVertices())
	checkInvariants(t, m)
}

func TestDeleteManyFaces_All(t *testing.T) {
	t.Parallel()

	m, _ := tetrahedron(t)
	m.DeleteManyFaces(func(Face) bool { return true })

	assert.Equal(t, 0, m.NumFaces())
	assert.Equal(t, 0, m.NumHalfedges())
	assert.Equal(t, 0, m.NumEdges())
	assert.Equal(t, 0, m.NumVertices())

	m.GarbageCollect()
	assert.True(t, m.IsEmpty())
	assert.Equal(t, 0, m.FacesSize())
}

func TestDeleteManyFaces_Partial(t *testing.T) {
	t.Parallel()

	m, vs := tetrahedron(t)
	// Keep only the base face (1, 2, 3).
	var keep Face
	for fi := 0; fi < m.FacesSize(); fi++ {
		cycle, err := m.FaceVertices(Face(fi))
		require.NoError(t, err)
		touches0 := false
		for _, v := range cycle {
			if v == vs[0] {
				touches0 = true
			}
		}
		if !touches0 {
			keep = Face(fi)
		}
	}
	m.DeleteManyFaces(func(f Face) bool { return f != keep })

	assert.Equal(t, 1, m.NumFaces())
	assert.Equal(t, 3, m.NumEdges())
	assert.Equal(t, 3, m.NumVertices())
	assert.True(t, m.VertexDeleted(vs[0]))

	m.GarbageCollect()
	checkInvariants(t, m)
}

func TestGarbageCollect_Idempotent(t *testing.T) {
	t.Parallel()

	m, vs := tetrahedron(t)
	h := m.FindHalfedge(vs[0], vs[1])
	require.NoError(t, m.Collapse(h))

	m.GarbageCollect()
	nv, ne, nf := m.NumVertices(), m.NumEdges(), m.NumFaces()
	snapshot := make([]mgl32.Vec3, nv)
	for i := 0; i < nv; i++ {
		snapshot[i] = m.Position(Vertex(i))
	}

	// A second collection immediately after the first is a no-op.
	m.GarbageCollect()
	assert.Equal(t, nv, m.NumVertices())
	assert.Equal(t, ne, m.NumEdges())
	assert.Equal(t, nf, m.NumFaces())
	for i := 0; i < nv; i++ {
		assert.Equal(t, snapshot[i], m.Position(Vertex(i)))
	}
}

func TestCirculator_DetectsCorruption(t *testing.T) {
	t.Parallel()

	m, _ := quadMesh(t)
	// Corrupt the face cycle into a two-halfedge orbit that never returns
	// to the start.
	start := m.FaceHalfedge(Face(0))
	h1 := m.NextHalfedge(start)
	h2 := m.NextHalfedge(h1)
	m.hconn.Data[h1].next = h2
	m.hconn.Data[h2].next = h1

	err := m.ForEachFaceHalfedge(Face(0), func(Halfedge) bool { return true })
	assert.ErrorIs(t, err, geomerr.ErrTopology)
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	m, vs := quadMesh(t)
	prop := AddProperty[float32](&m.VProps, "v:quality")
	require.NotNil(t, prop)
	prop.Data[vs[0]] = 0.5

	c := m.Clone()
	c.SetPosition(Vertex(0), mgl32.Vec3{9, 9, 9})
	GetProperty[float32](&c.VProps, "v:quality").Data[0] = 0.75

	assert.Equal(t, mgl32.Vec3{0, 0, 0}, m.Position(Vertex(0)))
	assert.Equal(t, float32(0.5), GetProperty[float32](&m.VProps, "v:quality").Data[0])
	assert.Equal(t, float32(0.75), GetProperty[float32](&c.VProps, "v:quality").Data[0])
}

func TestProperties(t *testing.T) {
	t.Parallel()

	m, _ := quadMesh(t)

	p := AddProperty[int](&m.FProps, "f:label")
	require.NotNil(t, p)
	assert.Len(t, p.Data, m.FacesSize())

	// Duplicate names return an invalid (nil) handle, not an error.
	assert.Nil(t, AddProperty[int](&m.FProps, "f:label"))
	assert.Nil(t, AddProperty[float64](&m.FProps, "f:label"))

	// Type-mismatched access returns an invalid handle too.
	assert.Nil(t, GetProperty[float64](&m.FProps, "f:label"))
	assert.NotNil(t, GetProperty[int](&m.FProps, "f:label"))

	m.FProps.RemoveProperty("f:label")
	assert.Nil(t, GetProperty[int](&m.FProps, "f:label"))

	// Properties grow in lockstep with the entity count.
	q := AddProperty[uint8](&m.VProps, "v:flag")
	before := len(q.Data)
	_, err := m.AddVertex(mgl32.Vec3{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, before+1, len(q.Data))
}

func TestSplitMesh(t *testing.T) {
	t.Parallel()

	m := NewMesh()
	v0 := addVertex(t, m, mgl32.Vec3{0, 0, 0})
	v1 := addVertex(t, m, mgl32.Vec3{1, 0, 0})
	v2 := addVertex(t, m, mgl32.Vec3{1, 1, 0})
	v3 := addVertex(t, m, mgl32.Vec3{0, 1, 0})
	f0, err := m.AddTriangle(v0, v1, v2)
	require.NoError(t, err)
	_, err = m.AddTriangle(v0, v2, v3)
	require.NoError(t, err)

	parts, err := m.SplitMesh(func(f Face) int {
		if f == f0 {
			return 0
		}
		return 1
	})
	require.NoError(t, err)
	require.Len(t, parts, 2)

	for _, p := range parts {
		assert.Equal(t, 1, p.NumFaces())
		// Shared vertices are duplicated into each part.
		assert.Equal(t, 3, p.NumVertices())
		checkInvariants(t, p)
	}
}

func TestJoinMesh(t *testing.T) {
	t.Parallel()

	a, _ := quadMesh(t)
	pa := AddProperty[int](&a.FProps, "f:label")
	require.NotNil(t, pa)
	pa.Data[0] = 7

	b, _ := quadMesh(t)
	pb := AddProperty[int](&b.FProps, "f:label")
	require.NotNil(t, pb)
	pb.Data[0] = 9
	// A property present only on b is dropped on join.
	require.NotNil(t, AddProperty[string](&b.FProps, "f:note"))

	require.NoError(t, a.JoinMesh(b))
	assert.Equal(t, 8, a.NumVertices())
	assert.Equal(t, 2, a.NumFaces())
	checkInvariants(t, a)

	joined := GetProperty[int](&a.FProps, "f:label")
	require.NotNil(t, joined)
	assert.Equal(t, []int{7, 9}, joined.Data)
	assert.False(t, a.FProps.HasProperty("f:note"))
}

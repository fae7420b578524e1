package hemesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// Reserved property names used by the mesh itself.
const (
	propPoint        = "v:point"
	propVertexConn   = "v:connectivity"
	propHalfedgeConn = "h:connectivity"
	propFaceConn     = "f:connectivity"
	propVertexDel    = "v:deleted"
	propEdgeDel      = "e:deleted"
	propFaceDel      = "f:deleted"
)

type vertexConn struct {
	halfedge Halfedge
}

type halfedgeConn struct {
	face   Face
	vertex Vertex // the vertex this half-edge points to
	next   Halfedge
	prev   Halfedge
}

type faceConn struct {
	halfedge Halfedge
}

// Mesh is a manifold polygon mesh over four parallel property stores, one
// per entity class, plus an object-scoped store. Positions, connectivity
// and deletion flags are themselves properties, so garbage collection and
// deep copies treat them uniformly with user data.
type Mesh struct {
	VProps PropertyStore
	HProps PropertyStore
	EProps PropertyStore
	FProps PropertyStore
	OProps PropertyStore

	points *Prop[mgl32.Vec3]
	vconn  *Prop[vertexConn]
	hconn  *Prop[halfedgeConn]
	fconn  *Prop[faceConn]
	vdel   *Prop[bool]
	edel   *Prop[bool]
	fdel   *Prop[bool]

	deletedVertices int
	deletedEdges    int
	deletedFaces    int
	hasGarbage      bool
}

// NewMesh returns an empty mesh.
func NewMesh() *Mesh {
	m := &Mesh{}
	m.points = AddProperty[mgl32.Vec3](&m.VProps, propPoint)
	m.vconn = AddProperty[vertexConn](&m.VProps, propVertexConn)
	m.hconn = AddProperty[halfedgeConn](&m.HProps, propHalfedgeConn)
	m.fconn = AddProperty[faceConn](&m.FProps, propFaceConn)
	m.vdel = AddProperty[bool](&m.VProps, propVertexDel)
	m.edel = AddProperty[bool](&m.EProps, propEdgeDel)
	m.fdel = AddProperty[bool](&m.FProps, propFaceDel)
	return m
}

// Clone deep-copies the mesh including every property array.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		VProps:          m.VProps.clone(),
		HProps:          m.HProps.clone(),
		EProps:          m.EProps.clone(),
		FProps:          m.FProps.clone(),
		OProps:          m.OProps.clone(),
		deletedVertices: m.deletedVertices,
		deletedEdges:    m.deletedEdges,
		deletedFaces:    m.deletedFaces,
		hasGarbage:      m.hasGarbage,
	}
	c.rebind()
	return c
}

// rebind refreshes the built-in property pointers after stores were
// replaced wholesale.
func (m *Mesh) rebind() {
	m.points = GetProperty[mgl32.Vec3](&m.VProps, propPoint)
	m.vconn = GetProperty[vertexConn](&m.VProps, propVertexConn)
	m.hconn = GetProperty[halfedgeConn](&m.HProps, propHalfedgeConn)
	m.fconn = GetProperty[faceConn](&m.FProps, propFaceConn)
	m.vdel = GetProperty[bool](&m.VProps, propVertexDel)
	m.edel = GetProperty[bool](&m.EProps, propEdgeDel)
	m.fdel = GetProperty[bool](&m.FProps, propFaceDel)
}

// VerticesSize returns the vertex count including deleted entries.
func (m *Mesh) VerticesSize() int { return m.VProps.Len() }

// HalfedgesSize returns the half-edge count including deleted entries.
func (m *Mesh) HalfedgesSize() int { return m.HProps.Len() }

// EdgesSize returns the edge count including deleted entries.
func (m *Mesh) EdgesSize() int { return m.EProps.Len() }

// FacesSize returns the face count including deleted entries.
func (m *Mesh) FacesSize() int { return m.FProps.Len() }

// NumVertices returns the live vertex count.
func (m *Mesh) NumVertices() int { return m.VerticesSize() - m.deletedVertices }

// NumEdges returns the live edge count.
func (m *Mesh) NumEdges() int { return m.EdgesSize() - m.deletedEdges }

// NumHalfedges returns the live half-edge count.
func (m *Mesh) NumHalfedges() int { return m.HalfedgesSize() - 2*m.deletedEdges }

// NumFaces returns the live face count.
func (m *Mesh) NumFaces() int { return m.FacesSize() - m.deletedFaces }

// IsEmpty reports whether the mesh has no live vertices.
func (m *Mesh) IsEmpty() bool { return m.NumVertices() == 0 }

// HasGarbage reports whether deleted entries await garbage collection.
func (m *Mesh) HasGarbage() bool { return m.hasGarbage }

// VertexDeleted reports whether v is marked deleted.
func (m *Mesh) VertexDeleted(v Vertex) bool { return m.vdel.Data[v] }

// EdgeDeleted reports whether e is marked deleted.
func (m *Mesh) EdgeDeleted(e Edge) bool { return m.edel.Data[e] }

// HalfedgeDeleted reports whether h's edge is marked deleted.
func (m *Mesh) HalfedgeDeleted(h Halfedge) bool { return m.edel.Data[EdgeOf(h)] }

// FaceDeleted reports whether f is marked deleted.
func (m *Mesh) FaceDeleted(f Face) bool { return m.fdel.Data[f] }

// Position returns the location of v.
func (m *Mesh) Position(v Vertex) mgl32.Vec3 { return m.points.Data[v] }

// SetPosition moves v.
func (m *Mesh) SetPosition(v Vertex, p mgl32.Vec3) { m.points.Data[v] = p }

// --- low-level connectivity -------------------------------------------------

// VertexHalfedge returns an outgoing half-edge of v, a boundary one
// whenever v lies on a boundary.
func (m *Mesh) VertexHalfedge(v Vertex) Halfedge { return m.vconn.Data[v].halfedge }

func (m *Mesh) setVertexHalfedge(v Vertex, h Halfedge) { m.vconn.Data[v].halfedge = h }

// ToVertex returns the vertex h points to.
func (m *Mesh) ToVertex(h Halfedge) Vertex { return m.hconn.Data[h].vertex }

// FromVertex returns the vertex h emanates from.
func (m *Mesh) FromVertex(h Halfedge) Vertex { return m.ToVertex(Opposite(h)) }

func (m *Mesh) setToVertex(h Halfedge, v Vertex) { m.hconn.Data[h].vertex = v }

// HalfedgeFace returns the face incident to h, invalid on boundary
// half-edges.
func (m *Mesh) HalfedgeFace(h Halfedge) Face { return m.hconn.Data[h].face }

func (m *Mesh) setHalfedgeFace(h Halfedge, f Face) { m.hconn.Data[h].face = f }

// NextHalfedge returns the next half-edge inside h's face or boundary loop.
func (m *Mesh) NextHalfedge(h Halfedge) Halfedge { return m.hconn.Data[h].next }

// PrevHalfedge returns the previous half-edge inside h's face or boundary
// loop.
func (m *Mesh) PrevHalfedge(h Halfedge) Halfedge { return m.hconn.Data[h].prev }

func (m *Mesh) setNextHalfedge(h, nh Halfedge) {
	m.hconn.Data[h].next = nh
	m.hconn.Data[nh].prev = h
}

// FaceHalfedge returns a half-edge on f's boundary cycle.
func (m *Mesh) FaceHalfedge(f Face) Halfedge { return m.fconn.Data[f].halfedge }

func (m *Mesh) setFaceHalfedge(f Face, h Halfedge) { m.fconn.Data[f].halfedge = h }

// CWRotated returns the next outgoing half-edge clockwise around h's
// from-vertex.
func (m *Mesh) CWRotated(h Halfedge) Halfedge { return m.NextHalfedge(Opposite(h)) }

// CCWRotated returns the next outgoing half-edge counterclockwise around
// h's from-vertex.
func (m *Mesh) CCWRotated(h Halfedge) Halfedge { return Opposite(m.PrevHalfedge(h)) }

// IsBoundaryHalfedge reports whether h has no incident face.
func (m *Mesh) IsBoundaryHalfedge(h Halfedge) bool { return !m.HalfedgeFace(h).Valid() }

// IsBoundaryEdge reports whether either half-edge of e is a boundary.
func (m *Mesh) IsBoundaryEdge(e Edge) bool {
	return m.IsBoundaryHalfedge(HalfedgeOf(e, 0)) || m.IsBoundaryHalfedge(HalfedgeOf(e, 1))
}

// IsBoundaryVertex reports whether v lies on a boundary. The vertex's
// representative half-edge is kept on the boundary whenever one exists, so
// this is O(1).
func (m *Mesh) IsBoundaryVertex(v Vertex) bool {
	h := m.VertexHalfedge(v)
	return !(h.Valid() && m.HalfedgeFace(h).Valid())
}

// IsIsolated reports whether v has no incident edge.
func (m *Mesh) IsIsolated(v Vertex) bool { return !m.VertexHalfedge(v).Valid() }

// --- allocation -------------------------------------------------------------

// AddVertex appends a vertex at p.
func (m *Mesh) AddVertex(p mgl32.Vec3) (Vertex, error) {
	if m.VerticesSize() >= MaxIndex {
		return InvalidVertex, fmt.Errorf("hemesh: vertex handles exhausted: %w", geomerr.ErrAllocation)
	}
	m.VProps.push()
	v := Vertex(m.VerticesSize() - 1)
	m.vconn.Data[v].halfedge = InvalidHalfedge
	return v, nil
}

// newEdge allocates a coupled half-edge pair from start to end and returns
// the start→end half-edge.
func (m *Mesh) newEdge(start, end Vertex) (Halfedge, error) {
	if m.EdgesSize() >= MaxIndex/2 {
		return InvalidHalfedge, fmt.Errorf("hemesh: edge handles exhausted: %w", geomerr.ErrAllocation)
	}
	m.EProps.push()
	m.HProps.push()
	m.HProps.push()

	h0 := Halfedge(m.HalfedgesSize() - 2)
	h1 := Halfedge(m.HalfedgesSize() - 1)

	m.hconn.Data[h0] = halfedgeConn{face: InvalidFace, vertex: end, next: InvalidHalfedge, prev: InvalidHalfedge}
	m.hconn.Data[h1] = halfedgeConn{face: InvalidFace, vertex: start, next: InvalidHalfedge, prev: InvalidHalfedge}
	return h0, nil
}

func (m *Mesh) newFace() (Face, error) {
	if m.FacesSize() >= MaxIndex {
		return InvalidFace, fmt.Errorf("hemesh: face handles exhausted: %w", geomerr.ErrAllocation)
	}
	m.FProps.push()
	f := Face(m.FacesSize() - 1)
	m.fconn.Data[f].halfedge = InvalidHalfedge
	return f, nil
}

// FindHalfedge returns the half-edge from start to end, if the edge exists.
func (m *Mesh) FindHalfedge(start, end Vertex) Halfedge {
	h := m.VertexHalfedge(start)
	if !h.Valid() {
		return InvalidHalfedge
	}
	hh := h
	for {
		if m.ToVertex(h) == end {
			return h
		}
		h = m.CWRotated(h)
		if h == hh {
			return InvalidHalfedge
		}
	}
}

// adjustOutgoingHalfedge rotates v's representative half-edge onto the
// boundary if v is a boundary vertex.
func (m *Mesh) adjustOutgoingHalfedge(v Vertex) {
	h := m.VertexHalfedge(v)
	if !h.Valid() {
		return
	}
	hh := h
	for {
		if m.IsBoundaryHalfedge(h) {
			m.setVertexHalfedge(v, h)
			return
		}
		h = m.CWRotated(h)
		if h == hh {
			return
		}
	}
}

// AddTriangle is AddFace for three vertices.
func (m *Mesh) AddTriangle(v0, v1, v2 Vertex) (Face, error) {
	return m.AddFace([]Vertex{v0, v1, v2})
}

// AddFace connects the given vertex cycle into a new face, creating the
// missing edges and relinking boundary patches. Configurations that would
// become non-manifold (complex vertices or edges, unlinkable patches) fail
// with ErrTopology and leave the mesh unchanged.
func (m *Mesh) AddFace(vertices []Vertex) (Face, error) {
	n := len(vertices)
	if n < 3 {
		return InvalidFace, fmt.Errorf("hemesh: face needs >= 3 vertices, got %d: %w",
			n, geomerr.ErrInvalidArgument)
	}

	halfedges := make([]Halfedge, n)
	isNew := make([]bool, n)
	needsAdjust := make([]bool, n)
	type nextPair struct{ a, b Halfedge }
	nextCache := make([]nextPair, 0, 3*n)

	// Topology checks: every vertex must be on the boundary, every reused
	// edge must be a boundary edge.
	for i := 0; i < n; i++ {
		ii := (i + 1) % n
		if !m.IsBoundaryVertex(vertices[i]) {
			return InvalidFace, fmt.Errorf("hemesh: add face: complex vertex %d: %w",
				vertices[i], geomerr.ErrTopology)
		}
		halfedges[i] = m.FindHalfedge(vertices[i], vertices[ii])
		isNew[i] = !halfedges[i].Valid()
		if !isNew[i] && !m.IsBoundaryHalfedge(halfedges[i]) {
			return InvalidFace, fmt.Errorf("hemesh: add face: complex edge %d-%d: %w",
				vertices[i], vertices[ii], geomerr.ErrTopology)
		}
	}

	// Re-link boundary patches between consecutive existing half-edges.
	for i := 0; i < n; i++ {
		ii := (i + 1) % n
		if isNew[i] || isNew[ii] {
			continue
		}
		innerPrev := halfedges[i]
		innerNext := halfedges[ii]
		if m.NextHalfedge(innerPrev) == innerNext {
			continue
		}

		// Search a free boundary gap to move the in-between patch to.
		outerPrev := Opposite(innerNext)
		boundaryPrev := outerPrev
		for {
			boundaryPrev = Opposite(m.NextHalfedge(boundaryPrev))
			if m.IsBoundaryHalfedge(boundaryPrev) && boundaryPrev != innerPrev {
				break
			}
			if boundaryPrev == outerPrev {
				return InvalidFace, fmt.Errorf("hemesh: add face: patch re-linking failed: %w",
					geomerr.ErrTopology)
			}
		}
		boundaryNext := m.NextHalfedge(boundaryPrev)
		if boundaryNext == innerNext {
			return InvalidFace, fmt.Errorf("hemesh: add face: patch re-linking failed: %w",
				geomerr.ErrTopology)
		}

		patchStart := m.NextHalfedge(innerPrev)
		patchEnd := m.PrevHalfedge(innerNext)
		nextCache = append(nextCache,
			nextPair{boundaryPrev, patchStart},
			nextPair{patchEnd, boundaryNext},
			nextPair{innerPrev, innerNext},
		)
	}

	// Create missing edges.
	for i := 0; i < n; i++ {
		if isNew[i] {
			h, err := m.newEdge(vertices[i], vertices[(i+1)%n])
			if err != nil {
				return InvalidFace, err
			}
			halfedges[i] = h
		}
	}

	f, err := m.newFace()
	if err != nil {
		return InvalidFace, err
	}
	m.setFaceHalfedge(f, halfedges[n-1])

	// Set up half-edge links around the new face.
	for i := 0; i < n; i++ {
		ii := (i + 1) % n
		v := vertices[ii]
		innerPrev := halfedges[i]
		innerNext := halfedges[ii]

		id := 0
		if isNew[i] {
			id |= 1
		}
		if isNew[ii] {
			id |= 2
		}

		if id != 0 {
			outerPrev := Opposite(innerNext)
			outerNext := Opposite(innerPrev)

			switch id {
			case 1: // prev is new, next is old
				boundaryPrev := m.PrevHalfedge(innerNext)
				nextCache = append(nextCache, nextPair{boundaryPrev, outerNext})
				m.setVertexHalfedge(v, outerNext)
			case 2: // next is new, prev is old
				boundaryNext := m.NextHalfedge(innerPrev)
				nextCache = append(nextCache, nextPair{outerPrev, boundaryNext})
				m.setVertexHalfedge(v, boundaryNext)
			case 3: // both are new
				if !m.VertexHalfedge(v).Valid() {
					m.setVertexHalfedge(v, outerNext)
					nextCache = append(nextCache, nextPair{outerPrev, outerNext})
				} else {
					boundaryNext := m.VertexHalfedge(v)
					boundaryPrev := m.PrevHalfedge(boundaryNext)
					nextCache = append(nextCache,
						nextPair{boundaryPrev, outerNext},
						nextPair{outerPrev, boundaryNext},
					)
				}
			}
			nextCache = append(nextCache, nextPair{innerPrev, innerNext})
		} else {
			needsAdjust[ii] = m.VertexHalfedge(v) == innerNext
		}

		m.setHalfedgeFace(halfedges[i], f)
	}

	for _, p := range nextCache {
		m.setNextHalfedge(p.a, p.b)
	}
	for i := 0; i < n; i++ {
		if needsAdjust[i] {
			m.adjustOutgoingHalfedge(vertices[i])
		}
	}
	return f, nil
}

// Valence returns the number of edges incident to v.
func (m *Mesh) Valence(v Vertex) (int, error) {
	count := 0
	err := m.ForEachVertexVertex(v, func(Vertex) bool {
		count++
		return true
	})
	return count, err
}

// FaceValence returns the number of vertices of f.
func (m *Mesh) FaceValence(f Face) (int, error) {
	count := 0
	err := m.ForEachFaceVertex(f, func(Vertex) bool {
		count++
		return true
	})
	return count, err
}

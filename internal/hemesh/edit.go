package hemesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// IsCollapseOK reports whether fusing from(h) into to(h) keeps the mesh
// manifold: no non-manifold edges, no merged boundary loops, and no
// intersecting one-rings beyond the shared triangle corners.
func (m *Mesh) IsCollapseOK(h Halfedge) bool {
	v0v1 := h
	v1v0 := Opposite(h)
	v0 := m.ToVertex(v1v0)
	v1 := m.ToVertex(v0v1)

	vl, vr := InvalidVertex, InvalidVertex

	// The edges v1-vl and vl-v0 must not both be boundary edges.
	if !m.IsBoundaryHalfedge(v0v1) {
		h1 := m.NextHalfedge(v0v1)
		vl = m.ToVertex(h1)
		h2 := m.NextHalfedge(h1)
		if m.IsBoundaryHalfedge(Opposite(h1)) && m.IsBoundaryHalfedge(Opposite(h2)) {
			return false
		}
	}

	// The edges v0-vr and vr-v1 must not both be boundary edges.
	if !m.IsBoundaryHalfedge(v1v0) {
		h1 := m.NextHalfedge(v1v0)
		vr = m.ToVertex(h1)
		h2 := m.NextHalfedge(h1)
		if m.IsBoundaryHalfedge(Opposite(h1)) && m.IsBoundaryHalfedge(Opposite(h2)) {
			return false
		}
	}

	// vl == vr means either a degenerate two-triangle pocket or an
	// isolated edge.
	if vl == vr {
		return false
	}

	// An interior edge between two boundary vertices would merge two
	// boundary loops.
	if m.IsBoundaryVertex(v0) && m.IsBoundaryVertex(v1) &&
		!m.IsBoundaryHalfedge(v0v1) && !m.IsBoundaryHalfedge(v1v0) {
		return false
	}

	// One-ring intersection test: any vertex adjacent to both v0 and v1
	// other than vl/vr creates a non-manifold edge.
	ok := true
	_ = m.ForEachVertexVertex(v0, func(vv Vertex) bool {
		if vv != v1 && vv != vl && vv != vr && m.FindHalfedge(vv, v1).Valid() {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// Collapse fuses from(h) into to(h), removing one vertex, the collapsed
// edge and up to two degenerate faces. Callers must check IsCollapseOK
// first; an illegal collapse is rejected with ErrTopology. Deleted entities
// linger until GarbageCollect.
func (m *Mesh) Collapse(h Halfedge) error {
	if !m.IsCollapseOK(h) {
		return fmt.Errorf("hemesh: collapse of halfedge %d rejected: %w", h, geomerr.ErrTopology)
	}

	h0 := h
	h1 := m.PrevHalfedge(h0)
	o0 := Opposite(h0)
	o1 := m.NextHalfedge(o0)

	vh := m.ToVertex(h0)

	m.removeEdge(h0)
	if m.NextHalfedge(m.NextHalfedge(h1)) == h1 {
		m.removeLoop(h1)
	}
	if m.NextHalfedge(m.NextHalfedge(o1)) == o1 {
		m.removeLoop(o1)
	}
	m.removePillow(vh)
	return nil
}

// removePillow opens up a degenerate two-face pocket around v: two
// triangles sharing all three edges, as left by collapsing a tetrahedron
// down to its last two faces. One of the faces is deleted so a plain
// triangle remains.
func (m *Mesh) removePillow(v Vertex) {
	if m.vdel.Data[v] || m.IsIsolated(v) {
		return
	}
	pocket := InvalidFace
	_ = m.ForEachOutgoingHalfedge(v, func(h Halfedge) bool {
		f1 := m.HalfedgeFace(h)
		f2 := m.HalfedgeFace(Opposite(h))
		if !f1.Valid() || !f2.Valid() {
			return true
		}
		// Same undirected vertex set on both sides means a pocket.
		s1, err1 := m.FaceVertices(f1)
		s2, err2 := m.FaceVertices(f2)
		if err1 != nil || err2 != nil || len(s1) != 3 || len(s2) != 3 {
			return true
		}
		match := 0
		for _, a := range s1 {
			for _, b := range s2 {
				if a == b {
					match++
				}
			}
		}
		if match == 3 {
			pocket = f2
			return false
		}
		return true
	})
	if pocket.Valid() {
		m.DeleteFace(pocket)
	}
}

// removeEdge rewires the mesh so h's from-vertex disappears into its
// to-vertex, then marks the edge and vertex deleted.
func (m *Mesh) removeEdge(h Halfedge) {
	hn := m.NextHalfedge(h)
	hp := m.PrevHalfedge(h)
	o := Opposite(h)
	on := m.NextHalfedge(o)
	op := m.PrevHalfedge(o)
	fh := m.HalfedgeFace(h)
	fo := m.HalfedgeFace(o)
	vh := m.ToVertex(h)
	vo := m.ToVertex(o)

	// Point all half-edges into vo at vh instead.
	start := m.VertexHalfedge(vo)
	hh := start
	for {
		m.setToVertex(Opposite(hh), vh)
		hh = m.CWRotated(hh)
		if hh == start {
			break
		}
	}

	m.setNextHalfedge(hp, hn)
	m.setNextHalfedge(op, on)

	if fh.Valid() {
		m.setFaceHalfedge(fh, hn)
	}
	if fo.Valid() {
		m.setFaceHalfedge(fo, on)
	}

	if m.VertexHalfedge(vh) == o {
		m.setVertexHalfedge(vh, hn)
	}
	m.adjustOutgoingHalfedge(vh)
	m.setVertexHalfedge(vo, InvalidHalfedge)

	m.vdel.Data[vo] = true
	m.deletedVertices++
	m.edel.Data[EdgeOf(h)] = true
	m.deletedEdges++
	m.hasGarbage = true
}

// removeLoop collapses a two-edge face loop left over after an edge
// collapse.
func (m *Mesh) removeLoop(h Halfedge) {
	h0 := h
	h1 := m.NextHalfedge(h0)
	o0 := Opposite(h0)
	o1 := Opposite(h1)
	v0 := m.ToVertex(h0)
	v1 := m.ToVertex(h1)
	fh := m.HalfedgeFace(h0)
	fo := m.HalfedgeFace(o0)

	m.setNextHalfedge(h1, m.NextHalfedge(o0))
	m.setNextHalfedge(m.PrevHalfedge(o0), h1)
	m.setHalfedgeFace(h1, fo)

	m.setVertexHalfedge(v0, h1)
	m.adjustOutgoingHalfedge(v0)
	m.setVertexHalfedge(v1, o1)
	m.adjustOutgoingHalfedge(v1)

	if fo.Valid() {
		m.setFaceHalfedge(fo, h1)
	}

	if fh.Valid() {
		m.fdel.Data[fh] = true
		m.deletedFaces++
	}
	m.edel.Data[EdgeOf(h0)] = true
	m.deletedEdges++
	m.hasGarbage = true
}

// IsFlipOK reports whether e's diagonal can be rotated: e must be interior
// and the flipped edge must not already exist.
func (m *Mesh) IsFlipOK(e Edge) bool {
	if m.IsBoundaryEdge(e) {
		return false
	}
	h0 := HalfedgeOf(e, 0)
	h1 := HalfedgeOf(e, 1)
	v0 := m.ToVertex(m.NextHalfedge(h0))
	v1 := m.ToVertex(m.NextHalfedge(h1))
	if v0 == v1 {
		return false
	}
	return !m.FindHalfedge(v0, v1).Valid()
}

// Flip rotates the diagonal of the two triangles incident to e. Illegal
// flips are rejected with ErrTopology.
func (m *Mesh) Flip(e Edge) error {
	if !m.IsFlipOK(e) {
		return fmt.Errorf("hemesh: flip of edge %d rejected: %w", e, geomerr.ErrTopology)
	}

	a0 := HalfedgeOf(e, 0)
	b0 := HalfedgeOf(e, 1)
	a1 := m.NextHalfedge(a0)
	a2 := m.NextHalfedge(a1)
	b1 := m.NextHalfedge(b0)
	b2 := m.NextHalfedge(b1)

	va0 := m.ToVertex(a0)
	va1 := m.ToVertex(a1)
	vb0 := m.ToVertex(b0)
	vb1 := m.ToVertex(b1)

	fa := m.HalfedgeFace(a0)
	fb := m.HalfedgeFace(b0)

	m.setToVertex(a0, va1)
	m.setToVertex(b0, vb1)

	m.setNextHalfedge(a0, a2)
	m.setNextHalfedge(a2, b1)
	m.setNextHalfedge(b1, a0)

	m.setNextHalfedge(b0, b2)
	m.setNextHalfedge(b2, a1)
	m.setNextHalfedge(a1, b0)

	m.setHalfedgeFace(a1, fb)
	m.setHalfedgeFace(b1, fa)

	m.setFaceHalfedge(fa, a0)
	m.setFaceHalfedge(fb, b0)

	if m.VertexHalfedge(va0) == b0 {
		m.setVertexHalfedge(va0, a1)
	}
	if m.VertexHalfedge(vb0) == a0 {
		m.setVertexHalfedge(vb0, b1)
	}
	return nil
}

// SplitEdge inserts a vertex at p on e and retriangulates the incident
// faces by connecting p to the opposite vertices. Returns the new vertex.
func (m *Mesh) SplitEdge(e Edge, p mgl32.Vec3) (Vertex, error) {
	v, err := m.AddVertex(p)
	if err != nil {
		return InvalidVertex, err
	}

	h0 := HalfedgeOf(e, 0)
	o0 := HalfedgeOf(e, 1)
	v2 := m.ToVertex(o0)

	e1, err := m.newEdge(v, v2)
	if err != nil {
		return InvalidVertex, err
	}
	t1 := Opposite(e1)
	f0 := m.HalfedgeFace(h0)
	f3 := m.HalfedgeFace(o0)

	m.setVertexHalfedge(v, h0)
	m.setToVertex(o0, v)

	if !m.IsBoundaryHalfedge(h0) {
		h1 := m.NextHalfedge(h0)
		h2 := m.NextHalfedge(h1)
		v1 := m.ToVertex(h1)

		e0, err := m.newEdge(v, v1)
		if err != nil {
			return InvalidVertex, err
		}
		t0 := Opposite(e0)

		f1, err := m.newFace()
		if err != nil {
			return InvalidVertex, err
		}
		m.setFaceHalfedge(f0, h0)
		m.setFaceHalfedge(f1, h2)

		m.setHalfedgeFace(h1, f0)
		m.setHalfedgeFace(t0, f0)
		m.setHalfedgeFace(h0, f0)

		m.setHalfedgeFace(h2, f1)
		m.setHalfedgeFace(t1, f1)
		m.setHalfedgeFace(e0, f1)

		m.setNextHalfedge(h0, h1)
		m.setNextHalfedge(h1, t0)
		m.setNextHalfedge(t0, h0)

		m.setNextHalfedge(e0, h2)
		m.setNextHalfedge(h2, t1)
		m.setNextHalfedge(t1, e0)
	} else {
		m.setNextHalfedge(m.PrevHalfedge(h0), t1)
		m.setNextHalfedge(t1, h0)
	}

	if !m.IsBoundaryHalfedge(o0) {
		o1 := m.NextHalfedge(o0)
		o2 := m.NextHalfedge(o1)
		v3 := m.ToVertex(o1)

		e2, err := m.newEdge(v, v3)
		if err != nil {
			return InvalidVertex, err
		}
		t2 := Opposite(e2)

		f2, err := m.newFace()
		if err != nil {
			return InvalidVertex, err
		}
		m.setFaceHalfedge(f2, o1)
		m.setFaceHalfedge(f3, o0)

		m.setHalfedgeFace(o1, f2)
		m.setHalfedgeFace(t2, f2)
		m.setHalfedgeFace(e1, f2)

		m.setHalfedgeFace(o2, f3)
		m.setHalfedgeFace(o0, f3)
		m.setHalfedgeFace(e2, f3)

		m.setNextHalfedge(e1, o1)
		m.setNextHalfedge(o1, t2)
		m.setNextHalfedge(t2, e1)

		m.setNextHalfedge(o0, e2)
		m.setNextHalfedge(e2, o2)
		m.setNextHalfedge(o2, o0)
	} else {
		m.setNextHalfedge(e1, m.NextHalfedge(o0))
		m.setNextHalfedge(o0, e1)
		m.setVertexHalfedge(v, e1)
	}

	if m.VertexHalfedge(v2) == h0 {
		m.setVertexHalfedge(v2, t1)
	}
	return v, nil
}

// SplitFace inserts a vertex at p inside f and fans f into triangles
// connecting every boundary vertex to it. Returns the new vertex.
func (m *Mesh) SplitFace(f Face, p mgl32.Vec3) (Vertex, error) {
	v, err := m.AddVertex(p)
	if err != nil {
		return InvalidVertex, err
	}

	hend := m.FaceHalfedge(f)
	h := m.NextHalfedge(hend)

	hold, err := m.newEdge(m.ToVertex(hend), v)
	if err != nil {
		return InvalidVertex, err
	}
	m.setNextHalfedge(hend, hold)
	m.setHalfedgeFace(hold, f)
	hold = Opposite(hold)

	for h != hend {
		hnext := m.NextHalfedge(h)

		fnew, err := m.newFace()
		if err != nil {
			return InvalidVertex, err
		}
		m.setFaceHalfedge(fnew, h)

		hnew, err := m.newEdge(m.ToVertex(h), v)
		if err != nil {
			return InvalidVertex, err
		}
		m.setNextHalfedge(hnew, hold)
		m.setNextHalfedge(hold, h)
		m.setNextHalfedge(h, hnew)

		m.setHalfedgeFace(hnew, fnew)
		m.setHalfedgeFace(hold, fnew)
		m.setHalfedgeFace(h, fnew)

		hold = Opposite(hnew)
		h = hnext
	}

	m.setNextHalfedge(hold, hend)
	m.setNextHalfedge(m.NextHalfedge(hend), hold)
	m.setHalfedgeFace(hold, f)
	m.setVertexHalfedge(v, hold)
	return v, nil
}

// DeleteVertex deletes v and every face incident to it.
func (m *Mesh) DeleteVertex(v Vertex) {
	if m.vdel.Data[v] {
		return
	}
	var faces []Face
	_ = m.ForEachVertexFace(v, func(f Face) bool {
		faces = append(faces, f)
		return true
	})
	for _, f := range faces {
		m.DeleteFace(f)
	}
	if !m.vdel.Data[v] {
		m.vdel.Data[v] = true
		m.deletedVertices++
		m.hasGarbage = true
	}
}

// DeleteEdge deletes e by deleting its incident faces.
func (m *Mesh) DeleteEdge(e Edge) {
	if m.edel.Data[e] {
		return
	}
	if f := m.HalfedgeFace(HalfedgeOf(e, 0)); f.Valid() {
		m.DeleteFace(f)
	}
	if f := m.HalfedgeFace(HalfedgeOf(e, 1)); f.Valid() {
		m.DeleteFace(f)
	}
	// An isolated edge has no face to cascade through; drop it directly.
	if !m.edel.Data[e] {
		m.deleteBareEdge(e)
	}
}

// deleteBareEdge unlinks an edge that has no incident faces left.
func (m *Mesh) deleteBareEdge(e Edge) {
	h0 := HalfedgeOf(e, 0)
	h1 := HalfedgeOf(e, 1)
	v0 := m.ToVertex(h0)
	v1 := m.ToVertex(h1)

	next0 := m.NextHalfedge(h0)
	prev0 := m.PrevHalfedge(h0)
	next1 := m.NextHalfedge(h1)
	prev1 := m.PrevHalfedge(h1)

	m.setNextHalfedge(prev0, next1)
	m.setNextHalfedge(prev1, next0)

	m.edel.Data[e] = true
	m.deletedEdges++
	m.hasGarbage = true

	if m.VertexHalfedge(v0) == h1 {
		if next0 == h1 {
			m.setVertexHalfedge(v0, InvalidHalfedge)
			if !m.vdel.Data[v0] {
				m.vdel.Data[v0] = true
				m.deletedVertices++
			}
		} else {
			m.setVertexHalfedge(v0, next0)
		}
	}
	if m.VertexHalfedge(v1) == h0 {
		if next1 == h0 {
			m.setVertexHalfedge(v1, InvalidHalfedge)
			if !m.vdel.Data[v1] {
				m.vdel.Data[v1] = true
				m.deletedVertices++
			}
		} else {
			m.setVertexHalfedge(v1, next1)
		}
	}
}

// DeleteFace marks f deleted, drops edges left without faces, removes
// now-isolated vertices and restores boundary links around the hole.
func (m *Mesh) DeleteFace(f Face) {
	if m.fdel.Data[f] {
		return
	}
	m.fdel.Data[f] = true
	m.deletedFaces++
	m.hasGarbage = true

	var deletedEdges []Edge
	var vertices []Vertex
	_ = m.ForEachFaceHalfedge(f, func(h Halfedge) bool {
		m.setHalfedgeFace(h, InvalidFace)
		if m.IsBoundaryHalfedge(Opposite(h)) {
			deletedEdges = append(deletedEdges, EdgeOf(h))
		}
		vertices = append(vertices, m.ToVertex(h))
		return true
	})

	for _, e := range deletedEdges {
		if !m.edel.Data[e] {
			m.deleteBareEdge(e)
		}
	}
	for _, v := range vertices {
		if !m.vdel.Data[v] {
			m.adjustOutgoingHalfedge(v)
		}
	}
}

// ReviveVertex clears the deleted flag of v, keeping its position and user
// properties. Used by region rebuilds (retesselation) that delete a patch
// and stitch new faces over its old boundary vertices.
func (m *Mesh) ReviveVertex(v Vertex) {
	if !m.vdel.Data[v] {
		return
	}
	m.vdel.Data[v] = false
	m.deletedVertices--
	m.setVertexHalfedge(v, InvalidHalfedge)
}

// DeleteManyFaces deletes every face the mask selects, restoring boundary
// consistency once at the end instead of per face. For large masks this is
// considerably cheaper than repeated DeleteFace calls.
func (m *Mesh) DeleteManyFaces(mask func(Face) bool) {
	// Pass 1: mark faces and detach their half-edges.
	any := false
	for fi := 0; fi < m.FacesSize(); fi++ {
		f := Face(fi)
		if m.fdel.Data[f] || !mask(f) {
			continue
		}
		any = true
		m.fdel.Data[f] = true
		m.deletedFaces++
		_ = m.ForEachFaceHalfedge(f, func(h Halfedge) bool {
			m.setHalfedgeFace(h, InvalidFace)
			return true
		})
	}
	if !any {
		return
	}
	m.hasGarbage = true

	// Pass 2: edges with no face on either side die.
	for ei := 0; ei < m.EdgesSize(); ei++ {
		e := Edge(ei)
		if m.edel.Data[e] {
			continue
		}
		if !m.HalfedgeFace(HalfedgeOf(e, 0)).Valid() && !m.HalfedgeFace(HalfedgeOf(e, 1)).Valid() {
			m.edel.Data[e] = true
			m.deletedEdges++
		}
	}

	// Pass 3: recompute boundary next-links for surviving boundary
	// half-edges using the old connectivity, then apply in one go.
	type link struct{ from, to Halfedge }
	var links []link
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := Halfedge(hi)
		if m.edel.Data[EdgeOf(h)] || !m.IsBoundaryHalfedge(h) {
			continue
		}
		// Rotate clockwise around to(h) from the opposite half-edge to
		// the first surviving boundary half-edge.
		g := Opposite(h)
		var guard loopGuard
		for {
			if !m.edel.Data[EdgeOf(g)] && m.IsBoundaryHalfedge(g) {
				links = append(links, link{h, g})
				break
			}
			g = m.CWRotated(g)
			if g == Opposite(h) {
				break
			}
			if err := guard.step(g); err != nil {
				break
			}
		}
	}
	for _, l := range links {
		m.setNextHalfedge(l.from, l.to)
	}

	// Pass 4: rebuild vertex representatives from surviving half-edges;
	// vertices without any die.
	for vi := 0; vi < m.VerticesSize(); vi++ {
		if !m.vdel.Data[vi] {
			m.vconn.Data[vi].halfedge = InvalidHalfedge
		}
	}
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := Halfedge(hi)
		if m.edel.Data[EdgeOf(h)] {
			continue
		}
		v := m.FromVertex(h)
		cur := m.vconn.Data[v].halfedge
		if !cur.Valid() || (m.IsBoundaryHalfedge(h) && !m.IsBoundaryHalfedge(cur)) {
			m.vconn.Data[v].halfedge = h
		}
	}
	for vi := 0; vi < m.VerticesSize(); vi++ {
		v := Vertex(vi)
		if !m.vdel.Data[v] && !m.vconn.Data[v].halfedge.Valid() {
			m.vdel.Data[v] = true
			m.deletedVertices++
		}
	}
}

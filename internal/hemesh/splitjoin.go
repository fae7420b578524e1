package hemesh

import (
	"fmt"
	"sort"

	"github.com/banshee-data/surface.report/internal/monitoring"
)

// SplitMesh partitions the mesh's faces by an integer label and returns one
// mesh per label, ordered by ascending label. Vertices shared between parts
// are duplicated into each part that uses them; user properties are not
// carried over.
func (m *Mesh) SplitMesh(faceLabel func(Face) int) ([]*Mesh, error) {
	type part struct {
		mesh     *Mesh
		vertexOf map[Vertex]Vertex
	}
	parts := map[int]*part{}
	var labels []int

	for fi := 0; fi < m.FacesSize(); fi++ {
		f := Face(fi)
		if m.fdel.Data[f] {
			continue
		}
		label := faceLabel(f)
		p, ok := parts[label]
		if !ok {
			p = &part{mesh: NewMesh(), vertexOf: map[Vertex]Vertex{}}
			parts[label] = p
			labels = append(labels, label)
		}

		cycle, err := m.FaceVertices(f)
		if err != nil {
			return nil, err
		}
		local := make([]Vertex, len(cycle))
		for i, v := range cycle {
			lv, dup := p.vertexOf[v]
			if !dup {
				lv, err = p.mesh.AddVertex(m.Position(v))
				if err != nil {
					return nil, err
				}
				p.vertexOf[v] = lv
			}
			local[i] = lv
		}
		if _, err := p.mesh.AddFace(local); err != nil {
			return nil, err
		}
	}

	sort.Ints(labels)
	out := make([]*Mesh, len(labels))
	for i, label := range labels {
		out[i] = parts[label].mesh
	}
	return out, nil
}

// JoinMesh merges other into m, renumbering other's handles past m's
// current counts. Property arrays whose name and element type match are
// concatenated. Arrays of m without such a match in other are kept and
// padded with zero values; arrays of other without such a match in m are
// dropped with a diagnostic. Both meshes must be
// garbage-free so handle offsets stay dense.
func (m *Mesh) JoinMesh(other *Mesh) error {
	if m.hasGarbage || other.hasGarbage {
		return fmt.Errorf("hemesh: join requires garbage-collected meshes")
	}

	vOffset := Vertex(m.VerticesSize())
	hOffset := Halfedge(m.HalfedgesSize())
	fOffset := Face(m.FacesSize())

	offH := func(h Halfedge) Halfedge {
		if !h.Valid() {
			return h
		}
		return h + hOffset
	}

	for _, dropped := range [][]string{
		m.VProps.concatMatching(&other.VProps),
		m.HProps.concatMatching(&other.HProps),
		m.EProps.concatMatching(&other.EProps),
		m.FProps.concatMatching(&other.FProps),
	} {
		for _, name := range dropped {
			monitoring.Logf("hemesh: join dropped property %q (no matching name+type)", name)
		}
	}

	// The concat above copied other's connectivity verbatim; shift the
	// appended range into m's handle space.
	for i := int(vOffset); i < m.VerticesSize(); i++ {
		c := &m.vconn.Data[i]
		c.halfedge = offH(c.halfedge)
	}
	for i := int(hOffset); i < m.HalfedgesSize(); i++ {
		c := &m.hconn.Data[i]
		c.vertex += vOffset
		c.next = offH(c.next)
		c.prev = offH(c.prev)
		if c.face.Valid() {
			c.face += fOffset
		}
	}
	for i := int(fOffset); i < m.FacesSize(); i++ {
		c := &m.fconn.Data[i]
		c.halfedge = offH(c.halfedge)
	}
	return nil
}

// JoinMeshes merges all meshes into a fresh one.
func JoinMeshes(meshes []*Mesh) (*Mesh, error) {
	out := NewMesh()
	for _, other := range meshes {
		if err := out.JoinMesh(other); err != nil {
			return nil, err
		}
	}
	return out, nil
}

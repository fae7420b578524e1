package hemesh

// GarbageCollect compacts all entity arrays by swapping deleted entries to
// the back, renumbers handles and rewrites connectivity. Outstanding
// handles held by callers become invalid. Immediately repeating the call is
// a no-op.
func (m *Mesh) GarbageCollect() {
	if !m.hasGarbage {
		return
	}

	nv := m.VerticesSize()
	ne := m.EdgesSize()
	nh := m.HalfedgesSize()
	nf := m.FacesSize()

	// Handle remapping tables, identity to start with.
	vmap := make([]Vertex, nv)
	for i := range vmap {
		vmap[i] = Vertex(i)
	}
	hmap := make([]Halfedge, nh)
	for i := range hmap {
		hmap[i] = Halfedge(i)
	}
	fmap := make([]Face, nf)
	for i := range fmap {
		fmap[i] = Face(i)
	}

	// Compact vertices.
	if nv > 0 {
		i0, i1 := 0, nv-1
		for {
			for !m.vdel.Data[i0] && i0 < i1 {
				i0++
			}
			for m.vdel.Data[i1] && i0 < i1 {
				i1--
			}
			if i0 >= i1 {
				break
			}
			m.VProps.swap(i0, i1)
			vmap[i0], vmap[i1] = vmap[i1], vmap[i0]
		}
		if m.vdel.Data[i0] {
			nv = i0
		} else {
			nv = i0 + 1
		}
	}

	// Compact edges; each edge swap carries its two half-edges.
	if ne > 0 {
		i0, i1 := 0, ne-1
		for {
			for !m.edel.Data[i0] && i0 < i1 {
				i0++
			}
			for m.edel.Data[i1] && i0 < i1 {
				i1--
			}
			if i0 >= i1 {
				break
			}
			m.EProps.swap(i0, i1)
			m.HProps.swap(2*i0, 2*i1)
			m.HProps.swap(2*i0+1, 2*i1+1)
			hmap[2*i0], hmap[2*i1] = hmap[2*i1], hmap[2*i0]
			hmap[2*i0+1], hmap[2*i1+1] = hmap[2*i1+1], hmap[2*i0+1]
		}
		if m.edel.Data[i0] {
			ne = i0
		} else {
			ne = i0 + 1
		}
		nh = 2 * ne
	}

	// Compact faces.
	if nf > 0 {
		i0, i1 := 0, nf-1
		for {
			for !m.fdel.Data[i0] && i0 < i1 {
				i0++
			}
			for m.fdel.Data[i1] && i0 < i1 {
				i1--
			}
			if i0 >= i1 {
				break
			}
			m.FProps.swap(i0, i1)
			fmap[i0], fmap[i1] = fmap[i1], fmap[i0]
		}
		if m.fdel.Data[i0] {
			nf = i0
		} else {
			nf = i0 + 1
		}
	}

	// Invert the permutations: old handle -> new handle.
	vnew := make([]Vertex, len(vmap))
	for newIdx, old := range vmap {
		vnew[old] = Vertex(newIdx)
	}
	hnew := make([]Halfedge, len(hmap))
	for newIdx, old := range hmap {
		hnew[old] = Halfedge(newIdx)
	}
	fnew := make([]Face, len(fmap))
	for newIdx, old := range fmap {
		fnew[old] = Face(newIdx)
	}
	remapH := func(h Halfedge) Halfedge {
		if !h.Valid() {
			return h
		}
		return hnew[h]
	}

	// Rewrite connectivity in the surviving prefix.
	for i := 0; i < nv; i++ {
		c := &m.vconn.Data[i]
		c.halfedge = remapH(c.halfedge)
	}
	for i := 0; i < nh; i++ {
		c := &m.hconn.Data[i]
		c.vertex = vnew[c.vertex]
		c.next = remapH(c.next)
		c.prev = remapH(c.prev)
		if c.face.Valid() {
			c.face = fnew[c.face]
		}
	}
	for i := 0; i < nf; i++ {
		c := &m.fconn.Data[i]
		c.halfedge = remapH(c.halfedge)
	}

	m.VProps.resize(nv)
	m.HProps.resize(nh)
	m.EProps.resize(ne)
	m.FProps.resize(nf)

	m.deletedVertices = 0
	m.deletedEdges = 0
	m.deletedFaces = 0
	m.hasGarbage = false
}

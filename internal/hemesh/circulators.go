package hemesh

import (
	"fmt"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// circulatorSoftLimit is the step count after which a circulator starts
// tracking visited half-edges. Well-formed meshes rarely exceed it; a cycle
// detected past the limit means corrupt connectivity.
const circulatorSoftLimit = 100

// loopGuard implements the two-stage runaway detection every circulator
// carries: a step budget, then a visited set that catches true cycles that
// never return to the start.
type loopGuard struct {
	steps   int
	visited map[Halfedge]bool
}

func (g *loopGuard) step(h Halfedge) error {
	g.steps++
	if g.steps <= circulatorSoftLimit {
		return nil
	}
	if g.visited == nil {
		g.visited = make(map[Halfedge]bool)
	}
	if g.visited[h] {
		return fmt.Errorf("hemesh: circulator cycle without start after %d steps: %w",
			g.steps, geomerr.ErrTopology)
	}
	g.visited[h] = true
	return nil
}

// ForEachOutgoingHalfedge visits the outgoing half-edges of v clockwise.
// fn returning false stops the walk early. Corrupt connectivity fails with
// ErrTopology.
func (m *Mesh) ForEachOutgoingHalfedge(v Vertex, fn func(Halfedge) bool) error {
	h := m.VertexHalfedge(v)
	if !h.Valid() {
		return nil
	}
	start := h
	var guard loopGuard
	for {
		if !fn(h) {
			return nil
		}
		h = m.CWRotated(h)
		if h == start {
			return nil
		}
		if err := guard.step(h); err != nil {
			return err
		}
	}
}

// ForEachVertexVertex visits the 1-ring vertices of v.
func (m *Mesh) ForEachVertexVertex(v Vertex, fn func(Vertex) bool) error {
	return m.ForEachOutgoingHalfedge(v, func(h Halfedge) bool {
		return fn(m.ToVertex(h))
	})
}

// ForEachVertexFace visits the faces incident to v, skipping boundary gaps.
func (m *Mesh) ForEachVertexFace(v Vertex, fn func(Face) bool) error {
	return m.ForEachOutgoingHalfedge(v, func(h Halfedge) bool {
		if f := m.HalfedgeFace(h); f.Valid() {
			return fn(f)
		}
		return true
	})
}

// ForEachFaceHalfedge visits the boundary cycle of f.
func (m *Mesh) ForEachFaceHalfedge(f Face, fn func(Halfedge) bool) error {
	h := m.FaceHalfedge(f)
	if !h.Valid() {
		return nil
	}
	start := h
	var guard loopGuard
	for {
		if !fn(h) {
			return nil
		}
		h = m.NextHalfedge(h)
		if h == start {
			return nil
		}
		if err := guard.step(h); err != nil {
			return err
		}
	}
}

// ForEachFaceVertex visits the vertices of f in boundary order.
func (m *Mesh) ForEachFaceVertex(f Face, fn func(Vertex) bool) error {
	return m.ForEachFaceHalfedge(f, func(h Halfedge) bool {
		return fn(m.ToVertex(h))
	})
}

// FaceVertices collects the vertex cycle of f.
func (m *Mesh) FaceVertices(f Face) ([]Vertex, error) {
	var out []Vertex
	err := m.ForEachFaceVertex(f, func(v Vertex) bool {
		out = append(out, v)
		return true
	})
	return out, err
}

// VertexFaces collects the faces around v.
func (m *Mesh) VertexFaces(v Vertex) ([]Face, error) {
	var out []Face
	err := m.ForEachVertexFace(v, func(f Face) bool {
		out = append(out, f)
		return true
	})
	return out, err
}

// AdjacentFaces collects the faces sharing an edge with f.
func (m *Mesh) AdjacentFaces(f Face) ([]Face, error) {
	var out []Face
	err := m.ForEachFaceHalfedge(f, func(h Halfedge) bool {
		if nb := m.HalfedgeFace(Opposite(h)); nb.Valid() {
			out = append(out, nb)
		}
		return true
	})
	return out, err
}

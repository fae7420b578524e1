package optimize

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// RemoveDanglingArtifacts deletes connected face components smaller than
// minSize faces. Returns the number of surviving components.
func RemoveDanglingArtifacts(m *hemesh.Mesh, minSize int) int {
	done := monitoring.Stage("dangling artifact removal")
	defer done()

	component := make([]int32, m.FacesSize())
	for i := range component {
		component[i] = -1
	}
	var sizes []int

	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) || component[f] >= 0 {
			continue
		}
		id := int32(len(sizes))
		size := 0
		queue := []hemesh.Face{f}
		component[f] = id
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			size++
			adjacent, err := m.AdjacentFaces(cur)
			if err != nil {
				continue
			}
			for _, nb := range adjacent {
				if component[nb] < 0 {
					component[nb] = id
					queue = append(queue, nb)
				}
			}
		}
		sizes = append(sizes, size)
	}

	if minSize > 0 {
		deleted := 0
		m.DeleteManyFaces(func(f hemesh.Face) bool {
			if sizes[component[f]] < minSize {
				deleted++
				return true
			}
			return false
		})
		if deleted > 0 {
			monitoring.Logf("optimize: removed %d faces in components below %d faces", deleted, minSize)
		}
	}

	kept := 0
	for _, s := range sizes {
		if minSize <= 0 || s >= minSize {
			kept++
		}
	}
	return kept
}

// boundaryEdgeCount counts f's edges whose opposite half-edge has no face.
func boundaryEdgeCount(m *hemesh.Mesh, f hemesh.Face) int {
	count := 0
	_ = m.ForEachFaceHalfedge(f, func(h hemesh.Halfedge) bool {
		if m.IsBoundaryHalfedge(hemesh.Opposite(h)) {
			count++
		}
		return true
	})
	return count
}

// minInteriorAngle returns the smallest interior angle over the two
// triangles incident to e, in radians.
func minInteriorAngle(m *hemesh.Mesh, e hemesh.Edge) float64 {
	minAngle := math.Pi
	for i := uint32(0); i < 2; i++ {
		f := m.HalfedgeFace(hemesh.HalfedgeOf(e, i))
		if !f.Valid() {
			continue
		}
		cycle, err := m.FaceVertices(f)
		if err != nil || len(cycle) != 3 {
			continue
		}
		for j := 0; j < 3; j++ {
			a := m.Position(cycle[j])
			b := m.Position(cycle[(j+1)%3])
			c := m.Position(cycle[(j+2)%3])
			u := b.Sub(a)
			v := c.Sub(a)
			lu, lv := u.Len(), v.Len()
			if lu < 1e-12 || lv < 1e-12 {
				return 0
			}
			cos := float64(u.Dot(v) / (lu * lv))
			if cos > 1 {
				cos = 1
			} else if cos < -1 {
				cos = -1
			}
			if angle := math.Acos(cos); angle < minAngle {
				minAngle = angle
			}
		}
	}
	return minAngle
}

// CleanContours runs the given number of contour-cleaning passes: faces
// hanging off the boundary by two or more boundary edges are deleted, and
// boundary-adjacent edges with a single interior neighbour are flipped when
// that improves the worst interior angle.
func CleanContours(m *hemesh.Mesh, iterations int) {
	if iterations <= 0 {
		return
	}
	done := monitoring.Stage("contour cleaning")
	defer done()

	for iter := 0; iter < iterations; iter++ {
		// Dangling triangles first.
		removed := 0
		for fi := 0; fi < m.FacesSize(); fi++ {
			f := hemesh.Face(fi)
			if m.FaceDeleted(f) {
				continue
			}
			if boundaryEdgeCount(m, f) >= 2 {
				m.DeleteFace(f)
				removed++
			}
		}

		// Angle-improving flips along the contour.
		flipped := 0
		for ei := 0; ei < m.EdgesSize(); ei++ {
			e := hemesh.Edge(ei)
			if m.EdgeDeleted(e) || m.IsBoundaryEdge(e) || !m.IsFlipOK(e) {
				continue
			}
			// Only edges whose two triangles have exactly one interior
			// neighbour between them qualify as contour edges.
			f0 := m.HalfedgeFace(hemesh.HalfedgeOf(e, 0))
			f1 := m.HalfedgeFace(hemesh.HalfedgeOf(e, 1))
			interior := 0
			if boundaryEdgeCount(m, f0) == 0 {
				interior++
			}
			if boundaryEdgeCount(m, f1) == 0 {
				interior++
			}
			if interior != 1 {
				continue
			}

			before := minInteriorAngle(m, e)
			if err := m.Flip(e); err != nil {
				continue
			}
			if minInteriorAngle(m, e) <= before {
				// Flip did not help; undo.
				if err := m.Flip(e); err != nil {
					monitoring.Logf("optimize: contour flip undo failed on edge %d: %v", e, err)
				}
				continue
			}
			flipped++
		}

		monitoring.Logf("optimize: contour pass %d removed %d faces, flipped %d edges",
			iter+1, removed, flipped)
		if removed == 0 && flipped == 0 {
			break
		}
	}
}

// holeLoop is one boundary cycle, as half-edges in traversal order.
type holeLoop struct {
	halfedges []hemesh.Halfedge
	vertices  []hemesh.Vertex
}

// boundaryLoops walks every boundary cycle of the mesh.
func boundaryLoops(m *hemesh.Mesh) ([]holeLoop, error) {
	visited := map[hemesh.Halfedge]bool{}
	var loops []holeLoop
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := hemesh.Halfedge(hi)
		if m.HalfedgeDeleted(h) || !m.IsBoundaryHalfedge(h) || visited[h] {
			continue
		}
		var loop holeLoop
		cur := h
		for steps := 0; ; steps++ {
			if steps > m.HalfedgesSize() {
				return nil, fmt.Errorf("optimize: unterminated boundary loop at halfedge %d: %w",
					h, geomerr.ErrTopology)
			}
			visited[cur] = true
			loop.halfedges = append(loop.halfedges, cur)
			loop.vertices = append(loop.vertices, m.ToVertex(cur))
			cur = m.NextHalfedge(cur)
			if cur == h {
				break
			}
		}
		loops = append(loops, loop)
	}
	return loops, nil
}

// FillHoles triangulates every boundary loop of at most maxBoundaryLength
// edges with an ear-clipping fan oriented like the surrounding faces.
// Degenerate loops (coincident vertices) are skipped and counted; the
// return values are filled and skipped hole counts.
func FillHoles(m *hemesh.Mesh, maxBoundaryLength int) (filled, skipped int, err error) {
	if maxBoundaryLength < 3 {
		return 0, 0, nil
	}
	done := monitoring.Stage("hole filling")
	defer done()

	loops, err := boundaryLoops(m)
	if err != nil {
		return 0, 0, err
	}

	for _, loop := range loops {
		if len(loop.vertices) > maxBoundaryLength {
			continue
		}
		if hasDegenerateLoop(m, loop.vertices) {
			skipped++
			continue
		}
		// The boundary cycle runs opposite to the surrounding faces'
		// orientation, so filling along the cycle keeps windings
		// consistent.
		if fillOneHole(m, loop.vertices) {
			filled++
		} else {
			skipped++
		}
	}
	monitoring.Logf("optimize: filled %d holes, skipped %d", filled, skipped)
	return filled, skipped, nil
}

func hasDegenerateLoop(m *hemesh.Mesh, vs []hemesh.Vertex) bool {
	seen := map[hemesh.Vertex]bool{}
	for _, v := range vs {
		if seen[v] {
			return true
		}
		seen[v] = true
	}
	for i := range vs {
		a := m.Position(vs[i])
		b := m.Position(vs[(i+1)%len(vs)])
		if a.Sub(b).Len() < 1e-12 {
			return true
		}
	}
	return false
}

// fillOneHole fans the loop from its first vertex. Ears that fail the
// topology checks abort the hole; already added fan triangles stay, which
// shrinks the hole rather than corrupting it.
func fillOneHole(m *hemesh.Mesh, vs []hemesh.Vertex) bool {
	if len(vs) == 3 {
		_, err := m.AddTriangle(vs[0], vs[1], vs[2])
		return err == nil
	}
	ok := true
	for i := 1; i+1 < len(vs); i++ {
		if _, err := m.AddTriangle(vs[0], vs[i], vs[i+1]); err != nil {
			monitoring.Logf("optimize: hole fan aborted: %v", err)
			ok = false
			break
		}
	}
	return ok
}

// zeroAreaEpsilon guards degenerate triangles during retesselation.
const zeroAreaEpsilon = 1e-12

// triangleArea2D is twice the signed area of a 2D triangle.
func triangleArea2D(a, b, c mgl32.Vec2) float32 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

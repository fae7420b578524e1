package optimize

import (
	"container/heap"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// quadric is a symmetric 4x4 error quadric in upper-triangular storage:
// [a b c d; b e f g; c f h i; d g i j].
type quadric [10]float64

func planeQuadric(n mgl32.Vec3, d float64) quadric {
	a, b, c := float64(n[0]), float64(n[1]), float64(n[2])
	return quadric{
		a * a, a * b, a * c, a * d,
		b * b, b * c, b * d,
		c * c, c * d,
		d * d,
	}
}

func (q *quadric) add(o *quadric) quadric {
	var out quadric
	for i := range out {
		out[i] = q[i] + o[i]
	}
	return out
}

// eval computes p^T Q p for the homogeneous point (p, 1).
func (q *quadric) eval(p mgl32.Vec3) float64 {
	x, y, z := float64(p[0]), float64(p[1]), float64(p[2])
	return q[0]*x*x + 2*q[1]*x*y + 2*q[2]*x*z + 2*q[3]*x +
		q[4]*y*y + 2*q[5]*y*z + 2*q[6]*y +
		q[7]*z*z + 2*q[8]*z +
		q[9]
}

// collapseCandidate is one priority-queue entry. Entries are invalidated
// lazily through per-vertex version counters.
type collapseCandidate struct {
	cost     float64
	edge     hemesh.Edge
	target   mgl32.Vec3
	keepTo   bool // true: collapse from->to, false: to->from
	versions [2]uint32
}

type collapseQueue []collapseCandidate

func (q collapseQueue) Len() int { return len(q) }
func (q collapseQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].edge < q[j].edge
}
func (q collapseQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *collapseQueue) Push(x interface{}) { *q = append(*q, x.(collapseCandidate)) }
func (q *collapseQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Simplify reduces the face count by ratio in [0, 1] using Garland-Heckbert
// quadric error edge collapses. Collapses that fail the mesh's manifold
// check or would invert an incident face normal are skipped. Ties resolve
// to the smaller edge handle.
func Simplify(m *hemesh.Mesh, ratio float64) error {
	if ratio <= 0 {
		return nil
	}
	if ratio > 1 {
		ratio = 1
	}
	done := monitoring.Stage("edge-collapse simplification")
	defer done()

	initialFaces := m.NumFaces()
	targetRemoved := int(ratio * float64(initialFaces))
	if targetRemoved == 0 {
		return nil
	}

	// Accumulate one plane quadric per incident face into each vertex.
	quadrics := make([]quadric, m.VerticesSize())
	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) {
			continue
		}
		n := FaceNormal(m, f)
		if n.Len() < 0.5 {
			continue
		}
		cycle, err := m.FaceVertices(f)
		if err != nil {
			return err
		}
		d := -float64(n.Dot(m.Position(cycle[0])))
		kq := planeQuadric(n, d)
		for _, v := range cycle {
			quadrics[v] = quadrics[v].add(&kq)
		}
	}

	versions := make([]uint32, m.VerticesSize())
	pq := &collapseQueue{}

	push := func(e hemesh.Edge) {
		h := hemesh.HalfedgeOf(e, 0)
		v0 := m.FromVertex(h)
		v1 := m.ToVertex(h)
		q := quadrics[v0].add(&quadrics[v1])

		p0 := m.Position(v0)
		p1 := m.Position(v1)
		mid := p0.Add(p1).Mul(0.5)

		cost0 := q.eval(p0)
		cost1 := q.eval(p1)
		costM := q.eval(mid)

		cand := collapseCandidate{edge: e, versions: [2]uint32{versions[v0], versions[v1]}}
		switch {
		case cost1 <= cost0 && cost1 <= costM:
			cand.cost = cost1
			cand.target = p1
			cand.keepTo = true
		case cost0 <= costM:
			cand.cost = cost0
			cand.target = p0
			cand.keepTo = false
		default:
			cand.cost = costM
			cand.target = mid
			cand.keepTo = true
		}
		heap.Push(pq, cand)
	}

	for ei := 0; ei < m.EdgesSize(); ei++ {
		e := hemesh.Edge(ei)
		if !m.EdgeDeleted(e) {
			push(e)
		}
	}

	removed := 0
	for removed < targetRemoved && pq.Len() > 0 {
		cand := heap.Pop(pq).(collapseCandidate)
		e := cand.edge
		if m.EdgeDeleted(e) {
			continue
		}
		h := hemesh.HalfedgeOf(e, 0)
		if !cand.keepTo {
			h = hemesh.HalfedgeOf(e, 1)
		}
		v0 := m.FromVertex(h) // vanishes
		v1 := m.ToVertex(h)   // survives at cand.target
		if cand.versions != [2]uint32{versions[m.FromVertex(hemesh.HalfedgeOf(e, 0))], versions[m.ToVertex(hemesh.HalfedgeOf(e, 0))]} {
			continue // stale entry
		}
		if !m.IsCollapseOK(h) {
			continue
		}
		if flipsNormal(m, v0, v1, cand.target) || flipsNormal(m, v1, v0, cand.target) {
			continue
		}

		facesBefore := m.NumFaces()
		newQ := quadrics[v0].add(&quadrics[v1])
		if err := m.Collapse(h); err != nil {
			continue
		}
		m.SetPosition(v1, cand.target)
		quadrics[v1] = newQ
		versions[v0]++
		versions[v1]++
		removed += facesBefore - m.NumFaces()

		// Refresh candidates around the surviving vertex.
		_ = m.ForEachOutgoingHalfedge(v1, func(out hemesh.Halfedge) bool {
			push(hemesh.EdgeOf(out))
			return true
		})
	}

	monitoring.Logf("optimize: simplification removed %d of %d faces (target %d)",
		removed, initialFaces, targetRemoved)
	return nil
}

// flipsNormal reports whether moving vertex v to target inverts any
// incident face normal, ignoring faces that also touch other (those
// degenerate away during the collapse).
func flipsNormal(m *hemesh.Mesh, v, other hemesh.Vertex, target mgl32.Vec3) bool {
	flipped := false
	_ = m.ForEachVertexFace(v, func(f hemesh.Face) bool {
		cycle, err := m.FaceVertices(f)
		if err != nil || len(cycle) != 3 {
			return true
		}
		touchesOther := false
		var pos [3]mgl32.Vec3
		var moved [3]mgl32.Vec3
		for i, fv := range cycle {
			pos[i] = m.Position(fv)
			if fv == v {
				moved[i] = target
			} else {
				moved[i] = pos[i]
			}
			if fv == other {
				touchesOther = true
			}
		}
		if touchesOther {
			return true
		}
		before := pos[1].Sub(pos[0]).Cross(pos[2].Sub(pos[0]))
		after := moved[1].Sub(moved[0]).Cross(moved[2].Sub(moved[0]))
		if before.Len() > 1e-12 && before.Dot(after) <= 0 {
			flipped = true
			return false
		}
		return true
	})
	return flipped
}

package optimize

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/surface"
)

// Retesselate replaces the interior of each planar cluster with a fresh
// triangulation of its fused boundary polygon: the boundary is projected to
// the cluster plane, nearly collinear boundary edges are fused below
// lineFusionThreshold radians, and the polygon is re-triangulated with a
// constrained Delaunay pass. Clusters whose boundary cannot be resolved to
// a single loop (holes, degeneracies) keep their original faces.
func Retesselate(m *hemesh.Mesh, cm *ClusterBiMap, lineFusionThreshold float64) {
	done := monitoring.Stage("retesselation")
	defer done()

	replaced, kept := 0, 0
	for _, c := range cm.Clusters() {
		if retesselateCluster(m, cm, c, lineFusionThreshold) {
			replaced++
		} else {
			kept++
		}
	}
	monitoring.Logf("optimize: retesselated %d clusters, kept %d unchanged", replaced, kept)
}

// clusterBoundaryLoops walks the region boundary of a cluster: half-edges
// whose face is inside and whose opposite face is not.
func clusterBoundaryLoops(m *hemesh.Mesh, inside map[hemesh.Face]bool) [][]hemesh.Halfedge {
	isBoundary := func(h hemesh.Halfedge) bool {
		if !inside[m.HalfedgeFace(h)] {
			return false
		}
		opp := m.HalfedgeFace(hemesh.Opposite(h))
		return !opp.Valid() || !inside[opp]
	}

	visited := map[hemesh.Halfedge]bool{}
	var loops [][]hemesh.Halfedge
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := hemesh.Halfedge(hi)
		if m.HalfedgeDeleted(h) || visited[h] || !isBoundary(h) {
			continue
		}
		var loop []hemesh.Halfedge
		cur := h
		ok := true
		for steps := 0; ; steps++ {
			if steps > m.HalfedgesSize() {
				ok = false
				break
			}
			visited[cur] = true
			loop = append(loop, cur)

			// Successor: rotate around to(cur) until the next region
			// boundary half-edge.
			next := m.NextHalfedge(cur)
			for !isBoundary(next) {
				next = m.NextHalfedge(hemesh.Opposite(next))
				if next == m.NextHalfedge(cur) {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
			cur = next
			if cur == h {
				break
			}
		}
		if ok && len(loop) >= 3 {
			loops = append(loops, loop)
		}
	}
	return loops
}

// planeFrame builds an orthonormal (u, v) basis spanning the plane.
func planeFrame(normal mgl32.Vec3) (u, v mgl32.Vec3) {
	ref := mgl32.Vec3{1, 0, 0}
	if math.Abs(float64(normal[0])) > 0.9 {
		ref = mgl32.Vec3{0, 1, 0}
	}
	u = normal.Cross(ref).Normalize()
	v = normal.Cross(u)
	return u, v
}

func retesselateCluster(m *hemesh.Mesh, cm *ClusterBiMap, c Cluster, lineFusionThreshold float64) bool {
	faces := cm.Faces(c)
	if len(faces) < 2 {
		return false
	}
	inside := make(map[hemesh.Face]bool, len(faces))
	for _, f := range faces {
		inside[f] = true
	}

	// Cluster plane from all member vertices.
	var pts []mgl32.Vec3
	for _, f := range faces {
		cycle, err := m.FaceVertices(f)
		if err != nil {
			return false
		}
		for _, v := range cycle {
			pts = append(pts, m.Position(v))
		}
	}
	pl, ok := surface.FitPlane(pts)
	if !ok {
		return false
	}

	loops := clusterBoundaryLoops(m, inside)
	// Only clusters with a single boundary loop are retesselated; a
	// cluster with interior holes keeps its triangulation.
	if len(loops) != 1 {
		return false
	}

	boundary := make([]hemesh.Vertex, len(loops[0]))
	for i, h := range loops[0] {
		boundary[i] = m.ToVertex(h)
	}

	u, v := planeFrame(pl.Normal)
	project := func(p mgl32.Vec3) mgl32.Vec2 {
		d := p.Sub(pl.Centroid)
		return mgl32.Vec2{d.Dot(u), d.Dot(v)}
	}

	// Fuse nearly collinear boundary vertices. Corner vertices stay, so
	// neighbouring clusters sharing the fused chain agree on the corners.
	fused := fuseCollinear(m, boundary, project, lineFusionThreshold)
	if len(fused) < 3 {
		return false
	}

	poly := make([]mgl32.Vec2, len(fused))
	for i, vv := range fused {
		poly[i] = project(m.Position(vv))
	}
	tris := triangulatePolygon(poly)
	if len(tris) == 0 {
		return false
	}

	// Swap the cluster body for the new triangulation. Boundary vertices
	// may lose their last edge during the deletion; revive them before
	// stitching the new faces in.
	m.DeleteManyFaces(func(f hemesh.Face) bool { return inside[f] })
	cm.RemoveCluster(c)
	for _, vv := range fused {
		m.ReviveVertex(vv)
	}

	nc := cm.CreateCluster()
	added := 0
	for _, t := range tris {
		f, err := m.AddTriangle(fused[t[0]], fused[t[1]], fused[t[2]])
		if err != nil {
			monitoring.Logf("optimize: retesselation triangle rejected: %v", err)
			continue
		}
		cm.AddToCluster(nc, f)
		added++
	}
	return added > 0
}

// fuseCollinear drops boundary vertices whose incident segments deviate by
// less than threshold radians, whether or not other clusters share them.
// A vertex is kept when dropping it would leave fewer than three.
func fuseCollinear(m *hemesh.Mesh, boundary []hemesh.Vertex, project func(mgl32.Vec3) mgl32.Vec2, threshold float64) []hemesh.Vertex {
	n := len(boundary)
	if n < 4 || threshold <= 0 {
		return boundary
	}
	keep := make([]hemesh.Vertex, 0, n)
	for i := 0; i < n; i++ {
		prev := project(m.Position(boundary[(i-1+n)%n]))
		cur := project(m.Position(boundary[i]))
		next := project(m.Position(boundary[(i+1)%n]))

		d0 := cur.Sub(prev)
		d1 := next.Sub(cur)
		l0, l1 := d0.Len(), d1.Len()
		if l0 < 1e-12 || l1 < 1e-12 {
			continue
		}
		cos := float64(d0.Dot(d1) / (l0 * l1))
		if cos > 1 {
			cos = 1
		} else if cos < -1 {
			cos = -1
		}
		// Drop collinear vertices unless the polygon would degenerate.
		remaining := len(keep) + (n - 1 - i)
		if math.Acos(cos) < threshold && remaining >= 3 {
			continue
		}
		keep = append(keep, boundary[i])
	}
	if len(keep) < 3 {
		return boundary
	}
	return keep
}

// triangulatePolygon triangulates a simple 2D polygon: ear clipping for the
// topology, then constrained Delaunay edge flips on the interior diagonals
// to improve triangle quality. Returns index triples into the polygon.
func triangulatePolygon(poly []mgl32.Vec2) [][3]int {
	n := len(poly)
	if n < 3 {
		return nil
	}
	if n == 3 {
		return [][3]int{{0, 1, 2}}
	}

	// Ensure counterclockwise orientation for the ear tests; flip the
	// output winding back if the input was clockwise.
	var area2 float32
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area2 += poly[i][0]*poly[j][1] - poly[j][0]*poly[i][1]
	}
	reversed := false
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if area2 < 0 {
		reversed = true
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			idx[i], idx[j] = idx[j], idx[i]
		}
	}

	var tris [][3]int
	guard := 0
	for len(idx) > 3 && guard < n*n {
		guard++
		clipped := false
		for i := 0; i < len(idx); i++ {
			ia := idx[(i-1+len(idx))%len(idx)]
			ib := idx[i]
			ic := idx[(i+1)%len(idx)]
			a, b, c := poly[ia], poly[ib], poly[ic]

			if triangleArea2D(a, b, c) <= zeroAreaEpsilon {
				continue
			}
			// No other polygon vertex inside the candidate ear.
			ear := true
			for _, other := range idx {
				if other == ia || other == ib || other == ic {
					continue
				}
				if pointInTriangle2D(poly[other], a, b, c) {
					ear = false
					break
				}
			}
			if !ear {
				continue
			}
			tris = append(tris, [3]int{ia, ib, ic})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			// Non-simple polygon; bail out with what we have plus a fan
			// over the remainder.
			break
		}
	}
	if len(idx) == 3 {
		tris = append(tris, [3]int{idx[0], idx[1], idx[2]})
	} else {
		for i := 1; i+1 < len(idx); i++ {
			tris = append(tris, [3]int{idx[0], idx[i], idx[i+1]})
		}
	}

	tris = delaunayFlip(poly, tris)

	if reversed {
		for i := range tris {
			tris[i][1], tris[i][2] = tris[i][2], tris[i][1]
		}
	}
	return tris
}

func pointInTriangle2D(p, a, b, c mgl32.Vec2) bool {
	d0 := triangleArea2D(a, b, p)
	d1 := triangleArea2D(b, c, p)
	d2 := triangleArea2D(c, a, p)
	return d0 > 0 && d1 > 0 && d2 > 0
}

// delaunayFlip applies local edge flips to interior diagonals until the
// Delaunay criterion holds. Polygon boundary edges are constrained and
// never flipped.
func delaunayFlip(poly []mgl32.Vec2, tris [][3]int) [][3]int {
	type edgeRef struct{ tri, corner int } // edge opposite tris[tri][corner]
	n := len(poly)
	isBoundary := func(a, b int) bool {
		d := a - b
		if d < 0 {
			d = -d
		}
		return d == 1 || d == n-1
	}

	for pass := 0; pass < 16; pass++ {
		// Index interior edges by their undirected vertex pair.
		edges := map[[2]int][]edgeRef{}
		for t, tri := range tris {
			for corner := 0; corner < 3; corner++ {
				a, b := tri[(corner+1)%3], tri[(corner+2)%3]
				if a > b {
					a, b = b, a
				}
				edges[[2]int{a, b}] = append(edges[[2]int{a, b}], edgeRef{t, corner})
			}
		}

		flipped := false
		for key, refs := range edges {
			if len(refs) != 2 || isBoundary(key[0], key[1]) {
				continue
			}
			t0, c0 := refs[0].tri, refs[0].corner
			t1, c1 := refs[1].tri, refs[1].corner
			apex0 := tris[t0][c0]
			apex1 := tris[t1][c1]

			if !inCircumcircle(poly[tris[t0][(c0+1)%3]], poly[tris[t0][(c0+2)%3]], poly[apex0], poly[apex1]) {
				continue
			}
			// Rebuild the two triangles around the flipped diagonal,
			// keeping counterclockwise orientation.
			a, b := tris[t0][(c0+1)%3], tris[t0][(c0+2)%3]
			n0 := [3]int{apex0, a, apex1}
			n1 := [3]int{apex1, b, apex0}
			if triangleArea2D(poly[n0[0]], poly[n0[1]], poly[n0[2]]) <= zeroAreaEpsilon ||
				triangleArea2D(poly[n1[0]], poly[n1[1]], poly[n1[2]]) <= zeroAreaEpsilon {
				continue
			}
			tris[t0] = n0
			tris[t1] = n1
			flipped = true
			break
		}
		if !flipped {
			break
		}
	}
	return tris
}

// inCircumcircle reports whether d lies strictly inside the circumcircle of
// counterclockwise triangle (a, b, c).
func inCircumcircle(a, b, c, d mgl32.Vec2) bool {
	ax, ay := float64(a[0]-d[0]), float64(a[1]-d[1])
	bx, by := float64(b[0]-d[0]), float64(b[1]-d[1])
	cx, cy := float64(c[0]-d[0]), float64(c[1]-d[1])
	det := (ax*ax+ay*ay)*(bx*cy-cx*by) -
		(bx*bx+by*by)*(ax*cy-cx*ay) +
		(cx*cx+cy*cy)*(ax*by-bx*ay)
	return det > 0
}

package voxel

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/surface.report/internal/monitoring"
)

// featureKeyBit tags vertex keys of SF interior feature vertices; all other
// vertex keys encode a corner pair (smaller index in the high word).
const featureKeyBit = uint64(1) << 63

// Mesh is the deduplicated extraction output: an indexed triangle list plus
// the originating cell key per face.
type Mesh struct {
	Vertices  []mgl32.Vec3
	Faces     [][3]uint32
	FaceCells []uint64
}

// patchVert is one vertex proposal from a cell: its dedup key and position.
// On shared edges multiple cells propose the same key; the cell with the
// smaller key is merged first and its position wins, which reconciles the
// one-sided snapping PMC and SF can introduce.
type patchVert struct {
	key uint64
	pos mgl32.Vec3
}

// cellPatch is the triangle patch one cell contributes.
type cellPatch struct {
	cellKey uint64
	verts   []patchVert
	tris    [][3]uint64
}

// Extract runs iso-extraction over all band cells. Cells are processed in
// ascending key order (chunked across workers, merged in order), so the
// output topology is independent of the thread count.
func (g *Grid) Extract() (*Mesh, error) {
	done := monitoring.Stage("iso-extraction " + g.params.Decomposition.String())
	defer done()

	out := &Mesh{}
	n := len(g.cells)
	if n == 0 {
		return out, nil
	}

	workers := g.threads()
	chunk := (n + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	type chunkResult struct {
		start   int
		patches []cellPatch
	}
	results := make([]chunkResult, 0, workers)
	for lo := 0; lo < n; lo += chunk {
		results = append(results, chunkResult{start: lo})
	}

	var wg sync.WaitGroup
	for ri := range results {
		lo := results[ri].start
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(ri, lo, hi int) {
			defer wg.Done()
			patches := make([]cellPatch, 0, hi-lo)
			for ci := lo; ci < hi; ci++ {
				if p, ok := g.extractCell(ci); ok {
					patches = append(patches, p)
				}
			}
			results[ri].patches = patches
		}(ri, lo, hi)
	}
	wg.Wait()

	// Ordered merge: chunks are contiguous ranges of the sorted cell list,
	// so appending chunk by chunk visits cells in ascending key order.
	vertexIndex := make(map[uint64]uint32)
	for _, res := range results {
		for _, p := range res.patches {
			for _, v := range p.verts {
				if _, seen := vertexIndex[v.key]; !seen {
					vertexIndex[v.key] = uint32(len(out.Vertices))
					out.Vertices = append(out.Vertices, v.pos)
				}
			}
			for _, tri := range p.tris {
				a := vertexIndex[tri[0]]
				b := vertexIndex[tri[1]]
				c := vertexIndex[tri[2]]
				if a == b || b == c || a == c {
					continue
				}
				out.Faces = append(out.Faces, [3]uint32{a, b, c})
				out.FaceCells = append(out.FaceCells, p.cellKey)
			}
		}
	}

	monitoring.Logf("voxel: extracted %d vertices, %d faces", len(out.Vertices), len(out.Faces))
	return out, nil
}

// extractCell dispatches on the decomposition. ok is false when the cell
// contributes nothing (no sign change, or an invalid corner).
func (g *Grid) extractCell(ci int) (cellPatch, bool) {
	c := &g.cells[ci]
	for _, idx := range c.corners {
		if !g.corners[idx].valid {
			return cellPatch{}, false
		}
	}

	switch g.params.Decomposition {
	case MT:
		return g.marchTetrahedra(ci)
	case PMC:
		p, ok := g.marchCell(ci)
		if ok {
			g.snapPlanar(&p)
		}
		return p, ok
	case SF:
		p, ok := g.marchCell(ci)
		if ok {
			g.sharpen(&p)
		}
		return p, ok
	default:
		return g.marchCell(ci)
	}
}

// caseIndex sets bit c when corner c is inside the surface (negative
// distance).
func (g *Grid) caseIndex(c *cell) int {
	idx := 0
	for i, ci := range c.corners {
		if g.corners[ci].dist < 0 {
			idx |= 1 << i
		}
	}
	return idx
}

// interpEdge places a vertex on the sign-changing edge between two cell
// corners. Endpoints are ordered by corner-table index before interpolating,
// so the two cells sharing the edge compute bit-identical positions.
func (g *Grid) interpEdge(ia, ib uint32) patchVert {
	if ia > ib {
		ia, ib = ib, ia
	}
	a, b := &g.corners[ia], &g.corners[ib]
	t := float32(0.5)
	if a.dist != b.dist {
		t = a.dist / (a.dist - b.dist)
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return patchVert{
		key: uint64(ia)<<32 | uint64(ib),
		pos: a.pos.Add(b.pos.Sub(a.pos).Mul(t)),
	}
}

// marchCell runs standard marching cubes on one cell.
func (g *Grid) marchCell(ci int) (cellPatch, bool) {
	c := &g.cells[ci]
	caseIdx := g.caseIndex(c)
	if mcEdgeTable[caseIdx] == 0 {
		return cellPatch{}, false
	}

	var edgeVerts [12]patchVert
	for e := 0; e < 12; e++ {
		if mcEdgeTable[caseIdx]&(1<<uint(e)) == 0 {
			continue
		}
		edgeVerts[e] = g.interpEdge(
			c.corners[mcEdgeCorners[e][0]],
			c.corners[mcEdgeCorners[e][1]],
		)
	}

	p := cellPatch{cellKey: g.cellKeys[ci]}
	seen := map[uint64]bool{}
	row := &mcTriTable[caseIdx]
	for i := 0; row[i] >= 0; i += 3 {
		var tri [3]uint64
		for j := 0; j < 3; j++ {
			v := edgeVerts[row[i+j]]
			if !seen[v.key] {
				seen[v.key] = true
				p.verts = append(p.verts, v)
			}
			tri[j] = v.key
		}
		p.tris = append(p.tris, tri)
	}
	return p, len(p.tris) > 0
}

// planarSnapTolerance scales with the voxel size: vertices within
// 1e-3 * s of their best-fit plane are treated as coplanar.
const planarSnapTolerance = 1e-3

// snapPlanar projects a cell's vertices onto their common best-fit plane
// when they already lie within tolerance of it, removing marching-cubes
// staircasing on planar regions. Adjacent cells that disagree are
// reconciled at merge time: the smaller cell key defines the shared vertex.
func (g *Grid) snapPlanar(p *cellPatch) {
	if len(p.verts) < 3 {
		return
	}
	pts := make([]mgl32.Vec3, len(p.verts))
	for i, v := range p.verts {
		pts[i] = v.pos
	}
	pl, ok := fitPatchPlane(pts)
	if !ok {
		return
	}
	tol := planarSnapTolerance * g.params.VoxelSize
	for _, q := range pts {
		d := pl.normal.Dot(q.Sub(pl.anchor))
		if d < -tol || d > tol {
			return
		}
	}
	for i := range p.verts {
		q := p.verts[i].pos
		d := pl.normal.Dot(q.Sub(pl.anchor))
		p.verts[i].pos = q.Sub(pl.normal.Mul(d))
	}
}

type patchPlane struct {
	normal mgl32.Vec3
	anchor mgl32.Vec3
}

// fitPatchPlane is a small PCA plane fit over patch vertices; covariance in
// float64 like the surface package, but local to avoid a dependency cycle
// with extraction internals.
func fitPatchPlane(pts []mgl32.Vec3) (patchPlane, bool) {
	var cx, cy, cz float64
	for _, p := range pts {
		cx += float64(p[0])
		cy += float64(p[1])
		cz += float64(p[2])
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	cz /= n

	var xx, xy, xz, yy, yz, zz float64
	for _, p := range pts {
		dx := float64(p[0]) - cx
		dy := float64(p[1]) - cy
		dz := float64(p[2]) - cz
		xx += dx * dx
		xy += dx * dy
		xz += dx * dz
		yy += dy * dy
		yz += dy * dz
		zz += dz * dz
	}
	sym := mat.NewSymDense(3, []float64{xx, xy, xz, xy, yy, yz, xz, yz, zz})
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return patchPlane{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := mgl32.Vec3{float32(vecs.At(0, 0)), float32(vecs.At(1, 0)), float32(vecs.At(2, 0))}
	l := normal.Len()
	if l == 0 {
		return patchPlane{}, false
	}
	return patchPlane{
		normal: normal.Mul(1 / l),
		anchor: mgl32.Vec3{float32(cx), float32(cy), float32(cz)},
	}, true
}

// sharpen adds an interior feature vertex when the sampled surface normals
// at the cell's vertices disagree beyond the sharp-feature threshold, then
// fans the cell's patch boundary from it. Cells without disagreement keep
// their marching-cubes patch.
func (g *Grid) sharpen(p *cellPatch) {
	if len(p.verts) < 3 {
		return
	}

	normals := make([]mgl32.Vec3, 0, len(p.verts))
	for _, v := range p.verts {
		n, ok := g.surf.NearestNormal(v.pos)
		if !ok {
			return
		}
		normals = append(normals, n)
	}

	minCos := 1.0
	for i := 0; i < len(normals); i++ {
		for j := i + 1; j < len(normals); j++ {
			if c := float64(normals[i].Dot(normals[j])); c < minCos {
				minCos = c
			}
		}
	}
	if minCos >= g.params.SharpFeatureThreshold {
		return
	}

	fv, ok := featureVertex(p.verts, normals)
	if !ok {
		return
	}
	// Keep the feature vertex inside its cell.
	i, j, k := unpackKey(p.cellKey)
	lo := g.cornerPos(i, j, k)
	s := g.params.VoxelSize
	for a := 0; a < 3; a++ {
		if fv[a] < lo[a] {
			fv[a] = lo[a]
		}
		if fv[a] > lo[a]+s {
			fv[a] = lo[a] + s
		}
	}

	// Fan from the feature vertex to the boundary of the cell's patch:
	// edges used by exactly one triangle, in original winding order.
	type dirEdge struct{ a, b uint64 }
	count := map[[2]uint64]int{}
	var order []dirEdge
	undirected := func(a, b uint64) [2]uint64 {
		if a > b {
			a, b = b, a
		}
		return [2]uint64{a, b}
	}
	for _, tri := range p.tris {
		for e := 0; e < 3; e++ {
			a, b := tri[e], tri[(e+1)%3]
			count[undirected(a, b)]++
			order = append(order, dirEdge{a, b})
		}
	}

	fkey := featureKeyBit | p.cellKey
	p.verts = append(p.verts, patchVert{key: fkey, pos: fv})
	var fan [][3]uint64
	for _, e := range order {
		if count[undirected(e.a, e.b)] == 1 {
			fan = append(fan, [3]uint64{fkey, e.a, e.b})
		}
	}
	if len(fan) >= 3 {
		p.tris = fan
	}
}

// featureVertex solves the least-squares intersection of the tangent planes
// (n_i, v_i): minimize sum (n_i . x - n_i . v_i)^2.
func featureVertex(verts []patchVert, normals []mgl32.Vec3) (mgl32.Vec3, bool) {
	rows := len(verts)
	a := mat.NewDense(rows, 3, nil)
	b := mat.NewVecDense(rows, nil)
	for i := range verts {
		n := normals[i]
		a.Set(i, 0, float64(n[0]))
		a.Set(i, 1, float64(n[1]))
		a.Set(i, 2, float64(n[2]))
		b.SetVec(i, float64(n.Dot(verts[i].pos)))
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return mgl32.Vec3{}, false
	}
	return mgl32.Vec3{float32(x.AtVec(0)), float32(x.AtVec(1)), float32(x.AtVec(2))}, true
}

// tetOrder lists the six tetrahedra of the Kuhn subdivision around the main
// diagonal (corner 0 to corner 6). Neighbouring cells split their shared
// face along the same diagonal, which keeps the output watertight.
var tetOrder = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// marchTetrahedra polygonises each of the cell's six tetrahedra. Triangle
// winding is fixed geometrically: each triangle is oriented away from its
// tetrahedron's inside corners.
func (g *Grid) marchTetrahedra(ci int) (cellPatch, bool) {
	c := &g.cells[ci]
	p := cellPatch{cellKey: g.cellKeys[ci]}
	seen := map[uint64]bool{}

	addTri := func(v0, v1, v2 patchVert, insideCentroid mgl32.Vec3) {
		// Orient the triangle normal away from the inside region.
		n := v1.pos.Sub(v0.pos).Cross(v2.pos.Sub(v0.pos))
		centroid := v0.pos.Add(v1.pos).Add(v2.pos).Mul(1.0 / 3.0)
		if n.Dot(centroid.Sub(insideCentroid)) < 0 {
			v1, v2 = v2, v1
		}
		for _, v := range []patchVert{v0, v1, v2} {
			if !seen[v.key] {
				seen[v.key] = true
				p.verts = append(p.verts, v)
			}
		}
		p.tris = append(p.tris, [3]uint64{v0.key, v1.key, v2.key})
	}

	for _, tet := range tetOrder {
		var idx [4]uint32
		inside := 0
		var insideSum mgl32.Vec3
		insideCount := 0
		for i, cc := range tet {
			idx[i] = c.corners[cc]
			if g.corners[idx[i]].dist < 0 {
				inside |= 1 << i
				insideSum = insideSum.Add(g.corners[idx[i]].pos)
				insideCount++
			}
		}
		if inside == 0 || inside == 0xF {
			continue
		}
		insideCentroid := insideSum.Mul(1 / float32(insideCount))
		e := func(a, b int) patchVert { return g.interpEdge(idx[a], idx[b]) }

		switch inside {
		case 0x1, 0xE:
			addTri(e(0, 1), e(0, 2), e(0, 3), insideCentroid)
		case 0x2, 0xD:
			addTri(e(1, 0), e(1, 3), e(1, 2), insideCentroid)
		case 0x4, 0xB:
			addTri(e(2, 0), e(2, 1), e(2, 3), insideCentroid)
		case 0x8, 0x7:
			addTri(e(3, 0), e(3, 2), e(3, 1), insideCentroid)
		case 0x3, 0xC:
			addTri(e(0, 3), e(0, 2), e(1, 3), insideCentroid)
			addTri(e(1, 3), e(1, 2), e(0, 2), insideCentroid)
		case 0x5, 0xA:
			addTri(e(0, 1), e(2, 3), e(0, 3), insideCentroid)
			addTri(e(0, 1), e(1, 2), e(2, 3), insideCentroid)
		case 0x6, 0x9:
			addTri(e(0, 1), e(1, 3), e(2, 3), insideCentroid)
			addTri(e(0, 1), e(2, 3), e(0, 2), insideCentroid)
		}
	}
	return p, len(p.tris) > 0
}

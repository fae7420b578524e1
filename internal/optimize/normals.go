// Package optimize post-processes the raw iso-extracted mesh: dangling
// artifact removal, contour cleaning, hole filling, planar cluster growing,
// retesselation and quadric edge-collapse simplification.
package optimize

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
)

// FaceNormal computes the unit normal of f from its first three boundary
// vertices. Degenerate faces yield a zero vector.
func FaceNormal(m *hemesh.Mesh, f hemesh.Face) mgl32.Vec3 {
	cycle, err := m.FaceVertices(f)
	if err != nil || len(cycle) < 3 {
		return mgl32.Vec3{}
	}
	a := m.Position(cycle[0])
	b := m.Position(cycle[1])
	c := m.Position(cycle[2])
	n := b.Sub(a).Cross(c.Sub(a))
	if l := n.Len(); l > 1e-12 {
		return n.Mul(1 / l)
	}
	return mgl32.Vec3{}
}

// FaceArea returns the area of a triangular face; n-gons are fanned.
func FaceArea(m *hemesh.Mesh, f hemesh.Face) float32 {
	cycle, err := m.FaceVertices(f)
	if err != nil || len(cycle) < 3 {
		return 0
	}
	var area float32
	a := m.Position(cycle[0])
	for i := 1; i+1 < len(cycle); i++ {
		b := m.Position(cycle[i])
		c := m.Position(cycle[i+1])
		area += b.Sub(a).Cross(c.Sub(a)).Len() / 2
	}
	return area
}

// FaceCentroid returns the vertex centroid of f.
func FaceCentroid(m *hemesh.Mesh, f hemesh.Face) mgl32.Vec3 {
	cycle, err := m.FaceVertices(f)
	if err != nil || len(cycle) == 0 {
		return mgl32.Vec3{}
	}
	var c mgl32.Vec3
	for _, v := range cycle {
		c = c.Add(m.Position(v))
	}
	return c.Mul(1 / float32(len(cycle)))
}

// faceNormalProp is the face property holding cached normals.
const faceNormalProp = "f:normal"

// CalcFaceNormals recomputes the cached per-face normal property and
// returns it. Call again after any stage that mutates faces.
func CalcFaceNormals(m *hemesh.Mesh) *hemesh.Prop[mgl32.Vec3] {
	p := hemesh.GetOrAddProperty[mgl32.Vec3](&m.FProps, faceNormalProp)
	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) {
			p.Data[f] = mgl32.Vec3{}
			continue
		}
		p.Data[f] = FaceNormal(m, f)
	}
	return p
}

// VertexNormal averages the incident face normals, area-weighted.
func VertexNormal(m *hemesh.Mesh, v hemesh.Vertex) mgl32.Vec3 {
	var n mgl32.Vec3
	_ = m.ForEachVertexFace(v, func(f hemesh.Face) bool {
		n = n.Add(FaceNormal(m, f).Mul(FaceArea(m, f)))
		return true
	})
	if l := n.Len(); l > 1e-12 {
		return n.Mul(1 / l)
	}
	return n
}

package cloud

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Synthetic clouds used by tests, benchmarks and the gen-cloud tool.

// GenSpherePoints samples n points uniformly on a sphere surface.
func GenSpherePoints(seed int64, n int, center mgl32.Vec3, radius float32) *PointBuffer {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mgl32.Vec3, n)
	for i := range pts {
		v := mgl32.Vec3{
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
			float32(rng.NormFloat64()),
		}
		if v.Len() < 1e-6 {
			v = mgl32.Vec3{1, 0, 0}
		}
		pts[i] = center.Add(v.Normalize().Mul(radius))
	}
	return FromVec3s(pts)
}

// GenCubePoints samples an axis-aligned cube surface: perSide points per
// face on a regular jittered grid.
func GenCubePoints(seed int64, perSide int, lo, hi mgl32.Vec3) *PointBuffer {
	rng := rand.New(rand.NewSource(seed))
	var pts []mgl32.Vec3
	size := hi.Sub(lo)
	sample := func(axis int, fixed float32) {
		for i := 0; i < perSide; i++ {
			u := rng.Float32()
			v := rng.Float32()
			var p mgl32.Vec3
			p[axis] = fixed
			p[(axis+1)%3] = lo[(axis+1)%3] + u*size[(axis+1)%3]
			p[(axis+2)%3] = lo[(axis+2)%3] + v*size[(axis+2)%3]
			pts = append(pts, p)
		}
	}
	for axis := 0; axis < 3; axis++ {
		sample(axis, lo[axis])
		sample(axis, hi[axis])
	}
	return FromVec3s(pts)
}

// GenPlanePoints samples n points over [0, extent]^2 at z = 0 with Gaussian
// noise sigma in z.
func GenPlanePoints(seed int64, n int, extent float32, sigma float64) *PointBuffer {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mgl32.Vec3, n)
	for i := range pts {
		pts[i] = mgl32.Vec3{
			rng.Float32() * extent,
			rng.Float32() * extent,
			float32(rng.NormFloat64() * sigma),
		}
	}
	return FromVec3s(pts)
}

package surface

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/mat"
)

// Plane is a best-fit plane through a point set: unit normal, centroid and
// the mean squared orthogonal residual of the fit.
type Plane struct {
	Normal   mgl32.Vec3
	Centroid mgl32.Vec3
	Residual float64
}

// Distance returns the signed distance from p to the plane.
func (pl Plane) Distance(p mgl32.Vec3) float32 {
	return pl.Normal.Dot(p.Sub(pl.Centroid))
}

// Project returns the orthogonal projection of p onto the plane.
func (pl Plane) Project(p mgl32.Vec3) mgl32.Vec3 {
	return p.Sub(pl.Normal.Mul(pl.Distance(p)))
}

// FitPlane computes the least-squares plane through pts via PCA: the
// eigenvector of the smallest eigenvalue of the centroid-shifted covariance
// matrix. Covariance is accumulated in float64. ok is false for fewer than
// three points or a rank-deficient neighbourhood (collinear points).
func FitPlane(pts []mgl32.Vec3) (Plane, bool) {
	if len(pts) < 3 {
		return Plane{}, false
	}

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

	// Upper-triangular covariance accumulation.
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

	sym := mat.NewSymDense(3, []float64{
		xx, xy, xz,
		xy, yy, yz,
		xz, yz, zz,
	})

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return Plane{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vals := eig.Values(nil)

	// Eigenvalues are ascending: column 0 is the normal direction. A
	// vanishing middle eigenvalue means the points are collinear and no
	// plane is defined.
	if vals[1] <= 1e-18*math.Max(vals[2], 1) {
		return Plane{}, false
	}

	normal := mgl32.Vec3{
		float32(vecs.At(0, 0)),
		float32(vecs.At(1, 0)),
		float32(vecs.At(2, 0)),
	}
	if l := normal.Len(); l > 0 {
		normal = normal.Mul(1 / l)
	}

	return Plane{
		Normal:   normal,
		Centroid: mgl32.Vec3{float32(cx), float32(cy), float32(cz)},
		Residual: vals[0] / n,
	}, true
}

package surface

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// noisyPlaneCloud samples n points over [0,1]^2 at z = 0 with Gaussian
// noise sigma in z.
func noisyPlaneCloud(seed int64, n int, sigma float64) *cloud.PointBuffer {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mgl32.Vec3, n)
	for i := range pts {
		pts[i] = mgl32.Vec3{
			rng.Float32(),
			rng.Float32(),
			float32(rng.NormFloat64() * sigma),
		}
	}
	return cloud.FromVec3s(pts)
}

// sphereCloud samples n points on a sphere.
func sphereCloud(seed int64, n int, center mgl32.Vec3, radius float32) *cloud.PointBuffer {
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
	return cloud.FromVec3s(pts)
}

func TestFitPlane(t *testing.T) {
	t.Parallel()

	t.Run("exact plane", func(t *testing.T) {
		t.Parallel()
		pts := []mgl32.Vec3{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1}, {0.5, 0.5, 1}}
		pl, ok := FitPlane(pts)
		require.True(t, ok)
		assert.InDelta(t, 1.0, math.Abs(float64(pl.Normal[2])), 1e-5)
		assert.InDelta(t, 0.0, pl.Residual, 1e-10)
		assert.InDelta(t, 1.0, float64(pl.Centroid[2]), 1e-5)
	})

	t.Run("collinear points rejected", func(t *testing.T) {
		t.Parallel()
		pts := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}
		_, ok := FitPlane(pts)
		assert.False(t, ok)
	})

	t.Run("too few points", func(t *testing.T) {
		t.Parallel()
		_, ok := FitPlane([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}})
		assert.False(t, ok)
	})
}

func TestEstimateNormals_PlaneIsVertical(t *testing.T) {
	t.Parallel()

	buf := noisyPlaneCloud(42, 2000, 0.005)
	opts := DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 10}
	s, err := New(buf, opts)
	require.NoError(t, err)

	require.NoError(t, s.EstimateNormals())
	s.OrientNormals()

	for i := 0; i < buf.NumPoints(); i++ {
		n := s.Normal(i)
		assert.InDelta(t, 1.0, float64(n.Len()), 1e-4, "normal %d not unit", i)
		assert.Greater(t, float64(n[2]), 0.9, "normal %d not oriented toward +z", i)
	}
}

func TestEstimateNormals_RANSACOnPlane(t *testing.T) {
	t.Parallel()

	buf := noisyPlaneCloud(7, 1000, 0.002)
	opts := DefaultOptions()
	opts.UseRANSAC = true
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 10}
	s, err := New(buf, opts)
	require.NoError(t, err)

	require.NoError(t, s.EstimateNormals())
	s.OrientNormals()

	for i := 0; i < buf.NumPoints(); i += 17 {
		n := s.Normal(i)
		assert.Greater(t, math.Abs(float64(n[2])), 0.8, "normal %d off plane", i)
	}
}

func TestOrientNormals_FlipInvariant(t *testing.T) {
	t.Parallel()

	buf := sphereCloud(3, 500, mgl32.Vec3{}, 1)
	opts := DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0, 0, 0} // centre: all normals point inward
	s, err := New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.EstimateNormals())
	s.OrientNormals()

	for i := 0; i < buf.NumPoints(); i++ {
		p := buf.Position(i)
		ref := opts.FlipPoint
		assert.GreaterOrEqual(t, float64(s.Normal(i).Dot(ref.Sub(p))), 0.0, "point %d violates flip invariant", i)
	}
}

func TestOrientNormals_ScanPoses(t *testing.T) {
	t.Parallel()

	buf := noisyPlaneCloud(9, 300, 0)
	opts := DefaultOptions()
	opts.ScanPoses = []mgl32.Vec3{{0, 0, 5}, {1, 1, 5}}
	s, err := New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.EstimateNormals())
	s.OrientNormals()

	for i := 0; i < buf.NumPoints(); i++ {
		p := buf.Position(i)
		pose := s.nearestPose(p)
		assert.GreaterOrEqual(t, float64(s.Normal(i).Dot(pose.Sub(p))), 0.0)
	}
}

func TestInterpolateNormals_NearIdempotent(t *testing.T) {
	t.Parallel()

	buf := noisyPlaneCloud(13, 1500, 0.001)
	opts := DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 10}
	s, err := New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.EstimateNormals())
	s.OrientNormals()
	// Let the smoothing settle; the law under test is that one further
	// pass on unchanged topology barely moves anything.
	require.NoError(t, s.InterpolateNormals())
	require.NoError(t, s.InterpolateNormals())

	first := make([]mgl32.Vec3, len(s.normals))
	copy(first, s.normals)
	require.NoError(t, s.InterpolateNormals())

	// The further pass on unchanged topology may re-smooth each normal by
	// less than 1e-3 radians.
	for i := range first {
		dot := float64(first[i].Dot(s.normals[i]))
		if dot > 1 {
			dot = 1
		}
		assert.Less(t, math.Acos(dot), 1e-3, "normal %d moved too far", i)
	}
}

func TestDistance_SignConvention(t *testing.T) {
	t.Parallel()

	buf := noisyPlaneCloud(21, 2000, 0)
	opts := DefaultOptions()
	opts.FlipPoint = mgl32.Vec3{0.5, 0.5, 10} // normals toward +z: +z is outside
	s, err := New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.CalculateSurfaceNormals())

	outside, _, err := s.Distance(mgl32.Vec3{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Greater(t, float64(outside), 0.3)

	inside, _, err := s.Distance(mgl32.Vec3{0.5, 0.5, -0.5})
	require.NoError(t, err)
	assert.Less(t, float64(inside), -0.3)

	on, ref, err := s.Distance(mgl32.Vec3{0.5, 0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, float64(on), 0.05)
	assert.InDelta(t, 0.5, float64(ref[0]), 0.2)
}

func TestDistance_RequiresNormals(t *testing.T) {
	t.Parallel()

	s, err := New(noisyPlaneCloud(5, 10, 0), DefaultOptions())
	require.NoError(t, err)
	_, _, err = s.Distance(mgl32.Vec3{})
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
}

func TestNew_RejectsBadNeighbourhoods(t *testing.T) {
	t.Parallel()

	_, err := New(noisyPlaneCloud(5, 10, 0), Options{Kn: 0, Ki: 1, Kd: 1})
	assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
}

func TestCalculateSurfaceNormals_AdoptsExisting(t *testing.T) {
	t.Parallel()

	buf := cloud.FromVec3s([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	require.NoError(t, buf.SetNormals([]float32{0, 0, 1, 0, 0, 1, 0, 0, 1}))

	s, err := New(buf, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.CalculateSurfaceNormals())
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, s.Normal(2))
}

func TestEstimateNormals_DegenerateFallback(t *testing.T) {
	t.Parallel()

	// Two points: every neighbourhood has fewer than three members.
	buf := cloud.FromVec3s([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}})
	opts := Options{Kn: 5, Ki: 2, Kd: 2}
	s, err := New(buf, opts)
	require.NoError(t, err)
	require.NoError(t, s.EstimateNormals())

	assert.True(t, s.Degenerate(0))
	assert.True(t, s.Degenerate(1))
	assert.InDelta(t, 1.0, float64(s.Normal(0).Len()), 1e-5)
}

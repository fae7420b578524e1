// Package surface attaches consistently oriented normals to a point buffer
// and answers the signed-distance queries the voxel reconstructor samples.
// The k-neighbourhood sizes follow the conventional kn/ki/kd split: kn for
// estimation, ki for interpolation, kd for distance evaluation.
package surface

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/progress"
	"github.com/banshee-data/surface.report/internal/spatial"
)

// ransacTrials is the fixed RANSAC iteration count per neighbourhood.
const ransacTrials = 64

// Options configures a PointSet.
type Options struct {
	Kn int // neighbourhood size for normal estimation
	Ki int // neighbourhood size for normal interpolation
	Kd int // neighbourhood size for distance evaluation

	// UseRANSAC switches the plane fit from PCA to RANSAC over point
	// triples.
	UseRANSAC bool

	// FlipPoint globally orients normals when no scan poses are given.
	// The zero value (origin) matches the common tripod-scanner setup.
	FlipPoint mgl32.Vec3

	// ScanPoses, when non-empty, orients each normal toward the nearest
	// scanner origin instead of the flip point.
	ScanPoses []mgl32.Vec3

	// Threads bounds data-parallel fan-out; <= 0 means GOMAXPROCS.
	Threads int

	// Progress, if set, receives per-point completion during estimation.
	Progress progress.Func
}

// DefaultOptions mirrors the reconstruction tool defaults.
func DefaultOptions() Options {
	return Options{Kn: 10, Ki: 10, Kd: 5}
}

// PointSet is a point buffer with a search tree and oriented normals. Once
// normals are finalized, Distance is safe for concurrent use.
type PointSet struct {
	buf    *cloud.PointBuffer
	tree   *spatial.SearchTree
	bounds cloud.AABB
	opts   Options

	pts        []mgl32.Vec3
	normals    []mgl32.Vec3
	degenerate []bool
}

// New indexes buf and prepares a point set. Neighbourhood sizes below 1 are
// rejected.
func New(buf *cloud.PointBuffer, opts Options) (*PointSet, error) {
	if opts.Kn < 1 || opts.Ki < 1 || opts.Kd < 1 {
		return nil, fmt.Errorf("surface: kn=%d ki=%d kd=%d must all be >= 1: %w",
			opts.Kn, opts.Ki, opts.Kd, geomerr.ErrInvalidArgument)
	}

	n := buf.NumPoints()
	pts := make([]mgl32.Vec3, n)
	for i := 0; i < n; i++ {
		pts[i] = buf.Position(i)
	}
	tree, err := spatial.NewSearchTree(pts)
	if err != nil {
		return nil, err
	}

	return &PointSet{
		buf:    buf,
		tree:   tree,
		bounds: buf.Bounds(),
		opts:   opts,
		pts:    pts,
	}, nil
}

// Buffer returns the underlying point buffer.
func (s *PointSet) Buffer() *cloud.PointBuffer { return s.buf }

// Tree returns the search tree over the buffer's points.
func (s *PointSet) Tree() *spatial.SearchTree { return s.tree }

// Bounds returns the axis-aligned bounding box of the buffer.
func (s *PointSet) Bounds() cloud.AABB { return s.bounds }

// Normal returns the oriented normal of point i. Valid after normals are
// estimated or adopted.
func (s *PointSet) Normal(i int) mgl32.Vec3 { return s.normals[i] }

// HasNormals reports whether normals have been estimated or adopted.
func (s *PointSet) HasNormals() bool { return s.normals != nil }

// Degenerate reports whether point i received the centroid-displacement
// fallback normal (neighbourhood smaller than three points).
func (s *PointSet) Degenerate(i int) bool {
	return s.degenerate != nil && s.degenerate[i]
}

func (s *PointSet) threads() int {
	if s.opts.Threads > 0 {
		return s.opts.Threads
	}
	return runtime.GOMAXPROCS(0)
}

// parallelRange runs fn over [0, n) in contiguous chunks, one goroutine per
// chunk, bounded by the configured thread count. Chunks write disjoint index
// ranges so no synchronisation is needed beyond the join.
func (s *PointSet) parallelRange(n int, fn func(lo, hi int) error) error {
	workers := s.threads()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n == 0 {
			return nil
		}
		return fn(0, n)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		lo, hi := lo, hi
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}

// EstimateNormals fits a plane to each point's kn-neighbourhood and stores
// its unit normal. Neighbourhoods with fewer than three points fall back to
// the displacement from the neighbourhood centroid and are flagged as
// degenerate. Points with no neighbours at all fail the whole pass with
// ErrInsufficientSupport (an indexed point always finds itself, so this
// only fires on an empty buffer queried externally).
func (s *PointSet) EstimateNormals() error {
	done := monitoring.Stage("normal estimation")
	defer done()

	n := len(s.pts)
	s.normals = make([]mgl32.Vec3, n)
	s.degenerate = make([]bool, n)

	report := progress.Every(4096, s.opts.Progress)
	err := s.parallelRange(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := s.estimateOne(i); err != nil {
				return err
			}
			progress.Report(report, i+1, n)
		}
		return nil
	})
	if err != nil {
		s.normals = nil
		s.degenerate = nil
	}
	return err
}

func (s *PointSet) estimateOne(i int) error {
	res, err := s.tree.KSearch(s.pts[i], s.opts.Kn)
	if err != nil {
		return err
	}
	if len(res) == 0 {
		return geomerr.Entityf(geomerr.ErrInsufficientSupport, "normal estimation", uint64(i), "no neighbours")
	}

	nb := make([]mgl32.Vec3, len(res))
	for j, r := range res {
		nb[j] = s.pts[r.Index]
	}

	if len(nb) < 3 {
		s.degenerate[i] = true
		s.normals[i] = degenerateNormal(s.pts[i], nb)
		return nil
	}

	var pl Plane
	var ok bool
	if s.opts.UseRANSAC {
		pl, ok = ransacPlane(nb, int64(i))
	} else {
		pl, ok = FitPlane(nb)
	}
	if !ok {
		s.degenerate[i] = true
		s.normals[i] = degenerateNormal(s.pts[i], nb)
		return nil
	}
	s.normals[i] = pl.Normal
	return nil
}

// degenerateNormal is the under-supported fallback: the point's unit
// displacement from the neighbourhood centroid.
func degenerateNormal(p mgl32.Vec3, nb []mgl32.Vec3) mgl32.Vec3 {
	var c mgl32.Vec3
	for _, q := range nb {
		c = c.Add(q)
	}
	c = c.Mul(1 / float32(len(nb)))
	d := p.Sub(c)
	if l := d.Len(); l > 1e-12 {
		return d.Mul(1 / l)
	}
	// Coincident neighbourhood: any fixed direction is as good as another.
	return mgl32.Vec3{0, 0, 1}
}

// ransacPlane fits a plane by sampling point triples. The inlier threshold
// is a quarter of the neighbourhood diameter; the winner has the most
// inliers, ties broken by the lower squared residual. The generator is
// seeded per point index so runs are reproducible.
func ransacPlane(nb []mgl32.Vec3, seed int64) (Plane, bool) {
	box := cloud.NewAABB()
	for _, p := range nb {
		box.Expand(p)
	}
	threshold := box.Size().Len() * 0.25
	if threshold <= 0 {
		return Plane{}, false
	}

	rng := rand.New(rand.NewSource(seed))
	bestInliers := -1
	bestResidual := math.Inf(1)
	var bestNormal, bestAnchor mgl32.Vec3

	for trial := 0; trial < ransacTrials; trial++ {
		a, b, c := rng.Intn(len(nb)), rng.Intn(len(nb)), rng.Intn(len(nb))
		if a == b || b == c || a == c {
			continue
		}
		normal := nb[b].Sub(nb[a]).Cross(nb[c].Sub(nb[a]))
		l := normal.Len()
		if l < 1e-12 {
			continue
		}
		normal = normal.Mul(1 / l)

		inliers := 0
		residual := 0.0
		for _, p := range nb {
			d := normal.Dot(p.Sub(nb[a]))
			if d < 0 {
				d = -d
			}
			if d <= threshold {
				inliers++
				residual += float64(d) * float64(d)
			}
		}
		if inliers > bestInliers || (inliers == bestInliers && residual < bestResidual) {
			bestInliers = inliers
			bestResidual = residual
			bestNormal = normal
			bestAnchor = nb[a]
		}
	}
	if bestInliers < 3 {
		return Plane{}, false
	}
	return Plane{Normal: bestNormal, Centroid: bestAnchor}, true
}

// OrientNormals enforces a globally consistent orientation: each normal is
// negated if it points away from its reference, the nearest scan pose when
// poses are configured, the flip point otherwise. After this pass
// dot(n, ref - p) >= 0 holds for every point.
func (s *PointSet) OrientNormals() {
	done := monitoring.Stage("normal orientation")
	defer done()

	for i := range s.normals {
		ref := s.opts.FlipPoint
		if len(s.opts.ScanPoses) > 0 {
			ref = s.nearestPose(s.pts[i])
		}
		if s.normals[i].Dot(ref.Sub(s.pts[i])) < 0 {
			s.normals[i] = s.normals[i].Mul(-1)
		}
	}
}

func (s *PointSet) nearestPose(p mgl32.Vec3) mgl32.Vec3 {
	best := s.opts.ScanPoses[0]
	bestD := p.Sub(best).LenSqr()
	for _, pose := range s.opts.ScanPoses[1:] {
		if d := p.Sub(pose).LenSqr(); d < bestD {
			best = pose
			bestD = d
		}
	}
	return best
}

// InterpolateNormals replaces every normal with the renormalized arithmetic
// mean of its ki nearest neighbours' normals. Reads come from a snapshot so
// the pass order does not matter; a second pass on unchanged topology only
// re-smooths marginally.
func (s *PointSet) InterpolateNormals() error {
	done := monitoring.Stage("normal interpolation")
	defer done()

	snapshot := make([]mgl32.Vec3, len(s.normals))
	copy(snapshot, s.normals)

	return s.parallelRange(len(s.pts), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			res, err := s.tree.KSearch(s.pts[i], s.opts.Ki)
			if err != nil {
				return err
			}
			var sum mgl32.Vec3
			for _, r := range res {
				sum = sum.Add(snapshot[r.Index])
			}
			if l := sum.Len(); l > 1e-12 {
				s.normals[i] = sum.Mul(1 / l)
			}
		}
		return nil
	})
}

// CalculateSurfaceNormals is the driver-facing wrapper: adopt buffer
// normals when present, otherwise estimate, orient and interpolate, then
// write the result back into the buffer's normal channel.
func (s *PointSet) CalculateSurfaceNormals() error {
	if s.buf.HasNormals() {
		monitoring.Logf("surface: adopting %d precomputed normals", s.buf.NumPoints())
		s.normals = make([]mgl32.Vec3, s.buf.NumPoints())
		for i := range s.normals {
			s.normals[i] = s.buf.Normal(i)
		}
		s.degenerate = make([]bool, s.buf.NumPoints())
		return nil
	}

	if err := s.EstimateNormals(); err != nil {
		return err
	}
	s.OrientNormals()
	if err := s.InterpolateNormals(); err != nil {
		return err
	}

	flat := make([]float32, 0, len(s.normals)*3)
	for _, n := range s.normals {
		flat = append(flat, n[0], n[1], n[2])
	}
	return s.buf.SetNormals(flat)
}

// NearestNormal returns the oriented normal of the input point closest to
// q. ok is false on an empty buffer or before normals exist.
func (s *PointSet) NearestNormal(q mgl32.Vec3) (mgl32.Vec3, bool) {
	if s.normals == nil {
		return mgl32.Vec3{}, false
	}
	r, ok, err := s.tree.Nearest(q)
	if err != nil || !ok {
		return mgl32.Vec3{}, false
	}
	return s.normals[r.Index], true
}

// Distance evaluates the signed distance at q from the kd nearest oriented
// points: the mean of dot(n_i, q - x_i). Positive means outside. The second
// return is the neighbourhood mean point. Queries with no support fail with
// ErrInsufficientSupport.
func (s *PointSet) Distance(q mgl32.Vec3) (float32, mgl32.Vec3, error) {
	if s.normals == nil {
		return 0, mgl32.Vec3{}, fmt.Errorf("surface: normals not computed: %w", geomerr.ErrInvalidArgument)
	}
	res, err := s.tree.KSearch(q, s.opts.Kd)
	if err != nil {
		return 0, mgl32.Vec3{}, err
	}
	if len(res) == 0 {
		return 0, mgl32.Vec3{}, fmt.Errorf("surface: distance query without neighbours: %w",
			geomerr.ErrInsufficientSupport)
	}

	var d float64
	var ref mgl32.Vec3
	for _, r := range res {
		x := s.pts[r.Index]
		d += float64(s.normals[r.Index].Dot(q.Sub(x)))
		ref = ref.Add(x)
	}
	inv := 1 / float32(len(res))
	return float32(d / float64(len(res))), ref.Mul(inv), nil
}

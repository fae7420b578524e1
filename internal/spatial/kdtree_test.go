package spatial

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

func randomCloud(seed int64, n int) []mgl32.Vec3 {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]mgl32.Vec3, n)
	for i := range pts {
		pts[i] = mgl32.Vec3{rng.Float32() * 10, rng.Float32() * 10, rng.Float32() * 10}
	}
	return pts
}

// bruteKNN is the reference answer: full sort by (distance, index).
func bruteKNN(pts []mgl32.Vec3, q mgl32.Vec3, k int) []Result {
	all := make([]Result, len(pts))
	for i, p := range pts {
		all[i] = Result{Index: uint32(i), DistSq: distSq(q, p)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DistSq != all[j].DistSq {
			return all[i].DistSq < all[j].DistSq
		}
		return all[i].Index < all[j].Index
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func TestKSearch_IdentityLaw(t *testing.T) {
	t.Parallel()

	pts := randomCloud(1, 500)
	tree, err := NewSearchTree(pts)
	require.NoError(t, err)

	// Every indexed point is its own nearest neighbour at distance zero.
	for i, p := range pts {
		res, err := tree.KSearch(p, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, uint32(i), res[0].Index, "point %d", i)
		assert.Equal(t, float32(0), res[0].DistSq)
	}
}

func TestKSearch_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	pts := randomCloud(7, 800)
	tree, err := NewSearchTree(pts, WithMaxLeafSize(8))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 50; trial++ {
		q := mgl32.Vec3{rng.Float32() * 10, rng.Float32() * 10, rng.Float32() * 10}
		k := 1 + rng.Intn(20)
		got, err := tree.KSearch(q, k)
		require.NoError(t, err)
		assert.Equal(t, bruteKNN(pts, q, k), got, "trial %d k=%d", trial, k)
	}
}

func TestKSearch_TieBreaksBySmallerIndex(t *testing.T) {
	t.Parallel()

	// Four coincident points plus a distant one: ties must resolve to the
	// smallest indices.
	pts := []mgl32.Vec3{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}, {1, 1, 1}, {5, 5, 5}}
	tree, err := NewSearchTree(pts, WithMaxLeafSize(1))
	require.NoError(t, err)

	res, err := tree.KSearch(mgl32.Vec3{1, 1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, uint32(0), res[0].Index)
	assert.Equal(t, uint32(1), res[1].Index)
}

func TestKSearch_EdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("empty tree", func(t *testing.T) {
		t.Parallel()
		tree, err := NewSearchTree(nil)
		require.NoError(t, err)
		res, err := tree.KSearch(mgl32.Vec3{}, 5)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("k zero", func(t *testing.T) {
		t.Parallel()
		tree, err := NewSearchTree(randomCloud(2, 10))
		require.NoError(t, err)
		res, err := tree.KSearch(mgl32.Vec3{}, 0)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("k exceeds point count", func(t *testing.T) {
		t.Parallel()
		tree, err := NewSearchTree(randomCloud(3, 5))
		require.NoError(t, err)
		res, err := tree.KSearch(mgl32.Vec3{}, 50)
		require.NoError(t, err)
		assert.Len(t, res, 5)
	})

	t.Run("NaN query rejected", func(t *testing.T) {
		t.Parallel()
		tree, err := NewSearchTree(randomCloud(4, 10))
		require.NoError(t, err)
		_, err = tree.KSearch(mgl32.Vec3{float32(math.NaN()), 0, 0}, 3)
		assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
	})

	t.Run("NaN input rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSearchTree([]mgl32.Vec3{{float32(math.NaN()), 0, 0}})
		assert.ErrorIs(t, err, geomerr.ErrInvalidArgument)
	})
}

func TestRadiusSearch_Complete(t *testing.T) {
	t.Parallel()

	pts := randomCloud(11, 600)
	tree, err := NewSearchTree(pts, WithMaxLeafSize(4))
	require.NoError(t, err)

	q := mgl32.Vec3{5, 5, 5}
	const r = 2.5
	got, err := tree.RadiusSearch(q, r, -1)
	require.NoError(t, err)

	want := map[uint32]bool{}
	for i, p := range pts {
		if distSq(q, p) <= r*r {
			want[uint32(i)] = true
		}
	}
	require.Equal(t, len(want), len(got), "radius search must be complete")
	for _, res := range got {
		assert.True(t, want[res.Index], "point %d outside radius", res.Index)
		assert.LessOrEqual(t, res.DistSq, float32(r*r))
	}
}

func TestRadiusSearch_KMax(t *testing.T) {
	t.Parallel()

	pts := randomCloud(12, 300)
	tree, err := NewSearchTree(pts)
	require.NoError(t, err)

	got, err := tree.RadiusSearch(mgl32.Vec3{5, 5, 5}, 8, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestKSearch_DeterministicAcrossConcurrency(t *testing.T) {
	t.Parallel()

	pts := randomCloud(42, 100000)
	tree, err := NewSearchTree(pts)
	require.NoError(t, err)

	reference, err := tree.KSearch(pts[0], 10)
	require.NoError(t, err)
	require.Len(t, reference, 10)

	// The tree is immutable after construction: hammering it from many
	// goroutines must reproduce the single-threaded answer bit for bit.
	for _, workers := range []int{1, 4, 16} {
		var wg sync.WaitGroup
		results := make([][]Result, workers)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				res, err := tree.KSearch(pts[0], 10)
				if err != nil {
					t.Error(err)
					return
				}
				results[w] = res
			}(w)
		}
		wg.Wait()
		for w := 0; w < workers; w++ {
			assert.Equal(t, reference, results[w], "workers=%d", workers)
		}
	}
}

func TestNearest(t *testing.T) {
	t.Parallel()

	pts := []mgl32.Vec3{{0, 0, 0}, {10, 0, 0}}
	tree, err := NewSearchTree(pts)
	require.NoError(t, err)

	r, ok, err := tree.Nearest(mgl32.Vec3{9, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), r.Index)

	empty, err := NewSearchTree(nil)
	require.NoError(t, err)
	_, ok, err = empty.Nearest(mgl32.Vec3{})
	require.NoError(t, err)
	assert.False(t, ok)
}

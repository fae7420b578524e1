// Package spatial provides the balanced k-d tree that serves k-nearest-
// neighbour and radius queries over point clouds. The tree is built once
// over an index permutation (no point copies) and is immutable afterwards,
// so concurrent queries are safe.
package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// DefaultMaxLeafSize bounds the number of point indices per leaf.
const DefaultMaxLeafSize = 20

// Result is one neighbour candidate: the point index and the squared
// Euclidean distance to the query.
type Result struct {
	Index  uint32
	DistSq float32
}

type node struct {
	axis  int8 // 0..2 for interior nodes, -1 for leaves
	split float32
	// Interior: child node indices. Leaf: [start, end) range into the
	// permutation array.
	left, right int32
	start, end  int32
}

// SearchTree is a balanced k-d tree over a point slice. The split axis
// cycles x, y, z with depth; split values are medians selected in expected
// linear time. Equal coordinates are ordered by point index, which makes
// construction fully deterministic for identical input.
type SearchTree struct {
	pts     []mgl32.Vec3
	idx     []uint32
	nodes   []node
	root    int32
	maxLeaf int
}

// Option configures tree construction.
type Option func(*SearchTree)

// WithMaxLeafSize overrides DefaultMaxLeafSize.
func WithMaxLeafSize(n int) Option {
	return func(t *SearchTree) {
		if n >= 1 {
			t.maxLeaf = n
		}
	}
}

// NewSearchTree builds a tree over pts. The slice is referenced, not
// copied; it must not be mutated while the tree is alive. Non-finite
// coordinates are rejected.
func NewSearchTree(pts []mgl32.Vec3, opts ...Option) (*SearchTree, error) {
	for i, p := range pts {
		for a := 0; a < 3; a++ {
			if math.IsNaN(float64(p[a])) || math.IsInf(float64(p[a]), 0) {
				return nil, fmt.Errorf("spatial: non-finite coordinate in point %d: %w",
					i, geomerr.ErrInvalidArgument)
			}
		}
	}

	t := &SearchTree{
		pts:     pts,
		idx:     make([]uint32, len(pts)),
		maxLeaf: DefaultMaxLeafSize,
		root:    -1,
	}
	for _, o := range opts {
		o(t)
	}
	for i := range t.idx {
		t.idx[i] = uint32(i)
	}
	if len(pts) > 0 {
		t.nodes = make([]node, 0, 2*len(pts)/t.maxLeaf+1)
		t.root = t.build(0, int32(len(pts)), 0)
	}
	return t, nil
}

// NumPoints returns the number of indexed points.
func (t *SearchTree) NumPoints() int { return len(t.pts) }

// build recursively partitions idx[lo:hi) and returns the node index.
func (t *SearchTree) build(lo, hi int32, depth int) int32 {
	if hi-lo <= int32(t.maxLeaf) {
		t.nodes = append(t.nodes, node{axis: -1, start: lo, end: hi})
		return int32(len(t.nodes) - 1)
	}

	axis := depth % 3
	mid := (lo + hi) / 2
	t.selectNth(lo, hi, mid, axis)
	split := t.pts[t.idx[mid]][axis]

	// Reserve our slot before recursing so parents precede children.
	self := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{axis: int8(axis), split: split})
	left := t.build(lo, mid, depth+1)
	right := t.build(mid, hi, depth+1)
	t.nodes[self].left = left
	t.nodes[self].right = right
	return self
}

// less orders two permutation entries on an axis, breaking coordinate ties
// by point index. The strict total order keeps median selection and the
// resulting tree deterministic.
func (t *SearchTree) less(a, b uint32, axis int) bool {
	ca, cb := t.pts[a][axis], t.pts[b][axis]
	if ca != cb {
		return ca < cb
	}
	return a < b
}

// selectNth partially sorts idx[lo:hi) so that idx[n] holds the n-th
// element in axis order. Classic quickselect with a middle pivot; expected
// linear time.
func (t *SearchTree) selectNth(lo, hi, n int32, axis int) {
	for hi-lo > 1 {
		pivot := t.idx[(lo+hi)/2]
		i, j := lo, hi-1
		for i <= j {
			for t.less(t.idx[i], pivot, axis) {
				i++
			}
			for t.less(pivot, t.idx[j], axis) {
				j--
			}
			if i <= j {
				t.idx[i], t.idx[j] = t.idx[j], t.idx[i]
				i++
				j--
			}
		}
		switch {
		case n <= j:
			hi = j + 1
		case n >= i:
			lo = i
		default:
			return
		}
	}
}

// KSearch returns the k nearest points to q, ordered by ascending squared
// distance; ties are broken by the smaller point index. k <= 0 or an empty
// tree yields an empty result. NaN queries are rejected.
func (t *SearchTree) KSearch(q mgl32.Vec3, k int) ([]Result, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	if k <= 0 || t.root < 0 {
		return nil, nil
	}
	if k > len(t.pts) {
		k = len(t.pts)
	}

	h := boundedHeap{cap: k}
	t.knn(t.root, q, &h)

	out := h.items
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// Nearest returns the single closest point to q. ok is false on an empty
// tree.
func (t *SearchTree) Nearest(q mgl32.Vec3) (r Result, ok bool, err error) {
	res, err := t.KSearch(q, 1)
	if err != nil || len(res) == 0 {
		return Result{}, false, err
	}
	return res[0], true, nil
}

func (t *SearchTree) knn(ni int32, q mgl32.Vec3, h *boundedHeap) {
	n := &t.nodes[ni]
	if n.axis < 0 {
		for _, pi := range t.idx[n.start:n.end] {
			h.offer(Result{Index: pi, DistSq: distSq(q, t.pts[pi])})
		}
		return
	}

	d := q[n.axis] - n.split
	near, far := n.left, n.right
	if d > 0 {
		near, far = far, near
	}
	t.knn(near, q, h)
	// The far side can only contain closer points if the splitting plane
	// is nearer than the current worst candidate.
	if !h.full() || d*d <= h.worst() {
		t.knn(far, q, h)
	}
}

// RadiusSearch returns points within Euclidean distance r of q, at most
// kmax of them (kmax <= 0 removes the bound). Order is unspecified but no
// in-range point is omitted while the bound allows.
func (t *SearchTree) RadiusSearch(q mgl32.Vec3, r float32, kmax int) ([]Result, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	if r < 0 || math.IsNaN(float64(r)) {
		return nil, fmt.Errorf("spatial: radius %v: %w", r, geomerr.ErrInvalidArgument)
	}
	if t.root < 0 || kmax == 0 {
		return nil, nil
	}
	if kmax < 0 {
		kmax = math.MaxInt
	}

	var out []Result
	rSq := r * r

	// Explicit stack instead of recursion; radius queries over dense
	// neighbourhoods can visit many leaves.
	stack := []int32{t.root}
	for len(stack) > 0 && len(out) < kmax {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[ni]

		if n.axis < 0 {
			for _, pi := range t.idx[n.start:n.end] {
				if d := distSq(q, t.pts[pi]); d <= rSq {
					out = append(out, Result{Index: pi, DistSq: d})
					if len(out) >= kmax {
						break
					}
				}
			}
			continue
		}

		d := q[n.axis] - n.split
		near, far := n.left, n.right
		if d > 0 {
			near, far = far, near
		}
		// Push far first so the near side is explored first.
		if d*d <= rSq {
			stack = append(stack, far)
		}
		stack = append(stack, near)
	}
	return out, nil
}

func checkQuery(q mgl32.Vec3) error {
	for a := 0; a < 3; a++ {
		if math.IsNaN(float64(q[a])) || math.IsInf(float64(q[a]), 0) {
			return fmt.Errorf("spatial: non-finite query coordinate: %w", geomerr.ErrInvalidArgument)
		}
	}
	return nil
}

func distSq(a, b mgl32.Vec3) float32 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}

// boundedHeap is a fixed-capacity max-heap on (distance, index): the root is
// the current worst candidate, which k-NN pruning compares against. On equal
// distance the larger index ranks worse, so the smaller index survives when
// the heap is full.
type boundedHeap struct {
	items []Result
	cap   int
}

func (h *boundedHeap) full() bool { return len(h.items) >= h.cap }

func (h *boundedHeap) worst() float32 { return h.items[0].DistSq }

func worse(a, b Result) bool {
	if a.DistSq != b.DistSq {
		return a.DistSq > b.DistSq
	}
	return a.Index > b.Index
}

func (h *boundedHeap) offer(r Result) {
	if h.full() {
		if !worse(h.items[0], r) {
			return
		}
		h.items[0] = r
		h.siftDown(0)
		return
	}
	h.items = append(h.items, r)
	h.siftUp(len(h.items) - 1)
}

func (h *boundedHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !worse(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *boundedHeap) siftDown(i int) {
	n := len(h.items)
	for {
		l, r := 2*i+1, 2*i+2
		largest := i
		if l < n && worse(h.items[l], h.items[largest]) {
			largest = l
		}
		if r < n && worse(h.items[r], h.items[largest]) {
			largest = r
		}
		if largest == i {
			return
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
}

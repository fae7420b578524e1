// Package voxel builds a sparse signed-distance grid around a point set and
// extracts an indexed triangle mesh from its zero level set. Cells live in a
// narrow band around the input points; corners are shared between adjacent
// cells through a global corner table so the extracted surface is watertight.
package voxel

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/progress"
	"github.com/banshee-data/surface.report/internal/surface"
)

// bandRadiusCells scales the narrow band: a cell is instantiated when its
// centre lies within bandRadiusCells * voxelSize of an input point.
const bandRadiusCells = 1.5

// keyBits is the per-axis width of packed lattice keys. 21 bits per axis
// fill a uint64 and bound the grid to 2^21 cells per side.
const keyBits = 21

const maxAxisIndex = (1 << keyBits) - 1

// Decomposition selects the cell decomposition used for iso-extraction.
type Decomposition int

const (
	// MC is standard marching cubes over the 256-case table.
	MC Decomposition = iota
	// PMC is marching cubes with near-coplanar cell vertices snapped to
	// their best-fit plane to suppress staircasing.
	PMC
	// MT splits each cell into six tetrahedra, avoiding the ambiguous MC
	// face cases at the cost of more triangles.
	MT
	// SF is marching cubes with an extra interior feature vertex in cells
	// whose sampled normals disagree, preserving sharp edges.
	SF
)

// ParseDecomposition maps the CLI spelling to a Decomposition.
func ParseDecomposition(s string) (Decomposition, error) {
	switch s {
	case "MC":
		return MC, nil
	case "PMC":
		return PMC, nil
	case "MT":
		return MT, nil
	case "SF":
		return SF, nil
	}
	return 0, fmt.Errorf("voxel: unknown decomposition %q: %w", s, geomerr.ErrInvalidArgument)
}

func (d Decomposition) String() string {
	switch d {
	case MC:
		return "MC"
	case PMC:
		return "PMC"
	case MT:
		return "MT"
	case SF:
		return "SF"
	}
	return fmt.Sprintf("Decomposition(%d)", int(d))
}

// Params configures grid construction.
type Params struct {
	// VoxelSize is the cell edge length in metres.
	VoxelSize float32

	// Extrude pads the bounding box by one cell on each side before
	// instantiating the band.
	Extrude bool

	// Decomposition selects the iso-extraction variant.
	Decomposition Decomposition

	// SharpFeatureThreshold is the cosine below which SF cells receive a
	// feature vertex (smaller cosine = larger normal disagreement).
	SharpFeatureThreshold float64

	// SharpCornerThreshold is accepted for forward compatibility with a
	// corner-detection extension; it is currently unused.
	SharpCornerThreshold float64

	// Threads bounds parallel distance evaluation and extraction; <= 0
	// means GOMAXPROCS.
	Threads int

	// Progress, if set, receives per-corner completion during distance
	// evaluation.
	Progress progress.Func
}

// DefaultParams mirrors the reconstruction tool defaults.
func DefaultParams(voxelSize float32) Params {
	return Params{
		VoxelSize:             voxelSize,
		Decomposition:         PMC,
		SharpFeatureThreshold: 0.9,
		SharpCornerThreshold:  0.7,
	}
}

// corner is one lattice corner: its position, signed distance and validity.
// Invalid corners had no neighbourhood support; cells touching them emit no
// triangles.
type corner struct {
	pos   mgl32.Vec3
	dist  float32
	valid bool
}

// cell holds the eight corner-table indices of one instantiated voxel in
// table numbering (see tables.go).
type cell struct {
	corners [8]uint32
}

// Grid is the sparse signed-distance grid. After Build it is immutable.
type Grid struct {
	params Params
	surf   *surface.PointSet

	origin mgl32.Vec3

	cellKeys []uint64 // ascending
	cells    []cell   // parallel to cellKeys

	corners     []corner
	cornerIndex map[uint64]uint32
}

func packKey(i, j, k int32) uint64 {
	return uint64(i) | uint64(j)<<keyBits | uint64(k)<<(2*keyBits)
}

func unpackKey(key uint64) (i, j, k int32) {
	return int32(key & maxAxisIndex),
		int32((key >> keyBits) & maxAxisIndex),
		int32((key >> (2 * keyBits)) & maxAxisIndex)
}

// NewGrid instantiates the narrow band of cells around the point set and
// assembles the shared corner table. Distances are not evaluated yet; call
// Build for the full pipeline.
func NewGrid(surf *surface.PointSet, params Params) (*Grid, error) {
	if params.VoxelSize <= 0 || math.IsNaN(float64(params.VoxelSize)) {
		return nil, fmt.Errorf("voxel: voxel size %v: %w", params.VoxelSize, geomerr.ErrInvalidArgument)
	}
	if params.SharpFeatureThreshold == 0 {
		params.SharpFeatureThreshold = 0.9
	}

	g := &Grid{params: params, surf: surf, cornerIndex: map[uint64]uint32{}}

	// Fewer than three points cannot define a surface patch; such buffers
	// yield an empty grid and, downstream, an empty mesh.
	bounds := surf.Bounds()
	if bounds.Empty() || surf.Buffer().NumPoints() < 3 {
		return g, nil
	}
	if params.Extrude {
		bounds.Pad(params.VoxelSize)
	}
	// One extra band cell of slack so band cells near the lower box face
	// keep non-negative indices.
	g.origin = bounds.Min.Sub(mgl32.Vec3{2 * params.VoxelSize, 2 * params.VoxelSize, 2 * params.VoxelSize})

	size := bounds.Size()
	for a := 0; a < 3; a++ {
		if float64(size[a]/params.VoxelSize) > maxAxisIndex-4 {
			return nil, fmt.Errorf("voxel: grid exceeds %d cells on axis %d: %w",
				maxAxisIndex, a, geomerr.ErrAllocation)
		}
	}

	g.collectCells()
	g.buildCornerTable()
	return g, nil
}

// collectCells marks every cell whose centre lies within the narrow band of
// an input point. Workers accumulate local key sets that are merged and
// sorted, so the result is independent of the thread count.
func (g *Grid) collectCells() {
	done := monitoring.Stage("voxel band construction")
	defer done()

	s := g.params.VoxelSize
	band := bandRadiusCells * s
	bandSq := band * band
	// A cell centre within the band is at most ceil(1.5 + 0.5) cells away.
	const reach = 2

	n := g.surf.Buffer().NumPoints()
	workers := g.threads()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	locals := make([]map[uint64]struct{}, workers)
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			locals[w] = map[uint64]struct{}{}
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			set := make(map[uint64]struct{}, (hi-lo)*4)
			for i := lo; i < hi; i++ {
				p := g.surf.Buffer().Position(i)
				ci := int32(math.Floor(float64((p[0] - g.origin[0]) / s)))
				cj := int32(math.Floor(float64((p[1] - g.origin[1]) / s)))
				ck := int32(math.Floor(float64((p[2] - g.origin[2]) / s)))
				for di := int32(-reach); di <= reach; di++ {
					for dj := int32(-reach); dj <= reach; dj++ {
						for dk := int32(-reach); dk <= reach; dk++ {
							i2, j2, k2 := ci+di, cj+dj, ck+dk
							if i2 < 0 || j2 < 0 || k2 < 0 {
								continue
							}
							center := g.cornerPos(i2, j2, k2).Add(mgl32.Vec3{s / 2, s / 2, s / 2})
							d := center.Sub(p)
							if d.Dot(d) <= bandSq {
								set[packKey(i2, j2, k2)] = struct{}{}
							}
						}
					}
				}
			}
			locals[w] = set
		}(w, lo, hi)
	}
	wg.Wait()

	merged := make(map[uint64]struct{})
	for _, set := range locals {
		for k := range set {
			merged[k] = struct{}{}
		}
	}
	g.cellKeys = make([]uint64, 0, len(merged))
	for k := range merged {
		g.cellKeys = append(g.cellKeys, k)
	}
	sort.Slice(g.cellKeys, func(a, b int) bool { return g.cellKeys[a] < g.cellKeys[b] })
	monitoring.Logf("voxel: %d band cells", len(g.cellKeys))
}

// buildCornerTable registers the eight corners of every cell in a
// concurrent corner set, then renumbers corners in ascending key order so
// indices are deterministic regardless of insertion interleaving.
func (g *Grid) buildCornerTable() {
	set := newCornerSet()

	var wg sync.WaitGroup
	workers := g.threads()
	chunk := (len(g.cellKeys) + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	for lo := 0; lo < len(g.cellKeys); lo += chunk {
		hi := lo + chunk
		if hi > len(g.cellKeys) {
			hi = len(g.cellKeys)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for _, key := range g.cellKeys[lo:hi] {
				i, j, k := unpackKey(key)
				for c := 0; c < 8; c++ {
					off := mcCornerOffset[c]
					set.insert(packKey(i+off[0], j+off[1], k+off[2]))
				}
			}
		}(lo, hi)
	}
	wg.Wait()

	cornerKeys := set.sortedKeys()
	g.corners = make([]corner, len(cornerKeys))
	g.cornerIndex = make(map[uint64]uint32, len(cornerKeys))
	for idx, key := range cornerKeys {
		i, j, k := unpackKey(key)
		g.corners[idx] = corner{pos: g.cornerPos(i, j, k)}
		g.cornerIndex[key] = uint32(idx)
	}

	g.cells = make([]cell, len(g.cellKeys))
	for ci, key := range g.cellKeys {
		i, j, k := unpackKey(key)
		for c := 0; c < 8; c++ {
			off := mcCornerOffset[c]
			g.cells[ci].corners[c] = g.cornerIndex[packKey(i+off[0], j+off[1], k+off[2])]
		}
	}
	monitoring.Logf("voxel: %d shared corners", len(g.corners))
}

func (g *Grid) cornerPos(i, j, k int32) mgl32.Vec3 {
	s := g.params.VoxelSize
	return g.origin.Add(mgl32.Vec3{float32(i) * s, float32(j) * s, float32(k) * s})
}

func (g *Grid) threads() int {
	if g.params.Threads > 0 {
		return g.params.Threads
	}
	return runtime.GOMAXPROCS(0)
}

// EvaluateDistances samples the point-set surface at every corner. Corners
// whose query fails with insufficient support are marked invalid; any other
// failure aborts. Each corner's value is written exactly once, so adjacent
// cells agree bit-exactly on shared corners by construction.
func (g *Grid) EvaluateDistances() error {
	done := monitoring.Stage("distance evaluation")
	defer done()

	n := len(g.corners)
	report := progress.Every(4096, g.params.Progress)

	var invalid int64
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.threads())
	chunk := (n + g.threads() - 1) / g.threads()
	if chunk < 1 {
		chunk = 1
	}
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		lo, hi := lo, hi
		eg.Go(func() error {
			bad := int64(0)
			for i := lo; i < hi; i++ {
				d, _, err := g.surf.Distance(g.corners[i].pos)
				switch {
				case err == nil:
					g.corners[i].dist = d
					g.corners[i].valid = true
				case geomerr.Recoverable(err):
					bad++
				default:
					return err
				}
				progress.Report(report, i+1, n)
			}
			mu.Lock()
			invalid += bad
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if invalid > 0 {
		monitoring.Logf("voxel: %d corners without support marked invalid", invalid)
	}
	return nil
}

// Build runs band construction and distance evaluation, returning the
// ready-to-extract grid.
func Build(surf *surface.PointSet, params Params) (*Grid, error) {
	g, err := NewGrid(surf, params)
	if err != nil {
		return nil, err
	}
	if err := g.EvaluateDistances(); err != nil {
		return nil, err
	}
	return g, nil
}

// NumCells returns the number of instantiated band cells.
func (g *Grid) NumCells() int { return len(g.cells) }

// NumCorners returns the size of the shared corner table.
func (g *Grid) NumCorners() int { return len(g.corners) }

// CornerDistance exposes a corner's signed distance for inspection.
func (g *Grid) CornerDistance(i uint32) (float32, bool) {
	c := g.corners[i]
	return c.dist, c.valid
}

// cornerSet is the concurrent corner registry used during construction:
// a sharded lock-striped set keyed by packed corner coordinates.
type cornerSet struct {
	shards [64]struct {
		mu   sync.Mutex
		keys map[uint64]struct{}
	}
}

func newCornerSet() *cornerSet {
	s := &cornerSet{}
	for i := range s.shards {
		s.shards[i].keys = make(map[uint64]struct{})
	}
	return s
}

func (s *cornerSet) insert(key uint64) {
	sh := &s.shards[key%uint64(len(s.shards))]
	sh.mu.Lock()
	sh.keys[key] = struct{}{}
	sh.mu.Unlock()
}

func (s *cornerSet) sortedKeys() []uint64 {
	var out []uint64
	for i := range s.shards {
		for k := range s.shards[i].keys {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

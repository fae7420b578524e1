package cloud

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box in world coordinates. The zero value
// from NewAABB is empty; expanding it with points grows it monotonically.
type AABB struct {
	Min, Max mgl32.Vec3
	empty    bool
}

// NewAABB returns an empty box.
func NewAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min:   mgl32.Vec3{inf, inf, inf},
		Max:   mgl32.Vec3{-inf, -inf, -inf},
		empty: true,
	}
}

// Empty reports whether the box contains no points.
func (b *AABB) Empty() bool { return b.empty }

// Expand grows the box to contain p.
func (b *AABB) Expand(p mgl32.Vec3) {
	for a := 0; a < 3; a++ {
		if p[a] < b.Min[a] {
			b.Min[a] = p[a]
		}
		if p[a] > b.Max[a] {
			b.Max[a] = p[a]
		}
	}
	b.empty = false
}

// Pad grows the box by d on every side.
func (b *AABB) Pad(d float32) {
	if b.empty {
		return
	}
	for a := 0; a < 3; a++ {
		b.Min[a] -= d
		b.Max[a] += d
	}
}

// Size returns the edge lengths.
func (b *AABB) Size() mgl32.Vec3 {
	if b.empty {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the box midpoint.
func (b *AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// LongestAxisLength returns the largest edge length. Used to derive a voxel
// size from a requested intersection count.
func (b *AABB) LongestAxisLength() float32 {
	s := b.Size()
	longest := s[0]
	if s[1] > longest {
		longest = s[1]
	}
	if s[2] > longest {
		longest = s[2]
	}
	return longest
}

// Contains reports whether p lies inside or on the boundary of the box.
func (b *AABB) Contains(p mgl32.Vec3) bool {
	if b.empty {
		return false
	}
	for a := 0; a < 3; a++ {
		if p[a] < b.Min[a] || p[a] > b.Max[a] {
			return false
		}
	}
	return true
}

// Package hemesh implements a manifold half-edge mesh with typed property
// stores. Connectivity follows the coupled half-edge layout: the two
// half-edges of an edge are adjacent indices, so edge(h) = h >> 1 and
// halfedge(e, i) = (e << 1) | i. Mutation is single-threaded; reads are safe
// to share once edits stop.
package hemesh

import "math"

// InvalidIndex marks an unset handle.
const InvalidIndex = ^uint32(0)

// MaxIndex is the largest usable handle index; allocating beyond it fails
// with ErrAllocation.
const MaxIndex = math.MaxUint32 - 1

// Vertex is a vertex handle.
type Vertex uint32

// Halfedge is a half-edge handle.
type Halfedge uint32

// Edge is an edge handle (a coupled half-edge pair).
type Edge uint32

// Face is a face handle.
type Face uint32

// InvalidVertex, InvalidHalfedge, InvalidEdge and InvalidFace are the unset
// values of each handle type.
const (
	InvalidVertex   = Vertex(InvalidIndex)
	InvalidHalfedge = Halfedge(InvalidIndex)
	InvalidEdge     = Edge(InvalidIndex)
	InvalidFace     = Face(InvalidIndex)
)

// Valid reports whether the handle is set.
func (v Vertex) Valid() bool { return v != InvalidVertex }

// Valid reports whether the handle is set.
func (h Halfedge) Valid() bool { return h != InvalidHalfedge }

// Valid reports whether the handle is set.
func (e Edge) Valid() bool { return e != InvalidEdge }

// Valid reports whether the handle is set.
func (f Face) Valid() bool { return f != InvalidFace }

// EdgeOf returns the edge containing h.
func EdgeOf(h Halfedge) Edge { return Edge(h >> 1) }

// HalfedgeOf returns the i-th half-edge of e; i must be 0 or 1.
func HalfedgeOf(e Edge, i uint32) Halfedge { return Halfedge(uint32(e)<<1 | i) }

// Opposite returns the oppositely oriented half-edge of h.
func Opposite(h Halfedge) Halfedge { return Halfedge(uint32(h) ^ 1) }

// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common geometry test helpers to reduce code
// duplication across test files.
package testutil

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVec3Near checks component-wise closeness.
func AssertVec3Near(t *testing.T, got, want mgl32.Vec3, tol float32) {
	t.Helper()
	for a := 0; a < 3; a++ {
		d := got[a] - want[a]
		if d < -tol || d > tol {
			t.Errorf("vec3 component %d = %v, want %v (tol %v)", a, got[a], want[a], tol)
		}
	}
}

// RequireMeshInvariants fails the test when any core half-edge identity is
// violated on a live entity.
func RequireMeshInvariants(t *testing.T, m *hemesh.Mesh) {
	t.Helper()
	for hi := 0; hi < m.HalfedgesSize(); hi++ {
		h := hemesh.Halfedge(hi)
		if m.HalfedgeDeleted(h) {
			continue
		}
		if hemesh.Opposite(hemesh.Opposite(h)) != h {
			t.Fatalf("halfedge %d: opposite not an involution", h)
		}
		if m.NextHalfedge(m.PrevHalfedge(h)) != h {
			t.Fatalf("halfedge %d: next(prev) broken", h)
		}
		if f := m.HalfedgeFace(h); f.Valid() && m.HalfedgeFace(m.NextHalfedge(h)) != f {
			t.Fatalf("halfedge %d: face changes along cycle", h)
		}
	}
}

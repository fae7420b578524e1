package optimize

import (
	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// Params bundles the optimizer thresholds. The zero value disables every
// optional stage; DefaultParams carries the reconstruction tool defaults.
type Params struct {
	// DanglingArtifacts drops connected components smaller than this many
	// faces. 0 disables the stage.
	DanglingArtifacts int

	// CleanContourIterations is the number of contour-cleaning passes.
	CleanContourIterations int

	// FillHoles is the maximum boundary length (in edges) of holes to
	// triangulate. 0 disables the stage.
	FillHoles int

	// ReductionRatio in [0, 1] is the fraction of faces to remove by
	// quadric edge collapse. 0 disables the stage.
	ReductionRatio float64

	// OptimizePlanes enables planar cluster growing and the dependent
	// stages below.
	OptimizePlanes bool

	// NormalThreshold is the cosine bound for planar cluster growing.
	NormalThreshold float64

	// PlaneIterations is the number of RANSAC rounds when growing planes.
	PlaneIterations int

	// MinPlaneSize is the minimum inlier count for a RANSAC plane.
	MinPlaneSize int

	// UseRANSAC selects the RANSAC grower over plain greedy growing.
	UseRANSAC bool

	// SmallRegionThreshold drops planar clusters below this face count.
	// 0 disables the stage.
	SmallRegionThreshold int

	// Retesselate replaces planar cluster interiors with a constrained
	// Delaunay triangulation of their fused boundary.
	Retesselate bool

	// LineFusionThreshold is the collinearity angle (radians) for boundary
	// fusion during retesselation.
	LineFusionThreshold float64
}

// DefaultParams mirrors the reconstruction tool defaults.
func DefaultParams() Params {
	return Params{
		DanglingArtifacts:      0,
		CleanContourIterations: 0,
		FillHoles:              30,
		ReductionRatio:         0,
		NormalThreshold:        0.85,
		PlaneIterations:        3,
		MinPlaneSize:           7,
		SmallRegionThreshold:   10,
		LineFusionThreshold:    0.01,
	}
}

// Optimize runs the post-processing pipeline over the mesh in the
// canonical stage order and returns the final cluster map (nil unless
// OptimizePlanes ran). The mesh is garbage collected between destructive
// stages so the cluster map handles stay valid.
func Optimize(m *hemesh.Mesh, p Params) (*ClusterBiMap, error) {
	if p.DanglingArtifacts > 0 {
		RemoveDanglingArtifacts(m, p.DanglingArtifacts)
		m.GarbageCollect()
	}

	CleanContours(m, p.CleanContourIterations)
	m.GarbageCollect()

	if p.FillHoles > 0 {
		if _, _, err := FillHoles(m, p.FillHoles); err != nil {
			return nil, err
		}
	}

	if p.ReductionRatio > 0 {
		if err := Simplify(m, p.ReductionRatio); err != nil {
			return nil, err
		}
		m.GarbageCollect()
	}

	if !p.OptimizePlanes {
		return nil, nil
	}

	normals := CalcFaceNormals(m)
	var clusters *ClusterBiMap
	if p.UseRANSAC {
		clusters = PlanarClusterGrowingRANSAC(m, normals, p.NormalThreshold, p.PlaneIterations, p.MinPlaneSize)
	} else {
		clusters = PlanarClusterGrowing(m, normals, p.NormalThreshold)
	}

	if p.SmallRegionThreshold > 0 {
		if DeleteSmallClusters(m, clusters, p.SmallRegionThreshold) > 0 {
			CleanContours(m, p.CleanContourIterations)
			if p.FillHoles > 0 {
				if _, _, err := FillHoles(m, p.FillHoles); err != nil {
					return nil, err
				}
			}
		}
		m.GarbageCollect()
		// Handles changed under the cluster map; regrow from scratch.
		normals = CalcFaceNormals(m)
		clusters = PlanarClusterGrowing(m, normals, p.NormalThreshold)
	}

	if p.Retesselate {
		Retesselate(m, clusters, p.LineFusionThreshold)
	}

	monitoring.Logf("optimize: final mesh has %d vertices, %d faces", m.NumVertices(), m.NumFaces())
	return clusters, nil
}

// Package config holds the reconstruction parameter set shared by the
// driver and the pipeline stages. The JSON schema lets a parameter file
// stand in for the full flag set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Params is the full reconstruction configuration with the tool defaults.
type Params struct {
	// Grid sizing: VoxelSize wins unless Intersections > 0, in which case
	// the voxel size derives from the bounding box.
	VoxelSize     float32 `json:"voxelsize"`
	Intersections int     `json:"intersections"`
	Decomposition string  `json:"decomposition"`
	Extrude       bool    `json:"extrude"`

	// Neighbourhood sizes.
	Kn int `json:"kn"`
	Ki int `json:"ki"`
	Kd int `json:"kd"`

	// Normal estimation.
	UseRANSAC bool       `json:"ransac"`
	FlipPoint [3]float32 `json:"flip_point"`
	ScanPoses string     `json:"scan_pose_file,omitempty"`

	// Sharp feature decomposition thresholds.
	SharpFeatureThreshold float64 `json:"sft"`
	SharpCornerThreshold  float64 `json:"sct"`

	// Optimizer stages.
	DanglingArtifacts      int     `json:"rda"`
	CleanContourIterations int     `json:"clean_contours"`
	FillHoles              int     `json:"fill_holes"`
	ReductionRatio         float64 `json:"reduction_ratio"`
	OptimizePlanes         bool    `json:"optimize_planes"`
	NormalThreshold        float64 `json:"plane_normal_threshold"`
	PlaneIterations        int     `json:"plane_iterations"`
	MinPlaneSize           int     `json:"min_plane_size"`
	SmallRegionThreshold   int     `json:"small_region_threshold"`
	Retesselate            bool    `json:"retesselate"`
	LineFusionThreshold    float64 `json:"line_fusion_threshold"`

	// Texturizer.
	GenerateTextures  bool    `json:"generate_textures"`
	TexelSize         float32 `json:"texel_size"`
	TexMinClusterSize int     `json:"tex_min_cluster_size"`
	TexMaxClusterSize int     `json:"tex_max_cluster_size"`

	// Execution.
	Threads int `json:"threads"`
}

// Default returns the reconstruction tool defaults.
func Default() Params {
	return Params{
		VoxelSize:             0.1,
		Intersections:         -1,
		Decomposition:         "PMC",
		Kn:                    10,
		Ki:                    10,
		Kd:                    5,
		SharpFeatureThreshold: 0.9,
		SharpCornerThreshold:  0.7,
		FillHoles:             30,
		NormalThreshold:       0.85,
		PlaneIterations:       3,
		MinPlaneSize:          7,
		SmallRegionThreshold:  10,
		LineFusionThreshold:   0.01,
		TexelSize:             1,
		TexMinClusterSize:     100,
		TexMaxClusterSize:     2000000,
	}
}

// Load reads a JSON parameter file over the defaults.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return p, nil
}

// Save writes the parameter set as indented JSON.
func (p Params) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Validate rejects out-of-domain parameter combinations.
func (p Params) Validate() error {
	if p.VoxelSize <= 0 && p.Intersections <= 0 {
		return fmt.Errorf("config: either voxelsize or intersections must be positive")
	}
	if p.ReductionRatio < 0 || p.ReductionRatio > 1 {
		return fmt.Errorf("config: reduction ratio %v outside [0, 1]", p.ReductionRatio)
	}
	if p.Kn < 1 || p.Ki < 1 || p.Kd < 1 {
		return fmt.Errorf("config: kn/ki/kd must all be >= 1")
	}
	return nil
}

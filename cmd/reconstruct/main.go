// Command reconstruct turns a laser-scanner point cloud into an optimized,
// optionally textured triangle mesh.
//
// Input is an ASCII point file: one point per line, "x y z", optionally
// followed by "nx ny nz" normals and/or "r g b" byte colours. Output is an
// ASCII PLY mesh.
//
//	reconstruct -in scan.xyz -out mesh.ply -voxelsize 0.05 -decomposition PMC \
//	    -optimize-planes -retesselate -generate-textures -texel-size 0.02
//
// Exit codes: 0 success, 1 input error, 2 invalid argument, 3 allocation
// failure, 4 topology error.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/config"
	"github.com/banshee-data/surface.report/internal/geomerr"
	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/meshbuf"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/optimize"
	"github.com/banshee-data/surface.report/internal/report"
	"github.com/banshee-data/surface.report/internal/surface"
	"github.com/banshee-data/surface.report/internal/texture"
	"github.com/banshee-data/surface.report/internal/voxel"
)

var (
	inFile  = flag.String("in", "", "Input ASCII point file (x y z [nx ny nz] [r g b])")
	outFile = flag.String("out", "mesh.ply", "Output PLY file")

	voxelSize     = flag.Float64("voxelsize", 0.1, "Voxel size of the reconstruction grid (metres)")
	intersections = flag.Int("intersections", -1, "Grid resolution as intersections along the longest axis; overrides -voxelsize when > 0")
	decomposition = flag.String("decomposition", "PMC", "Cell decomposition: MC, PMC, MT or SF")
	extrude       = flag.Bool("extrude", false, "Pad the bounding box by one cell before gridding")

	kn = flag.Int("kn", 10, "Neighbourhood size for normal estimation")
	ki = flag.Int("ki", 10, "Neighbourhood size for normal interpolation")
	kd = flag.Int("kd", 5, "Neighbourhood size for distance evaluation")

	useRANSAC    = flag.Bool("ransac", false, "Use RANSAC instead of PCA for the normal plane fit")
	flipPoint    = flag.String("flip-point", "0,0,0", "Normal orientation reference, \"x,y,z\"")
	scanPoseFile = flag.String("scan-poses", "", "ASCII scan pose file for nearest-pose normal flipping")

	sft = flag.Float64("sft", 0.9, "Sharp feature threshold (cosine) for SF decomposition")
	sct = flag.Float64("sct", 0.7, "Sharp corner threshold for SF decomposition (reserved)")

	rda            = flag.Int("rda", 0, "Remove dangling artifacts: drop components smaller than this many faces")
	cleanContours  = flag.Int("clean-contours", 0, "Contour cleaning iterations")
	fillHoles      = flag.Int("fill-holes", 30, "Maximum boundary length of holes to fill")
	reductionRatio = flag.Float64("reduction-ratio", 0, "Fraction of faces to remove by edge collapse, in [0, 1]")

	optimizePlanes       = flag.Bool("optimize-planes", false, "Enable planar cluster optimization")
	normalThreshold      = flag.Float64("plane-normal-threshold", 0.85, "Cosine threshold for planar cluster growing")
	planeIterations      = flag.Int("plane-iterations", 3, "RANSAC iterations for plane optimization")
	minPlaneSize         = flag.Int("min-plane-size", 7, "Minimum inlier faces for a RANSAC plane")
	smallRegionThreshold = flag.Int("small-region-threshold", 10, "Drop planar clusters below this face count")
	retesselate          = flag.Bool("retesselate", false, "Retesselate planar clusters")

	generateTextures = flag.Bool("generate-textures", false, "Rasterize per-cluster textures from the cloud")
	texelSize        = flag.Float64("texel-size", 1, "Texture resolution in metres per texel")

	threads   = flag.Int("threads", 0, "Worker threads for data-parallel stages (0 = all cores)")
	plotStats = flag.String("plot-stats", "", "Directory for reconstruction statistics plots")
	paramFile = flag.String("params", "", "JSON parameter file; flags override its values")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	params, err := gatherParams()
	if err != nil {
		monitoring.Logf("reconstruct: %v", err)
		return 2
	}
	if *inFile == "" {
		monitoring.Logf("reconstruct: -in is required")
		return 2
	}

	runID := uuid.NewString()[:8]
	monitoring.Logf("reconstruct: run %s, input %s", runID, *inFile)

	buf, err := readPointFile(*inFile)
	if err != nil {
		monitoring.Logf("reconstruct: reading input: %v", err)
		return geomerr.ExitCode(fmt.Errorf("%v: %w", err, geomerr.ErrIO))
	}
	monitoring.Logf("reconstruct: loaded %d points", buf.NumPoints())

	surfOpts := surface.Options{
		Kn:        params.Kn,
		Ki:        params.Ki,
		Kd:        params.Kd,
		UseRANSAC: params.UseRANSAC,
		FlipPoint: mgl32.Vec3{params.FlipPoint[0], params.FlipPoint[1], params.FlipPoint[2]},
		Threads:   params.Threads,
	}
	if params.ScanPoses != "" {
		f, err := os.Open(params.ScanPoses)
		if err != nil {
			monitoring.Logf("reconstruct: opening scan poses: %v", err)
			return 1
		}
		poses, err := cloud.ReadScanPoses(f)
		f.Close()
		if err != nil {
			monitoring.Logf("reconstruct: parsing scan poses: %v", err)
			return geomerr.ExitCode(err)
		}
		surfOpts.ScanPoses = poses
	}

	surf, err := surface.New(buf, surfOpts)
	if err != nil {
		monitoring.Logf("reconstruct: surface: %v", err)
		return geomerr.ExitCode(err)
	}
	if err := surf.CalculateSurfaceNormals(); err != nil {
		monitoring.Logf("reconstruct: normals: %v", err)
		return geomerr.ExitCode(err)
	}

	decomp, err := voxel.ParseDecomposition(params.Decomposition)
	if err != nil {
		monitoring.Logf("reconstruct: %v", err)
		return geomerr.ExitCode(err)
	}

	size := params.VoxelSize
	if params.Intersections > 0 {
		bounds := surf.Bounds()
		size = bounds.LongestAxisLength() / float32(params.Intersections)
		monitoring.Logf("reconstruct: %d intersections -> voxel size %g", params.Intersections, size)
	}

	grid, err := voxel.Build(surf, voxel.Params{
		VoxelSize:             size,
		Extrude:               params.Extrude,
		Decomposition:         decomp,
		SharpFeatureThreshold: params.SharpFeatureThreshold,
		SharpCornerThreshold:  params.SharpCornerThreshold,
		Threads:               params.Threads,
	})
	if err != nil {
		monitoring.Logf("reconstruct: grid: %v", err)
		return geomerr.ExitCode(err)
	}

	raw, err := grid.Extract()
	if err != nil {
		monitoring.Logf("reconstruct: extraction: %v", err)
		return geomerr.ExitCode(err)
	}
	if len(raw.Faces) == 0 {
		monitoring.Logf("reconstruct: empty grid, writing empty mesh")
	}

	mesh, _, err := hemesh.FromIndexed(raw.Vertices, raw.Faces)
	if err != nil {
		monitoring.Logf("reconstruct: mesh build: %v", err)
		return geomerr.ExitCode(err)
	}

	clusters, err := optimize.Optimize(mesh, optimize.Params{
		DanglingArtifacts:      params.DanglingArtifacts,
		CleanContourIterations: params.CleanContourIterations,
		FillHoles:              params.FillHoles,
		ReductionRatio:         params.ReductionRatio,
		OptimizePlanes:         params.OptimizePlanes,
		NormalThreshold:        params.NormalThreshold,
		PlaneIterations:        params.PlaneIterations,
		MinPlaneSize:           params.MinPlaneSize,
		UseRANSAC:              params.UseRANSAC,
		SmallRegionThreshold:   params.SmallRegionThreshold,
		Retesselate:            params.Retesselate,
		LineFusionThreshold:    params.LineFusionThreshold,
	})
	if err != nil {
		monitoring.Logf("reconstruct: optimizer: %v", err)
		return geomerr.ExitCode(err)
	}

	outOpts := meshbuf.Options{WithNormals: true, Clusters: clusters}
	if params.GenerateTextures && clusters != nil {
		texResult, err := texture.GenerateTextures(mesh, clusters, surf, &texture.SequentialIDs{}, texture.Params{
			TexelSize:       params.TexelSize,
			MinClusterSize:  params.TexMinClusterSize,
			MaxClusterSize:  params.TexMaxClusterSize,
			SpectralChannel: -1,
		})
		if err != nil {
			monitoring.Logf("reconstruct: texturizer: %v", err)
			return geomerr.ExitCode(err)
		}
		outOpts.Textures = texResult
	}

	out, err := meshbuf.FromHalfEdgeMesh(mesh, outOpts)
	if err != nil {
		monitoring.Logf("reconstruct: output assembly: %v", err)
		return geomerr.ExitCode(err)
	}

	f, err := os.Create(*outFile)
	if err != nil {
		monitoring.Logf("reconstruct: creating %s: %v", *outFile, err)
		return 1
	}
	defer f.Close()
	if err := out.WritePLY(f); err != nil {
		monitoring.Logf("reconstruct: writing %s: %v", *outFile, err)
		return 1
	}
	monitoring.Logf("reconstruct: wrote %s (%d vertices, %d faces)",
		*outFile, out.NumVertices(), out.NumFaces())

	if *plotStats != "" {
		w, err := report.NewWriter(*plotStats, runID)
		if err != nil {
			monitoring.Logf("reconstruct: %v", err)
		} else {
			if err := w.CornerDistances(grid); err != nil {
				monitoring.Logf("reconstruct: %v", err)
			}
			if err := w.ClusterSizes(clusters); err != nil {
				monitoring.Logf("reconstruct: %v", err)
			}
		}
	}
	return 0
}

// gatherParams merges the optional parameter file with the flag values;
// explicitly set flags win.
func gatherParams() (config.Params, error) {
	params := config.Default()
	if *paramFile != "" {
		loaded, err := config.Load(*paramFile)
		if err != nil {
			return params, err
		}
		params = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	apply := func(name string, fn func()) {
		if *paramFile == "" || set[name] {
			fn()
		}
	}

	apply("voxelsize", func() { params.VoxelSize = float32(*voxelSize) })
	apply("intersections", func() { params.Intersections = *intersections })
	apply("decomposition", func() { params.Decomposition = *decomposition })
	apply("extrude", func() { params.Extrude = *extrude })
	apply("kn", func() { params.Kn = *kn })
	apply("ki", func() { params.Ki = *ki })
	apply("kd", func() { params.Kd = *kd })
	apply("ransac", func() { params.UseRANSAC = *useRANSAC })
	apply("scan-poses", func() { params.ScanPoses = *scanPoseFile })
	apply("sft", func() { params.SharpFeatureThreshold = *sft })
	apply("sct", func() { params.SharpCornerThreshold = *sct })
	apply("rda", func() { params.DanglingArtifacts = *rda })
	apply("clean-contours", func() { params.CleanContourIterations = *cleanContours })
	apply("fill-holes", func() { params.FillHoles = *fillHoles })
	apply("reduction-ratio", func() { params.ReductionRatio = *reductionRatio })
	apply("optimize-planes", func() { params.OptimizePlanes = *optimizePlanes })
	apply("plane-normal-threshold", func() { params.NormalThreshold = *normalThreshold })
	apply("plane-iterations", func() { params.PlaneIterations = *planeIterations })
	apply("min-plane-size", func() { params.MinPlaneSize = *minPlaneSize })
	apply("small-region-threshold", func() { params.SmallRegionThreshold = *smallRegionThreshold })
	apply("retesselate", func() { params.Retesselate = *retesselate })
	apply("generate-textures", func() { params.GenerateTextures = *generateTextures })
	apply("texel-size", func() { params.TexelSize = float32(*texelSize) })
	apply("threads", func() { params.Threads = *threads })

	if set["flip-point"] || *paramFile == "" {
		fp, err := parseVec3(*flipPoint)
		if err != nil {
			return params, err
		}
		params.FlipPoint = fp
	}

	if *intersections > 0 && set["voxelsize"] {
		return params, fmt.Errorf("-voxelsize and -intersections are mutually exclusive")
	}
	return params, params.Validate()
}

func parseVec3(s string) ([3]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]float32{}, fmt.Errorf("expected \"x,y,z\", got %q", s)
	}
	var out [3]float32
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return out, fmt.Errorf("component %d of %q: %v", i, s, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// readPointFile parses the ASCII point format: 3 floats per line, with an
// optional 3 more for normals and an optional trailing 3 integers for RGB.
func readPointFile(path string) (*cloud.PointBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var positions, normals []float32
	var colors []uint8
	hasNormals, hasColors := false, false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: %d fields, want >= 3", lineNo, len(fields))
		}

		vals := make([]float64, len(fields))
		for i, fstr := range fields {
			v, err := strconv.ParseFloat(fstr, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %v", lineNo, i, err)
			}
			vals[i] = v
		}

		positions = append(positions, float32(vals[0]), float32(vals[1]), float32(vals[2]))
		switch len(fields) {
		case 6:
			// Either normals or colours; colours are integral 0-255.
			if isByteTriple(vals[3:6]) {
				hasColors = true
				colors = append(colors, uint8(vals[3]), uint8(vals[4]), uint8(vals[5]))
			} else {
				hasNormals = true
				normals = append(normals, float32(vals[3]), float32(vals[4]), float32(vals[5]))
			}
		case 9:
			hasNormals = true
			hasColors = true
			normals = append(normals, float32(vals[3]), float32(vals[4]), float32(vals[5]))
			colors = append(colors, uint8(vals[6]), uint8(vals[7]), uint8(vals[8]))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	buf, err := cloud.NewPointBuffer(positions)
	if err != nil {
		return nil, err
	}
	if hasNormals && len(normals) == len(positions) {
		if err := buf.SetNormals(normals); err != nil {
			return nil, err
		}
	}
	if hasColors && len(colors) == len(positions) {
		if err := buf.SetColors(colors, 3); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func isByteTriple(vals []float64) bool {
	for _, v := range vals {
		if v != float64(int(v)) || v < 0 || v > 255 {
			return false
		}
	}
	return true
}

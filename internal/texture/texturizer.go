// Package texture rasterizes one texture per planar cluster by sampling
// the input point cloud, and assigns per-vertex texture coordinates in the
// cluster's plane frame.
package texture

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/optimize"
	"github.com/banshee-data/surface.report/internal/surface"
)

// TexelMode selects how a texel's colour is sampled from the cloud.
type TexelMode int

const (
	// NearestPoint colours each texel from the input point nearest to the
	// texel centre in 3D.
	NearestPoint TexelMode = iota
	// MeanInTexel averages all input points whose plane projection falls
	// inside the texel, falling back to the nearest point for empty
	// texels.
	MeanInTexel
)

// IDAllocator hands out texture ids. Injected so no process-wide counter
// exists.
type IDAllocator interface {
	Next() uint32
}

// SequentialIDs is the default allocator: 0, 1, 2, ...
type SequentialIDs struct {
	next uint32
}

// Next returns the next id.
func (s *SequentialIDs) Next() uint32 {
	id := s.next
	s.next++
	return id
}

// Texture is a per-cluster raster: Channels bytes per texel, row-major.
type Texture struct {
	ID        uint32
	Width     int
	Height    int
	Channels  int
	TexelSize float32
	Pixels    []uint8
}

// Material pairs a base colour with an optional texture (index < 0 means
// untextured).
type Material struct {
	BaseColor    [3]uint8
	TextureIndex int
}

// fallbackColor is the uniform grey used for clusters outside the size
// bounds and for texels without any cloud support.
var fallbackColor = [3]uint8{128, 128, 128}

// Params configures the texturizer.
type Params struct {
	// TexelSize is the edge length of one texel in metres.
	TexelSize float32

	// MinClusterSize and MaxClusterSize bound the face count of clusters
	// that receive a texture; everything else gets a uniform material.
	MinClusterSize int
	MaxClusterSize int

	// Mode selects the texel sampling strategy.
	Mode TexelMode

	// SpectralChannel, when >= 0 and the buffer carries spectral data,
	// rasterizes that channel as grayscale instead of RGB colours.
	SpectralChannel int
}

// DefaultParams mirrors the reconstruction tool defaults.
func DefaultParams(texelSize float32) Params {
	return Params{
		TexelSize:       texelSize,
		MinClusterSize:  100,
		MaxClusterSize:  2000000,
		SpectralChannel: -1,
	}
}

// uvProp stores the per-vertex texture coordinate, normalized to [0, 1]
// inside the owning cluster's bounding rectangle.
const uvProp = "v:texcoord"

// Result is the texturizer output consumed by the mesh buffer assembly.
type Result struct {
	Textures  []Texture
	Materials []Material
	// MaterialOf maps each cluster to its material index.
	MaterialOf map[optimize.Cluster]int
	// UV is the per-vertex texture coordinate property.
	UV *hemesh.Prop[mgl32.Vec2]
}

// GenerateTextures rasterizes one texture per eligible cluster. Cluster
// sizes outside [MinClusterSize, MaxClusterSize] receive a uniform
// fallback material instead.
func GenerateTextures(m *hemesh.Mesh, cm *optimize.ClusterBiMap, surf *surface.PointSet, alloc IDAllocator, p Params) (*Result, error) {
	done := monitoring.Stage("texture generation")
	defer done()

	if alloc == nil {
		alloc = &SequentialIDs{}
	}

	res := &Result{MaterialOf: map[optimize.Cluster]int{}}
	res.UV = hemesh.GetOrAddProperty[mgl32.Vec2](&m.VProps, uvProp)

	fallbackMaterial := -1
	for _, c := range cm.Clusters() {
		faces := cm.Faces(c)
		if len(faces) < p.MinClusterSize || len(faces) > p.MaxClusterSize {
			if fallbackMaterial < 0 {
				res.Materials = append(res.Materials, Material{BaseColor: fallbackColor, TextureIndex: -1})
				fallbackMaterial = len(res.Materials) - 1
			}
			res.MaterialOf[c] = fallbackMaterial
			continue
		}
		tex, err := rasterizeCluster(m, cm, c, surf, alloc, p, res.UV)
		if err != nil {
			return nil, err
		}
		res.Textures = append(res.Textures, tex)
		res.Materials = append(res.Materials, Material{
			BaseColor:    fallbackColor,
			TextureIndex: len(res.Textures) - 1,
		})
		res.MaterialOf[c] = len(res.Materials) - 1
	}

	monitoring.Logf("texture: %d textures over %d clusters", len(res.Textures), cm.NumClusters())
	return res, nil
}

func rasterizeCluster(m *hemesh.Mesh, cm *optimize.ClusterBiMap, c optimize.Cluster, surf *surface.PointSet, alloc IDAllocator, p Params, uv *hemesh.Prop[mgl32.Vec2]) (Texture, error) {
	faces := cm.Faces(c)

	// Cluster plane and 2D frame.
	vertexSet := map[hemesh.Vertex]bool{}
	var pts []mgl32.Vec3
	for _, f := range faces {
		cycle, err := m.FaceVertices(f)
		if err != nil {
			return Texture{}, err
		}
		for _, v := range cycle {
			if !vertexSet[v] {
				vertexSet[v] = true
				pts = append(pts, m.Position(v))
			}
		}
	}
	pl, ok := surface.FitPlane(pts)
	if !ok {
		// A cluster too degenerate for a plane still needs a material;
		// rasterize a single fallback texel.
		return Texture{
			ID: alloc.Next(), Width: 1, Height: 1, Channels: 3,
			TexelSize: p.TexelSize,
			Pixels:    []uint8{fallbackColor[0], fallbackColor[1], fallbackColor[2]},
		}, nil
	}

	u, v := planeBasis(pl.Normal)
	project := func(q mgl32.Vec3) mgl32.Vec2 {
		d := q.Sub(pl.Centroid)
		return mgl32.Vec2{d.Dot(u), d.Dot(v)}
	}

	// Axis-aligned bounding rectangle in the plane frame.
	minUV := mgl32.Vec2{float32(math.Inf(1)), float32(math.Inf(1))}
	maxUV := mgl32.Vec2{float32(math.Inf(-1)), float32(math.Inf(-1))}
	for _, q := range pts {
		t := project(q)
		for a := 0; a < 2; a++ {
			if t[a] < minUV[a] {
				minUV[a] = t[a]
			}
			if t[a] > maxUV[a] {
				maxUV[a] = t[a]
			}
		}
	}
	extent := maxUV.Sub(minUV)

	width := int(extent[0]/p.TexelSize) + 1
	height := int(extent[1]/p.TexelSize) + 1
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	// Per-vertex UVs normalized to the rectangle.
	for vv := range vertexSet {
		t := project(m.Position(vv))
		uv.Data[vv] = mgl32.Vec2{
			clamp01((t[0] - minUV[0]) / max32(extent[0], 1e-12)),
			clamp01((t[1] - minUV[1]) / max32(extent[1], 1e-12)),
		}
	}

	tex := Texture{
		ID:        alloc.Next(),
		Width:     width,
		Height:    height,
		Channels:  3,
		TexelSize: p.TexelSize,
		Pixels:    make([]uint8, width*height*3),
	}

	for ty := 0; ty < height; ty++ {
		for tx := 0; tx < width; tx++ {
			centre2 := mgl32.Vec2{
				minUV[0] + (float32(tx)+0.5)*p.TexelSize,
				minUV[1] + (float32(ty)+0.5)*p.TexelSize,
			}
			centre3 := pl.Centroid.Add(u.Mul(centre2[0])).Add(v.Mul(centre2[1]))

			color := sampleTexel(surf, centre3, project, centre2, p)
			o := (ty*width + tx) * 3
			tex.Pixels[o] = color[0]
			tex.Pixels[o+1] = color[1]
			tex.Pixels[o+2] = color[2]
		}
	}
	return tex, nil
}

// sampleTexel colours one texel from the cloud.
func sampleTexel(surf *surface.PointSet, centre3 mgl32.Vec3, project func(mgl32.Vec3) mgl32.Vec2, centre2 mgl32.Vec2, p Params) [3]uint8 {
	buf := surf.Buffer()

	if p.Mode == MeanInTexel {
		// All points whose projection falls inside the texel; the search
		// radius covers the texel diagonal.
		radius := p.TexelSize * float32(math.Sqrt2)
		res, err := surf.Tree().RadiusSearch(centre3, radius, -1)
		if err == nil && len(res) > 0 {
			var sum [3]float64
			count := 0
			half := p.TexelSize / 2
			for _, r := range res {
				q := project(buf.Position(int(r.Index)))
				if q[0] < centre2[0]-half || q[0] > centre2[0]+half ||
					q[1] < centre2[1]-half || q[1] > centre2[1]+half {
					continue
				}
				c := pointColor(buf, int(r.Index), p)
				sum[0] += float64(c[0])
				sum[1] += float64(c[1])
				sum[2] += float64(c[2])
				count++
			}
			if count > 0 {
				return [3]uint8{
					uint8(sum[0] / float64(count)),
					uint8(sum[1] / float64(count)),
					uint8(sum[2] / float64(count)),
				}
			}
		}
	}

	r, ok, err := surf.Tree().Nearest(centre3)
	if err != nil || !ok {
		return fallbackColor
	}
	return pointColor(buf, int(r.Index), p)
}

func pointColor(buf *cloud.PointBuffer, i int, p Params) [3]uint8 {
	if p.SpectralChannel >= 0 && buf.HasSpectral() {
		if _, width, _, _ := buf.Spectral(); p.SpectralChannel < width {
			g := buf.SpectralValue(i, p.SpectralChannel)
			return [3]uint8{g, g, g}
		}
	}
	if buf.HasColors() {
		return buf.Color(i)
	}
	return fallbackColor
}

func planeBasis(normal mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	ref := mgl32.Vec3{1, 0, 0}
	if math.Abs(float64(normal[0])) > 0.9 {
		ref = mgl32.Vec3{0, 1, 0}
	}
	u := normal.Cross(ref).Normalize()
	return u, normal.Cross(u)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

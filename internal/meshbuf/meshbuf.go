// Package meshbuf assembles the pipeline's output contract: flat vertex,
// normal, colour and index arrays plus materials and textures. Writers for
// concrete file formats live outside the core; the package ships only the
// ASCII PLY writer the reconstruction driver needs to be usable end to end.
package meshbuf

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/optimize"
	"github.com/banshee-data/surface.report/internal/texture"
)

// MeshBuffer is the flat-array mesh interchange structure.
type MeshBuffer struct {
	Vertices      []float32 // 3V
	VertexNormals []float32 // 3V, optional
	VertexColors  []uint8   // 3V, optional
	FaceIndices   []uint32  // 3F, triangles
	TexCoords     []float32 // 2V, optional

	// MaterialIndex holds one material per face; empty when no materials
	// were generated.
	MaterialIndex []uint32
	Materials     []texture.Material
	Textures      []texture.Texture
}

// NumVertices returns V.
func (b *MeshBuffer) NumVertices() int { return len(b.Vertices) / 3 }

// NumFaces returns F.
func (b *MeshBuffer) NumFaces() int { return len(b.FaceIndices) / 3 }

// Options controls the half-edge mesh export.
type Options struct {
	// WithNormals emits area-weighted per-vertex normals.
	WithNormals bool

	// Clusters and Textures attach the texturizer output; faces of
	// unmapped clusters fall back to material index 0 when materials
	// exist.
	Clusters *optimize.ClusterBiMap
	Textures *texture.Result
}

// FromHalfEdgeMesh flattens a half-edge mesh into buffer arrays. Polygon
// faces are fanned into triangles. The mesh's deleted entities are skipped,
// so callers need not garbage-collect first.
func FromHalfEdgeMesh(m *hemesh.Mesh, opts Options) (*MeshBuffer, error) {
	buf := &MeshBuffer{}

	vertexIndex := make(map[hemesh.Vertex]uint32)
	lookup := func(v hemesh.Vertex) uint32 {
		if idx, ok := vertexIndex[v]; ok {
			return idx
		}
		idx := uint32(len(buf.Vertices) / 3)
		vertexIndex[v] = idx
		p := m.Position(v)
		buf.Vertices = append(buf.Vertices, p[0], p[1], p[2])
		if opts.WithNormals {
			n := optimize.VertexNormal(m, v)
			buf.VertexNormals = append(buf.VertexNormals, n[0], n[1], n[2])
		}
		if opts.Textures != nil && opts.Textures.UV != nil {
			uv := opts.Textures.UV.Data[v]
			buf.TexCoords = append(buf.TexCoords, uv[0], uv[1])
		}
		return idx
	}

	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) {
			continue
		}
		cycle, err := m.FaceVertices(f)
		if err != nil {
			return nil, err
		}
		if len(cycle) < 3 {
			continue
		}

		material := uint32(0)
		hasMaterial := false
		if opts.Textures != nil && opts.Clusters != nil {
			if c, ok := opts.Clusters.ClusterOf(f); ok {
				if mi, ok := opts.Textures.MaterialOf[c]; ok {
					material = uint32(mi)
					hasMaterial = true
				}
			}
		}

		i0 := lookup(cycle[0])
		for i := 1; i+1 < len(cycle); i++ {
			buf.FaceIndices = append(buf.FaceIndices, i0, lookup(cycle[i]), lookup(cycle[i+1]))
			if opts.Textures != nil {
				if hasMaterial {
					buf.MaterialIndex = append(buf.MaterialIndex, material)
				} else {
					buf.MaterialIndex = append(buf.MaterialIndex, 0)
				}
			}
		}
	}

	if opts.Textures != nil {
		buf.Materials = opts.Textures.Materials
		buf.Textures = opts.Textures.Textures
		if len(buf.Materials) == 0 {
			buf.MaterialIndex = nil
		}
	}
	return buf, nil
}

// Vertex returns vertex i.
func (b *MeshBuffer) Vertex(i int) mgl32.Vec3 {
	return mgl32.Vec3{b.Vertices[i*3], b.Vertices[i*3+1], b.Vertices[i*3+2]}
}

// WritePLY serializes the buffer as an ASCII PLY: positions, optional
// normals and colours, and triangle indices.
func (b *MeshBuffer) WritePLY(w io.Writer) error {
	bw := bufio.NewWriter(w)

	hasNormals := len(b.VertexNormals) == len(b.Vertices) && len(b.Vertices) > 0
	hasColors := len(b.VertexColors) == b.NumVertices()*3 && b.NumVertices() > 0

	fmt.Fprintln(bw, "ply")
	fmt.Fprintln(bw, "format ascii 1.0")
	fmt.Fprintf(bw, "element vertex %d\n", b.NumVertices())
	fmt.Fprintln(bw, "property float x")
	fmt.Fprintln(bw, "property float y")
	fmt.Fprintln(bw, "property float z")
	if hasNormals {
		fmt.Fprintln(bw, "property float nx")
		fmt.Fprintln(bw, "property float ny")
		fmt.Fprintln(bw, "property float nz")
	}
	if hasColors {
		fmt.Fprintln(bw, "property uchar red")
		fmt.Fprintln(bw, "property uchar green")
		fmt.Fprintln(bw, "property uchar blue")
	}
	fmt.Fprintf(bw, "element face %d\n", b.NumFaces())
	fmt.Fprintln(bw, "property list uchar int vertex_indices")
	fmt.Fprintln(bw, "end_header")

	for i := 0; i < b.NumVertices(); i++ {
		fmt.Fprintf(bw, "%g %g %g", b.Vertices[i*3], b.Vertices[i*3+1], b.Vertices[i*3+2])
		if hasNormals {
			fmt.Fprintf(bw, " %g %g %g", b.VertexNormals[i*3], b.VertexNormals[i*3+1], b.VertexNormals[i*3+2])
		}
		if hasColors {
			fmt.Fprintf(bw, " %d %d %d", b.VertexColors[i*3], b.VertexColors[i*3+1], b.VertexColors[i*3+2])
		}
		fmt.Fprintln(bw)
	}
	for i := 0; i < b.NumFaces(); i++ {
		fmt.Fprintf(bw, "3 %d %d %d\n", b.FaceIndices[i*3], b.FaceIndices[i*3+1], b.FaceIndices[i*3+2])
	}
	return bw.Flush()
}

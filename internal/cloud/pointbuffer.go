// Package cloud holds the buffer-level contracts the reconstruction core
// consumes: point buffers with optional per-point channels, axis-aligned
// bounding boxes, and scan-pose transforms. File-format parsing lives in an
// external layer; this package only defines the memory layout.
package cloud

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// Channel-major point buffer layout (§ external interfaces):
// positions are a flat f32 array of length 3N; optional channels are flat
// arrays parallel to the point count.

// PointBuffer is the input contract of the pipeline: N points with optional
// normals, colours and spectral channels. All channels are channel-major
// and contiguous.
type PointBuffer struct {
	positions []float32 // 3N
	normals   []float32 // 3N or nil

	colors     []uint8 // colorWidth*N or nil
	colorWidth int     // 3 or 4

	spectral        []uint8 // spectralWidth*N or nil
	spectralWidth   int
	spectralWaveMin int32
	spectralWaveMax int32
}

// NewPointBuffer wraps a flat position array. The slice is referenced, not
// copied. len(positions) must be a multiple of 3 and free of NaN values.
func NewPointBuffer(positions []float32) (*PointBuffer, error) {
	if len(positions)%3 != 0 {
		return nil, fmt.Errorf("cloud: position array length %d is not a multiple of 3: %w",
			len(positions), geomerr.ErrInvalidArgument)
	}
	for i, v := range positions {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("cloud: non-finite coordinate at float index %d: %w",
				i, geomerr.ErrInvalidArgument)
		}
	}
	return &PointBuffer{positions: positions}, nil
}

// FromVec3s builds a buffer from a point slice, copying into the flat layout.
func FromVec3s(pts []mgl32.Vec3) *PointBuffer {
	flat := make([]float32, 0, len(pts)*3)
	for _, p := range pts {
		flat = append(flat, p[0], p[1], p[2])
	}
	pb, err := NewPointBuffer(flat)
	if err != nil {
		// Finite inputs cannot fail validation.
		panic(err)
	}
	return pb
}

// NumPoints returns N.
func (pb *PointBuffer) NumPoints() int {
	if pb == nil {
		return 0
	}
	return len(pb.positions) / 3
}

// Position returns point i.
func (pb *PointBuffer) Position(i int) mgl32.Vec3 {
	return mgl32.Vec3{pb.positions[i*3], pb.positions[i*3+1], pb.positions[i*3+2]}
}

// Positions exposes the raw flat position array.
func (pb *PointBuffer) Positions() []float32 { return pb.positions }

// SetNormals attaches a 3N normal channel. Replaces any existing channel.
func (pb *PointBuffer) SetNormals(normals []float32) error {
	if len(normals) != len(pb.positions) {
		return fmt.Errorf("cloud: normal array length %d, want %d: %w",
			len(normals), len(pb.positions), geomerr.ErrInvalidArgument)
	}
	pb.normals = normals
	return nil
}

// HasNormals reports whether a normal channel is attached.
func (pb *PointBuffer) HasNormals() bool { return pb.normals != nil }

// Normal returns the normal of point i. Callers must check HasNormals.
func (pb *PointBuffer) Normal(i int) mgl32.Vec3 {
	return mgl32.Vec3{pb.normals[i*3], pb.normals[i*3+1], pb.normals[i*3+2]}
}

// Normals exposes the raw flat normal array (nil if absent).
func (pb *PointBuffer) Normals() []float32 { return pb.normals }

// SetColors attaches a colour channel of width 3 (RGB) or 4 (RGBA).
func (pb *PointBuffer) SetColors(colors []uint8, width int) error {
	if width != 3 && width != 4 {
		return fmt.Errorf("cloud: colour width %d not in {3, 4}: %w", width, geomerr.ErrInvalidArgument)
	}
	if len(colors) != pb.NumPoints()*width {
		return fmt.Errorf("cloud: colour array length %d, want %d: %w",
			len(colors), pb.NumPoints()*width, geomerr.ErrInvalidArgument)
	}
	pb.colors = colors
	pb.colorWidth = width
	return nil
}

// HasColors reports whether a colour channel is attached.
func (pb *PointBuffer) HasColors() bool { return pb.colors != nil }

// Colors returns the raw colour array and its per-point width.
func (pb *PointBuffer) Colors() ([]uint8, int) { return pb.colors, pb.colorWidth }

// Color returns the RGB colour of point i. Alpha, if present, is dropped.
func (pb *PointBuffer) Color(i int) [3]uint8 {
	o := i * pb.colorWidth
	return [3]uint8{pb.colors[o], pb.colors[o+1], pb.colors[o+2]}
}

// SetSpectral attaches a spectral channel stack: width channels per point
// covering wavelengths [waveMin, waveMax) nanometres.
func (pb *PointBuffer) SetSpectral(data []uint8, width int, waveMin, waveMax int32) error {
	if width <= 0 {
		return fmt.Errorf("cloud: spectral width %d: %w", width, geomerr.ErrInvalidArgument)
	}
	if waveMin >= waveMax {
		return fmt.Errorf("cloud: spectral wavelength range [%d, %d): %w",
			waveMin, waveMax, geomerr.ErrInvalidArgument)
	}
	if len(data) != pb.NumPoints()*width {
		return fmt.Errorf("cloud: spectral array length %d, want %d: %w",
			len(data), pb.NumPoints()*width, geomerr.ErrInvalidArgument)
	}
	pb.spectral = data
	pb.spectralWidth = width
	pb.spectralWaveMin = waveMin
	pb.spectralWaveMax = waveMax
	return nil
}

// HasSpectral reports whether spectral channels are attached.
func (pb *PointBuffer) HasSpectral() bool { return pb.spectral != nil }

// Spectral returns the raw spectral stack, its width and wavelength range.
func (pb *PointBuffer) Spectral() (data []uint8, width int, waveMin, waveMax int32) {
	return pb.spectral, pb.spectralWidth, pb.spectralWaveMin, pb.spectralWaveMax
}

// SpectralValue returns channel c of point i.
func (pb *PointBuffer) SpectralValue(i, c int) uint8 {
	return pb.spectral[i*pb.spectralWidth+c]
}

// Bounds computes the axis-aligned bounding box of the buffer. An empty
// buffer yields an empty AABB.
func (pb *PointBuffer) Bounds() AABB {
	box := NewAABB()
	for i := 0; i < pb.NumPoints(); i++ {
		box.Expand(pb.Position(i))
	}
	return box
}

// Merge concatenates two buffers into a new one. Channels present in both
// inputs are carried over; channels present in only one input are dropped.
// Colour widths must agree.
func Merge(a, b *PointBuffer) (*PointBuffer, error) {
	positions := make([]float32, 0, len(a.positions)+len(b.positions))
	positions = append(positions, a.positions...)
	positions = append(positions, b.positions...)
	out, err := NewPointBuffer(positions)
	if err != nil {
		return nil, err
	}

	if a.HasNormals() && b.HasNormals() {
		normals := make([]float32, 0, len(a.normals)+len(b.normals))
		normals = append(normals, a.normals...)
		normals = append(normals, b.normals...)
		if err := out.SetNormals(normals); err != nil {
			return nil, err
		}
	}

	if a.HasColors() && b.HasColors() {
		if a.colorWidth != b.colorWidth {
			return nil, fmt.Errorf("cloud: merging colour widths %d and %d: %w",
				a.colorWidth, b.colorWidth, geomerr.ErrInvalidArgument)
		}
		colors := make([]uint8, 0, len(a.colors)+len(b.colors))
		colors = append(colors, a.colors...)
		colors = append(colors, b.colors...)
		if err := out.SetColors(colors, a.colorWidth); err != nil {
			return nil, err
		}
	}

	if a.HasSpectral() && b.HasSpectral() &&
		a.spectralWidth == b.spectralWidth &&
		a.spectralWaveMin == b.spectralWaveMin && a.spectralWaveMax == b.spectralWaveMax {
		spectral := make([]uint8, 0, len(a.spectral)+len(b.spectral))
		spectral = append(spectral, a.spectral...)
		spectral = append(spectral, b.spectral...)
		if err := out.SetSpectral(spectral, a.spectralWidth, a.spectralWaveMin, a.spectralWaveMax); err != nil {
			return nil, err
		}
	}

	return out, nil
}

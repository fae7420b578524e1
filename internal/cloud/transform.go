package cloud

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/surface.report/internal/geomerr"
)

// Transform is a 4x4 double-precision affine, produced by scan-project
// loaders and applied to single-precision point data.
type Transform struct {
	M mgl64.Mat4
}

// IdentityTransform returns the identity affine.
func IdentityTransform() Transform {
	return Transform{M: mgl64.Ident4()}
}

// Apply maps a single-precision point through the transform. Coordinates are
// promoted to f64 for the multiply and truncated back to f32.
func (t Transform) Apply(p mgl32.Vec3) mgl32.Vec3 {
	v := t.M.Mul4x1(mgl64.Vec4{float64(p[0]), float64(p[1]), float64(p[2]), 1})
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

// Origin returns the translation column, the scanner position of a pose.
func (t Transform) Origin() mgl32.Vec3 {
	return mgl32.Vec3{float32(t.M.At(0, 3)), float32(t.M.At(1, 3)), float32(t.M.At(2, 3))}
}

// ApplyToBuffer transforms every position (and rotates every normal, if
// present) in place.
func (t Transform) ApplyToBuffer(pb *PointBuffer) {
	for i := 0; i < pb.NumPoints(); i++ {
		p := t.Apply(pb.Position(i))
		pb.positions[i*3] = p[0]
		pb.positions[i*3+1] = p[1]
		pb.positions[i*3+2] = p[2]
	}
	if !pb.HasNormals() {
		return
	}
	rot := t.M.Mat3()
	for i := 0; i < pb.NumPoints(); i++ {
		n := pb.Normal(i)
		v := rot.Mul3x1(mgl64.Vec3{float64(n[0]), float64(n[1]), float64(n[2])})
		if l := v.Len(); l > 0 {
			v = v.Mul(1 / l)
		}
		pb.normals[i*3] = float32(v[0])
		pb.normals[i*3+1] = float32(v[1])
		pb.normals[i*3+2] = float32(v[2])
	}
}

// ReadScanPoses parses an ASCII scan-pose file: one pose per line, at least
// three whitespace-separated floats (x y z scanner origin; trailing fields
// such as orientation angles are ignored). Blank lines and lines starting
// with '#' are skipped.
func ReadScanPoses(r io.Reader) ([]mgl32.Vec3, error) {
	var poses []mgl32.Vec3
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("cloud: pose line %d has %d fields, want >= 3: %w",
				lineNo, len(fields), geomerr.ErrInvalidArgument)
		}
		var p mgl32.Vec3
		for a := 0; a < 3; a++ {
			v, err := strconv.ParseFloat(fields[a], 32)
			if err != nil {
				return nil, fmt.Errorf("cloud: pose line %d field %d: %v: %w",
					lineNo, a, err, geomerr.ErrInvalidArgument)
			}
			p[a] = float32(v)
		}
		poses = append(poses, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cloud: reading poses: %v: %w", err, geomerr.ErrIO)
	}
	return poses, nil
}

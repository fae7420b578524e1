package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surface.report/internal/cloud"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func writeCloudFile(t *testing.T, buf *cloud.PointBuffer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloud.xyz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := bufio.NewWriter(f)
	for i := 0; i < buf.NumPoints(); i++ {
		p := buf.Position(i)
		fmt.Fprintf(w, "%g %g %g\n", p[0], p[1], p[2])
	}
	require.NoError(t, w.Flush())
	return path
}

func resetFlags(t *testing.T, pairs map[string]string) {
	t.Helper()
	for name, value := range pairs {
		require.NoError(t, flag.Set(name, value))
	}
}

func TestReadPointFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("positions only", func(t *testing.T) {
		path := filepath.Join(dir, "p.xyz")
		require.NoError(t, os.WriteFile(path, []byte("# comment\n0 0 0\n1 2 3\n"), 0644))
		buf, err := readPointFile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, buf.NumPoints())
		assert.False(t, buf.HasNormals())
		assert.False(t, buf.HasColors())
	})

	t.Run("positions and normals", func(t *testing.T) {
		path := filepath.Join(dir, "pn.xyz")
		require.NoError(t, os.WriteFile(path, []byte("0 0 0 0.1 0.2 0.9\n"), 0644))
		buf, err := readPointFile(path)
		require.NoError(t, err)
		assert.True(t, buf.HasNormals())
		assert.False(t, buf.HasColors())
	})

	t.Run("positions and colours", func(t *testing.T) {
		path := filepath.Join(dir, "pc.xyz")
		require.NoError(t, os.WriteFile(path, []byte("0 0 0 255 0 10\n"), 0644))
		buf, err := readPointFile(path)
		require.NoError(t, err)
		assert.False(t, buf.HasNormals())
		assert.True(t, buf.HasColors())
		assert.Equal(t, [3]uint8{255, 0, 10}, buf.Color(0))
	})

	t.Run("nine columns", func(t *testing.T) {
		path := filepath.Join(dir, "pnc.xyz")
		require.NoError(t, os.WriteFile(path, []byte("0 0 0 0 0 1 10 20 30\n"), 0644))
		buf, err := readPointFile(path)
		require.NoError(t, err)
		assert.True(t, buf.HasNormals())
		assert.True(t, buf.HasColors())
	})

	t.Run("malformed line", func(t *testing.T) {
		path := filepath.Join(dir, "bad.xyz")
		require.NoError(t, os.WriteFile(path, []byte("1 2\n"), 0644))
		_, err := readPointFile(path)
		assert.Error(t, err)
	})
}

func TestParseVec3(t *testing.T) {
	t.Parallel()

	v, err := parseVec3("1,2.5,-3")
	require.NoError(t, err)
	assert.Equal(t, [3]float32{1, 2.5, -3}, v)

	_, err = parseVec3("1,2")
	assert.Error(t, err)
	_, err = parseVec3("a,b,c")
	assert.Error(t, err)
}

func TestRun_SphereEndToEnd(t *testing.T) {
	buf := cloud.GenSpherePoints(42, 3000, mgl32.Vec3{}, 1)
	in := writeCloudFile(t, buf)
	out := filepath.Join(t.TempDir(), "mesh.ply")

	resetFlags(t, map[string]string{
		"in":            in,
		"out":           out,
		"voxelsize":     "0.15",
		"decomposition": "MC",
		"fill-holes":    "0",
	})
	code := run()
	require.Equal(t, 0, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "ply\n"))
	assert.Contains(t, text, "element face")
	assert.NotContains(t, text, "element face 0\n")
}

func TestRun_MissingInput(t *testing.T) {
	resetFlags(t, map[string]string{
		"in":  "",
		"out": filepath.Join(t.TempDir(), "mesh.ply"),
	})
	assert.Equal(t, 2, run())
}

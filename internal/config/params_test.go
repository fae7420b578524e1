package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	p := Default()
	p.VoxelSize = 0
	p.Intersections = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.ReductionRatio = 1.5
	assert.Error(t, p.Validate())

	p = Default()
	p.Kd = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.Intersections = 100
	p.VoxelSize = 0
	assert.NoError(t, p.Validate())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	p := Default()
	p.VoxelSize = 0.25
	p.Decomposition = "MT"
	p.OptimizePlanes = true

	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, p.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

package geomerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverable(t *testing.T) {
	t.Parallel()

	assert.True(t, Recoverable(fmt.Errorf("wrapped: %w", ErrInsufficientSupport)))
	assert.True(t, Recoverable(ErrNumeric))
	assert.False(t, Recoverable(ErrTopology))
	assert.False(t, Recoverable(ErrInvalidArgument))
	assert.False(t, Recoverable(errors.New("other")))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("x: %w", ErrInvalidArgument)))
	assert.Equal(t, 3, ExitCode(ErrAllocation))
	assert.Equal(t, 4, ExitCode(ErrTopology))
	assert.Equal(t, 1, ExitCode(ErrIO))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}

func TestEntityf(t *testing.T) {
	t.Parallel()

	err := Entityf(ErrNumeric, "hole filling", 17, "loop of %d vertices", 2)
	assert.ErrorIs(t, err, ErrNumeric)
	assert.Contains(t, err.Error(), "hole filling")
	assert.Contains(t, err.Error(), "entity 17")
	assert.Contains(t, err.Error(), "loop of 2 vertices")
}

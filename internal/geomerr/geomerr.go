// Package geomerr defines the error taxonomy shared by the reconstruction
// pipeline. Stages classify failures into a small set of sentinel kinds so
// the driver can decide between aborting a stage and marking the offending
// entity and moving on.
package geomerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap them with fmt.Errorf("...: %w", kind) and test
// with errors.Is.
var (
	// ErrInvalidArgument reports a caller-supplied parameter outside its
	// domain (k = 0 for a neighbour search, NaN coordinates, a colour
	// channel of unexpected width). Always aborts the operation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientSupport reports that a query point has too few
	// neighbours to estimate local surface properties. Recoverable: the
	// caller marks the entity and continues.
	ErrInsufficientSupport = errors.New("insufficient neighbourhood support")

	// ErrTopology reports a mesh edit that would violate manifoldness or
	// orientation, or a circulator that detected a corrupt cycle. Aborts
	// the current stage.
	ErrTopology = errors.New("topology violation")

	// ErrAllocation reports that a handle or property index would exceed
	// MaxIndex. Aborts the current stage.
	ErrAllocation = errors.New("index allocation failed")

	// ErrNumeric reports degenerate geometry (zero-area face, coincident
	// hole-loop vertices) detected by an optimizer. Recoverable.
	ErrNumeric = errors.New("degenerate geometry")

	// ErrIO is propagated unchanged from external collaborators; the core
	// never produces it itself.
	ErrIO = errors.New("i/o failure")
)

// Recoverable reports whether processing may mark the entity and continue
// after err, per the propagation policy.
func Recoverable(err error) bool {
	return errors.Is(err, ErrInsufficientSupport) || errors.Is(err, ErrNumeric)
}

// ExitCode maps an error to the driver's process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgument):
		return 2
	case errors.Is(err, ErrAllocation):
		return 3
	case errors.Is(err, ErrTopology):
		return 4
	default:
		return 1
	}
}

// Entityf wraps kind with a stage name and entity index so driver logs can
// point at the offending element.
func Entityf(kind error, stage string, entity uint64, format string, v ...interface{}) error {
	msg := fmt.Sprintf(format, v...)
	return fmt.Errorf("%s: entity %d: %s: %w", stage, entity, msg, kind)
}

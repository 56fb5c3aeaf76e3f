// Package fault defines the error kinds shared by every coral layer.
//
// Each layer reports failures by returning one of these sentinels, possibly
// wrapped with context or with a layer-specific error that itself wraps a
// kind. Callers branch with errors.Is.
package fault

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrNilArgument reports a missing required object or argument.
	ErrNilArgument = errors.New("nil argument")

	// ErrUninitialized reports use of an object that was never initialized,
	// has been destroyed, or whose header no longer validates.
	ErrUninitialized = errors.New("uninitialized or destroyed object")

	// ErrAlreadyInitialized reports a second initialization of an instance.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrTypeMismatch reports an operation applied to an instance of the wrong class.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnavailable reports a capacity limit, a busy resource or a
	// concurrent modification.
	ErrUnavailable = errors.New("unavailable")

	// ErrNotFound reports a failed lookup.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a duplicate insertion.
	ErrAlreadyExists = errors.New("already exists")

	// ErrEndOfSequence reports a walk past either end of a sequence.
	ErrEndOfSequence = errors.New("end of sequence")

	// ErrInvalidArgument reports an argument that is present but unusable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfMemory reports an allocation failure.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrOverflow reports arithmetic overflow in a size computation.
	ErrOverflow = errors.New("overflow")

	// ErrPrecisionLoss reports a floating point computation that did not
	// round-trip exactly.
	ErrPrecisionLoss = errors.New("precision loss")
)

// FatalError is the panic value used for reference count abuse. It is never
// returned as an error: continuing after an over-release or a retain of a dead
// object would corrupt the heap.
type FatalError struct {
	Op    string
	Count uint64
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s observed reference count %d", e.Op, e.Count)
}

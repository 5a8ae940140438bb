package filetree

import (
	"errors"
	"fmt"
)

// Common tree errors
var (
	ErrNotExist      = errors.New("file does not exist")
	ErrExist         = errors.New("file already exists")
	ErrNotSupported  = errors.New("operation not supported")
	ErrIsDir         = errors.New("is a directory")
	ErrNotDir        = errors.New("not a directory")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidTarget = errors.New("invalid target directory")
)

// ErrReadOnly is returned when a mutation is attempted through a read-only view.
// It wraps ErrNotSupported.
var ErrReadOnly = fmt.Errorf("tree is read-only: %w", ErrNotSupported)

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError builds a *PathError for op on the given path segments.
func NewPathError(op string, path []string, err error) *PathError {
	return &PathError{Op: op, Path: "/" + EncodePath(path), Err: err}
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsNotSupported reports whether an error indicates that the backend
// cannot perform the operation
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

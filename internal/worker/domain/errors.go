package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound is returned when a run cannot be found in the journal
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidFormat is returned for a tile format other than png, jpg or jpeg
	ErrInvalidFormat = errors.New("invalid tile format")
)

// PathError reports a directory that could not be created. It is fatal to a
// run: no job is issued after one is seen.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError creates a new path error
func NewPathError(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

// IsFatal reports whether err must abort the whole run
func IsFatal(err error) bool {
	var pathErr *PathError
	return errors.As(err, &pathErr)
}

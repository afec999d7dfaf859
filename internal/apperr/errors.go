// Package apperr defines the error sentinels shared across the pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a cache or remote record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotModified marks a remote record whose change-tag matches the cached one.
	ErrNotModified = errors.New("not modified")
	// ErrPartial marks a run that completed with per-item failures recorded
	// in the receipt. The process must exit non-zero but the cache and the
	// export package are valid.
	ErrPartial = errors.New("run completed with errors")
)

// fatalError wraps an error that must abort the current phase, such as a
// local I/O failure that would otherwise corrupt the cache.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as phase-aborting.
func Fatal(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) aborts the phase.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

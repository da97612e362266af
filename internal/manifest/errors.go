package manifest

import (
	"errors"
	"fmt"
)

// ErrManifest marks malformed or incomplete sample and panel data.
var ErrManifest = errors.New("manifest error")

// Error describes a problem in a manifest or panel file. Line is 1-based and
// zero when the problem is not tied to one row.
type Error struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	location := e.Path
	if e.Line > 0 {
		location = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrManifest, location, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrManifest, location, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrManifest.
func (e *Error) Is(target error) bool { return target == ErrManifest }

func newError(path string, line int, format string, args ...any) *Error {
	return &Error{Path: path, Line: line, Reason: fmt.Sprintf(format, args...)}
}

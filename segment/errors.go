package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed segment.
	ErrClosed = errors.New("segment: closed")
	// ErrCorrupt is returned when the segment header fails validation.
	ErrCorrupt = errors.New("segment: corrupt header")
	// ErrNoSpace is returned when growing would exceed the configured maximum size.
	ErrNoSpace = errors.New("segment: no space")
	// ErrHeaderMismatch is returned when a named header exists with another type or size.
	ErrHeaderMismatch = errors.New("segment: header mismatch")
	// ErrDirectoryFull is returned when page 0 has no room for another named header.
	ErrDirectoryFull = errors.New("segment: header directory full")
	// ErrInvalidName is returned for empty or overlong header names.
	ErrInvalidName = errors.New("segment: invalid header name")
	// ErrInvalidPageShift is returned for page shifts outside [MinPageShift, MaxPageShift].
	ErrInvalidPageShift = errors.New("segment: invalid page shift")
)

// HeaderError describes a failure involving a named header.
//
// The underlying sentinel can be matched with errors.Is.
type HeaderError struct {
	Name string
	Err  error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("segment: header %q: %v", e.Name, e.Err)
}

func (e *HeaderError) Unwrap() error { return e.Err }

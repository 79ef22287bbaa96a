package mmap

import "errors"

// AccessPattern is a paging hint passed to madvise.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
	AccessDontNeed
)

// File is the part of an open file the mapper needs. *os.File satisfies it.
type File interface {
	Fd() uintptr
}

var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for a zero or negative mapping size.
	ErrInvalidSize = errors.New("mmap: invalid size")
)

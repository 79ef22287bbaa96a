package fs

import (
	"io"
	"os"
)

// File is an open segment or dump file.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	Stat() (os.FileInfo, error)
	Sync() error
	// Truncate resizes the file before the mapping is extended.
	Truncate(size int64) error
	// Fd is the descriptor handed to mmap.
	Fd() uintptr
}

// FileSystem is the slice of the os package a segment touches.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
}

// LocalFS forwards to the os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (LocalFS) Remove(name string) error                     { return os.Remove(name) }

// Default is used when no file system is configured.
var Default FileSystem = LocalFS{}

package mmap

import "sync/atomic"

// Mapping is one fixed-size view of a segment file or of anonymous memory.
type Mapping struct {
	data     []byte
	size     int
	writable bool
	anon     bool
	closed   atomic.Bool
	unmap    func([]byte) error
}

// Map maps the first size bytes of f into memory.
// A writable mapping is shared: stores land in the file's page cache and
// reach disk on Sync or when the kernel writes them back.
// The file must already be at least size bytes long.
func Map(f File, size int, writable bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMap(f.Fd(), size, writable)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:     data,
		size:     size,
		writable: writable,
		unmap:    unmapFunc,
	}, nil
}

// MapAnon creates a private read-write anonymous mapping of size bytes.
// The memory lives outside the Go heap and is zero-filled.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:     data,
		size:     size,
		writable: true,
		anon:     true,
		unmap:    unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the mapped memory, or nil after Close. Slices taken
// earlier fault if used after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() int { return m.size }

// Sync flushes dirty pages of a writable file mapping to disk.
// It is a no-op for read-only and anonymous mappings.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable || m.anon || m.data == nil {
		return nil
	}
	return osSync(m.data)
}

// Advise passes pattern to madvise for the whole mapping.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// Package mmap provides memory-mapped file access for the segment layer.
//
// # Overview
//
// A segment file is mapped read-write and shared, so stores into the
// mapping are stores into the file. Anonymous mappings back in-memory
// segments and live outside the Go heap.
//
// # Usage
//
//	f, _ := os.OpenFile("db.seg", os.O_RDWR, 0o644)
//	m, err := mmap.Map(f, size, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//	data[0] = 1
//	_ = m.Sync()
//
// A mapping never changes size. Growing a segment means truncating the
// file and mapping it again; slices taken from the old mapping are dead
// after its Close.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2), madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile, FlushViewOfFile; Advise is a no-op
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must
// ensure nothing touches Bytes() after Close() returns.
package mmap

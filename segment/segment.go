package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/hupe1980/atomdb/atom"
	"github.com/hupe1980/atomdb/internal/conv"
	"github.com/hupe1980/atomdb/internal/fs"
	"github.com/hupe1980/atomdb/internal/hash"
	"github.com/hupe1980/atomdb/internal/mmap"
)

// Version is the on-disk format version.
const Version = 1

const (
	offMagic     = 0
	offVersion   = 8
	offPageShift = 12
	offChecksum  = 16
	offCount     = 20
	offTotal     = 24
	offNext      = 28
	dirOffset    = 64

	entrySize = 64
	nameSize  = 40
	entType   = 40
	entSize   = 44
	entPage   = 48
)

var magic = [8]byte{'A', 'T', 'O', 'M', 'S', 'E', 'G', 0}

// Type tags a named header with the kind of structure it describes.
type Type uint32

const (
	TypeUnknown Type = iota
	TypeMMap
	TypeFixed
	TypeArb
	TypeIStr
	TypePat
	TypeOpaque
	TypeTree
	TypeBitmap
)

func (t Type) String() string {
	switch t {
	case TypeMMap:
		return "mmap"
	case TypeFixed:
		return "fixed"
	case TypeArb:
		return "arb"
	case TypeIStr:
		return "istr"
	case TypePat:
		return "pat"
	case TypeOpaque:
		return "opaque"
	case TypeTree:
		return "tree"
	case TypeBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Header is a named, persisted block of segment memory.
type Header struct {
	Name   string
	Type   Type
	Offset int // byte offset within the segment, page aligned
	Size   int
}

// Stats summarizes segment geometry.
type Stats struct {
	Size       int
	PageSize   int
	TotalPages uint32
	UsedPages  uint32
	Headers    int
	Generation uint64
}

// Segment is a paged byte buffer backed by a shared file mapping or by
// anonymous memory. It is not safe for concurrent use.
type Segment struct {
	path       string
	opts       options
	file       fs.File
	m          *mmap.Mapping
	pageShift  atom.Shift
	generation uint64
	closed     bool
}

// Create creates a new segment file at path. It fails if the file exists.
func Create(path string, optFns ...Option) (*Segment, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.pageShift < MinPageShift || opts.pageShift > MaxPageShift {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageShift, opts.pageShift)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := opts.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := opts.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	s := &Segment{
		path:      path,
		opts:      opts,
		file:      f,
		pageShift: atom.Shift(opts.pageShift),
	}
	size := s.pagesToBytes(opts.initialPages)
	if int64(size) > opts.maxSize {
		size = s.pagesToBytes(1)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		_ = opts.fs.Remove(path)
		return nil, err
	}
	if s.m, err = mmap.Map(f, size, true); err != nil {
		f.Close()
		_ = opts.fs.Remove(path)
		return nil, err
	}
	_ = s.m.Advise(mmap.AccessRandom)

	s.format(uint32(size >> s.pageShift)) //nolint:gosec // bounded by maxSize
	opts.logger.Debug("segment created", "path", path, "size", size, "page_shift", opts.pageShift)
	return s, nil
}

// Open attaches to an existing segment file.
func Open(path string, optFns ...Option) (*Segment, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	f, err := opts.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	s, err := attach(path, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// OpenOrCreate opens path if it exists and creates it otherwise.
func OpenOrCreate(path string, optFns ...Option) (*Segment, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := opts.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Create(path, optFns...)
		}
		return nil, err
	}
	return Open(path, optFns...)
}

// NewMemory creates a segment in anonymous memory. Nothing survives Close.
func NewMemory(optFns ...Option) (*Segment, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.pageShift < MinPageShift || opts.pageShift > MaxPageShift {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageShift, opts.pageShift)
	}

	s := &Segment{opts: opts, pageShift: atom.Shift(opts.pageShift)}
	size := s.pagesToBytes(opts.initialPages)
	if int64(size) > opts.maxSize {
		size = s.pagesToBytes(1)
	}
	m, err := mmap.MapAnon(size)
	if err != nil {
		return nil, err
	}
	s.m = m
	s.format(uint32(size >> s.pageShift)) //nolint:gosec // bounded by maxSize
	return s, nil
}

func attach(path string, f fs.File, opts options) (*Segment, error) {
	var hdr [dirOffset]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short file", ErrCorrupt)
		}
		return nil, err
	}
	if !bytes.Equal(hdr[offMagic:offMagic+8], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(hdr[offVersion:]); v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if !hash.Sealed(hdr[:], offChecksum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	shift := hdr[offPageShift]
	if shift < MinPageShift || shift > MaxPageShift {
		return nil, fmt.Errorf("%w: page shift %d", ErrCorrupt, shift)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size, err := conv.Int64ToInt(fi.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	total := binary.LittleEndian.Uint32(hdr[offTotal:])
	next := binary.LittleEndian.Uint32(hdr[offNext:])
	if next == 0 || next > total || uint64(size) < uint64(total)<<shift {
		return nil, fmt.Errorf("%w: %d/%d pages in %d bytes", ErrCorrupt, next, total, size)
	}

	s := &Segment{
		path:      path,
		opts:      opts,
		file:      f,
		pageShift: atom.Shift(shift),
	}
	if s.m, err = mmap.Map(f, s.pagesToBytes(total), true); err != nil {
		return nil, err
	}
	_ = s.m.Advise(mmap.AccessRandom)

	opts.logger.Debug("segment opened", "path", path, "pages", total, "used", next, "headers", s.count())
	return s, nil
}

func (s *Segment) format(total uint32) {
	p := s.m.Bytes()
	copy(p[offMagic:], magic[:])
	binary.LittleEndian.PutUint32(p[offVersion:], Version)
	p[offPageShift] = byte(s.pageShift)
	hash.Seal(p, offChecksum)
	binary.LittleEndian.PutUint32(p[offCount:], 0)
	binary.LittleEndian.PutUint32(p[offTotal:], total)
	binary.LittleEndian.PutUint32(p[offNext:], 1)
}

func (s *Segment) pagesToBytes(n uint32) int {
	return int(uint64(n) << s.pageShift) //nolint:gosec // callers bound n by maxSize
}

func (s *Segment) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(s.m.Bytes()[off:])
}

func (s *Segment) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.m.Bytes()[off:], v)
}

func (s *Segment) count() uint32 { return s.u32(offCount) }
func (s *Segment) total() uint32 { return s.u32(offTotal) }
func (s *Segment) next() uint32  { return s.u32(offNext) }

func (s *Segment) capacity() int {
	return (s.PageSize() - dirOffset) / entrySize
}

// Path returns the file path, or "" for a memory segment.
func (s *Segment) Path() string { return s.path }

// PageShift returns log2 of the page size.
func (s *Segment) PageShift() atom.Shift { return s.pageShift }

// PageSize returns the page size in bytes.
func (s *Segment) PageSize() int { return 1 << s.pageShift }

// Size returns the mapped size in bytes.
func (s *Segment) Size() int { return s.m.Size() }

// Generation changes every time the mapping is replaced.
func (s *Segment) Generation() uint64 { return s.generation }

// Bytes returns size bytes at off. The slice dies with the next remap.
func (s *Segment) Bytes(off, size int) []byte {
	return s.m.Bytes()[off : off+size : off+size]
}

// Page returns the bytes of page n. The slice dies with the next remap.
func (s *Segment) Page(n uint32) []byte {
	off := s.pagesToBytes(n)
	return s.Bytes(off, s.PageSize())
}

// Pointer returns the address of byte off. It dies with the next remap.
func (s *Segment) Pointer(off int) unsafe.Pointer {
	return unsafe.Pointer(&s.m.Bytes()[off]) //nolint:gosec // bounds checked by the index expression
}

// AllocPages reserves n contiguous pages and returns the first page number.
// The pages are zero filled. The segment grows if needed, which remaps it.
func (s *Segment) AllocPages(n uint32) (uint32, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if n == 0 {
		return 0, fmt.Errorf("segment: zero page allocation")
	}
	next := s.next()
	want := uint64(next) + uint64(n)
	if want > uint64(s.total()) {
		if err := s.grow(want); err != nil {
			return 0, err
		}
	}
	s.putU32(offNext, next+n)
	return next, nil
}

func (s *Segment) grow(minPages uint64) error {
	maxPages := uint64(s.opts.maxSize) >> s.pageShift //nolint:gosec // maxSize is positive
	if minPages > maxPages || minPages > 1<<32-1 {
		return fmt.Errorf("%w: need %d pages, limit %d", ErrNoSpace, minPages, maxPages)
	}
	pages := uint64(s.total()) * 2
	if pages < minPages {
		pages = minPages
	}
	if pages > maxPages {
		pages = maxPages
	}
	total, err := conv.Uint64ToUint32(pages)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	size := s.pagesToBytes(total)
	old := s.m

	var m *mmap.Mapping
	if s.file != nil {
		if err := s.file.Truncate(int64(size)); err != nil {
			return fmt.Errorf("segment: grow to %d bytes: %w", size, err)
		}
		m, err = mmap.Map(s.file, size, true)
	} else {
		m, err = mmap.MapAnon(size)
		if err == nil {
			copy(m.Bytes(), old.Bytes())
		}
	}
	if err != nil {
		return fmt.Errorf("segment: remap %d bytes: %w", size, err)
	}
	_ = m.Advise(mmap.AccessRandom)

	s.m = m
	s.generation++
	if err := old.Close(); err != nil {
		s.opts.logger.Warn("segment unmap failed", "error", err)
	}
	s.putU32(offTotal, total)

	s.opts.logger.Debug("segment grown", "path", s.path, "pages", total, "size", size, "generation", s.generation)
	return nil
}

func (s *Segment) entry(i int) []byte {
	off := dirOffset + i*entrySize
	return s.m.Bytes()[off : off+entrySize]
}

func entryName(e []byte) string {
	name := e[:nameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func (s *Segment) decode(e []byte) Header {
	size := binary.LittleEndian.Uint32(e[entSize:])
	return Header{
		Name:   entryName(e),
		Type:   Type(binary.LittleEndian.Uint32(e[entType:])),
		Offset: s.pagesToBytes(binary.LittleEndian.Uint32(e[entPage:])),
		Size:   int(size),
	}
}

// Lookup returns the named header if it exists.
func (s *Segment) Lookup(name string) (Header, bool) {
	if s.closed {
		return Header{}, false
	}
	n := int(s.count())
	for i := range n {
		e := s.entry(i)
		if entryName(e) == name {
			return s.decode(e), true
		}
	}
	return Header{}, false
}

// Headers lists every named header in creation order.
func (s *Segment) Headers() []Header {
	if s.closed {
		return nil
	}
	n := int(s.count())
	out := make([]Header, 0, n)
	for i := range n {
		out = append(out, s.decode(s.entry(i)))
	}
	return out
}

// Header returns the named header, creating a zero-filled one of the given
// type and size when it does not exist. The bool reports whether it
// already existed. Reopening with a different type or size fails with
// ErrHeaderMismatch.
func (s *Segment) Header(name string, typ Type, size int) (Header, bool, error) {
	if s.closed {
		return Header{}, false, ErrClosed
	}
	if name == "" || len(name) > nameSize || bytes.IndexByte([]byte(name), 0) >= 0 {
		return Header{}, false, &HeaderError{Name: name, Err: ErrInvalidName}
	}
	if h, ok := s.Lookup(name); ok {
		if h.Type != typ || h.Size != size {
			return Header{}, false, &HeaderError{
				Name: name,
				Err:  fmt.Errorf("%w: have %s/%d, want %s/%d", ErrHeaderMismatch, h.Type, h.Size, typ, size),
			}
		}
		return h, true, nil
	}

	n := int(s.count())
	if n >= s.capacity() {
		return Header{}, false, &HeaderError{Name: name, Err: ErrDirectoryFull}
	}
	usize, err := conv.IntToUint32(size)
	if err != nil || size == 0 {
		return Header{}, false, &HeaderError{Name: name, Err: fmt.Errorf("invalid size %d", size)}
	}

	page, err := s.AllocPages(atom.ItemsShift32(usize, s.pageShift))
	if err != nil {
		return Header{}, false, &HeaderError{Name: name, Err: err}
	}

	// AllocPages may have remapped; resolve the entry afterwards.
	e := s.entry(n)
	clear(e)
	copy(e[:nameSize], name)
	binary.LittleEndian.PutUint32(e[entType:], uint32(typ))
	binary.LittleEndian.PutUint32(e[entSize:], usize)
	binary.LittleEndian.PutUint32(e[entPage:], page)
	s.putU32(offCount, uint32(n+1)) //nolint:gosec // n < capacity

	s.opts.logger.Debug("segment header created", "name", name, "type", typ.String(), "size", size, "page", page)
	return s.decode(e), false, nil
}

// Stats reports the segment geometry.
func (s *Segment) Stats() Stats {
	if s.closed {
		return Stats{}
	}
	return Stats{
		Size:       s.Size(),
		PageSize:   s.PageSize(),
		TotalPages: s.total(),
		UsedPages:  s.next(),
		Headers:    int(s.count()),
		Generation: s.generation,
	}
}

// Sync flushes the mapping and the file to stable storage.
func (s *Segment) Sync() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.m.Sync(); err != nil {
		return err
	}
	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

// AccessPattern is a paging hint passed to Advise.
type AccessPattern = mmap.AccessPattern

// Paging hints.
const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
	AccessDontNeed   = mmap.AccessDontNeed
)

// Advise passes a paging hint for the whole mapping to the kernel.
// Growing the segment resets the hint to AccessRandom.
func (s *Segment) Advise(pattern AccessPattern) error {
	if s.closed {
		return ErrClosed
	}
	return s.m.Advise(pattern)
}

// Close unmaps the segment and closes its file. It does not sync.
// Close is idempotent.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.m.Close()
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

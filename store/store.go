// Package store keeps variable-size records in size-classed fixed pools.
//
// A record holds a key and a value. Records are placed in the smallest of
// twelve classes, 32 bytes to 64 KiB, that fits them; each class is a
// fixed pool named after the store. A record is named by a data atom that
// packs its class into the top five bits and its pool atom into the rest,
// so the store is the data store and key source of a pat.Tree.
//
// Like the pools under it, a store has no locks.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/atomdb/atom"
	"github.com/hupe1980/atomdb/fixed"
	"github.com/hupe1980/atomdb/pat"
	"github.com/hupe1980/atomdb/segment"
)

const (
	// NumClasses is the number of size classes.
	NumClasses = 12
	// MinClassSize is the atom size of class 0.
	MinClassSize = 32
	// MaxRecordSize is the largest record, header included.
	MaxRecordSize = MinClassSize << (NumClasses - 1)

	classShift = 27
	atomMask   = 1<<classShift - 1
	// poolPageShift sizes every pool page at 64 KiB.
	poolPageShift = 16
	// maxClassShift bounds each class at 1 GiB of atoms.
	maxClassShift = 30
	headerSize    = 8
)

// DefaultMaxRecords caps each class pool.
const DefaultMaxRecords = 1 << 20

var (
	// ErrTooLarge is returned for a record that does not fit the largest class.
	ErrTooLarge = errors.New("store: record too large")
	// ErrFull is returned when a class pool or the segment is out of room.
	ErrFull = errors.New("store: full")
	// ErrMismatch is returned when a store is reopened with a different layout.
	ErrMismatch = errors.New("store: layout mismatch")
)

const flagLive uint16 = 1

// record is the header in front of every record. The first four bytes
// double as the free-list link of a freed atom, so the live flag is kept
// clear of them.
type record struct {
	ValLen uint32
	KeyLen uint16
	Flags  uint16
}

// meta is the persisted store header.
type meta struct {
	MaxRecords uint32
	Classes    uint32
}

type options struct {
	maxRecords uint32
	logger     *slog.Logger
}

// Option configures a store.
type Option func(*options)

// WithMaxRecords caps the record count of each class. It applies when the
// store is created; a reopened store keeps its own cap.
func WithMaxRecords(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecords = min(n, atomMask)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Stats describes store occupancy.
type Stats struct {
	Records uint64
	Bytes   uint64
	Classes []fixed.Stats
}

// Store is a record heap inside a segment.
type Store struct {
	seg        *segment.Segment
	name       string
	maxRecords uint32
	pools      [NumClasses]*fixed.Pool
	logger     *slog.Logger
}

// Open opens or creates the store called name in seg. Class pools are
// created the first time a record of their size is stored.
func Open(seg *segment.Segment, name string, optFns ...Option) (*Store, error) {
	opts := options{maxRecords: DefaultMaxRecords, logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(&opts)
	}

	hdr, existed, err := seg.Header(name+".store", segment.TypeOpaque, 8)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", name, err)
	}
	m := atom.As[meta](seg.Bytes(hdr.Offset, hdr.Size))
	if !existed {
		m.MaxRecords = opts.maxRecords
		m.Classes = NumClasses
	} else if m.Classes != NumClasses || m.MaxRecords == 0 {
		return nil, fmt.Errorf("%w: %q has %d classes", ErrMismatch, name, m.Classes)
	}

	s := &Store{
		seg:        seg,
		name:       name,
		maxRecords: m.MaxRecords,
		logger:     opts.logger.With("store", name),
	}
	for k := range NumClasses {
		if _, ok := seg.Lookup(s.poolName(k)); !ok {
			continue
		}
		if _, err := s.pool(k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) poolName(k int) string {
	return fmt.Sprintf("%s.c%d", s.name, k)
}

// pool returns the pool of class k, creating it if needed. Creating a
// pool may remap the segment.
func (s *Store) pool(k int) (*fixed.Pool, error) {
	if p := s.pools[k]; p != nil {
		return p, nil
	}
	size := uint32(MinClassSize) << k
	atomShift := atom.ShiftFor(size)
	maxAtoms := min(s.maxRecords, uint32(1)<<(maxClassShift-atomShift))
	p, err := fixed.Open(s.seg, s.poolName(k), uint8(poolPageShift-atomShift), size, maxAtoms, fixed.WithLogger(s.logger))
	if err != nil {
		if errors.Is(err, fixed.ErrMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrMismatch, err)
		}
		return nil, fmt.Errorf("store: class %d: %w", k, err)
	}
	s.pools[k] = p
	return p, nil
}

// classFor returns the smallest class holding n bytes.
func classFor(n int) int {
	k := 0
	for MinClassSize<<k < n {
		k++
	}
	return k
}

func pack(k int, a uint32) pat.DataAtom {
	return pat.DataAtom(uint32(k)<<classShift | a) //nolint:gosec // k < NumClasses
}

func unpack(d pat.DataAtom) (int, uint32) {
	return int(d.Uint32() >> classShift), d.Uint32() & atomMask
}

// Put stores a record and returns its data atom. The segment may be
// remapped; slices obtained from the store before Put are dead.
func (s *Store) Put(key, value []byte) (pat.DataAtom, error) {
	n := headerSize + len(key) + len(value)
	if n > MaxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	k := classFor(n)
	p, err := s.pool(k)
	if err != nil {
		if errors.Is(err, segment.ErrNoSpace) {
			return 0, fmt.Errorf("%w: %w", ErrFull, err)
		}
		return 0, err
	}
	a := p.Alloc()
	if a == atom.Null {
		return 0, fmt.Errorf("%w: class %d (%d-byte records)", ErrFull, k, p.AtomSize())
	}

	b := p.Address(a)
	r := atom.As[record](b)
	r.ValLen = uint32(len(value)) //nolint:gosec // bounded by MaxRecordSize
	r.KeyLen = uint16(len(key))   //nolint:gosec // checked above
	r.Flags = flagLive
	copy(b[headerSize:], key)
	copy(b[headerSize+len(key):], value)
	return pack(k, a), nil
}

// bytes returns the atom bytes and header of a live record, or nil.
func (s *Store) bytes(d pat.DataAtom) ([]byte, *record) {
	k, a := unpack(d)
	if k >= NumClasses || s.pools[k] == nil || a == atom.Null || a > s.pools[k].HighWater() {
		return nil, nil
	}
	b := s.pools[k].Address(a)
	if b == nil {
		return nil, nil
	}
	r := atom.As[record](b)
	if r.Flags&flagLive == 0 || headerSize+int(r.KeyLen)+int(r.ValLen) > len(b) {
		return nil, nil
	}
	return b, r
}

// Key returns the key of record d, or nil when d is not a live record.
// The slice points into the segment and dies with the next allocation.
func (s *Store) Key(d pat.DataAtom) []byte {
	b, r := s.bytes(d)
	if b == nil {
		return nil
	}
	end := headerSize + int(r.KeyLen)
	return b[headerSize:end:end]
}

// Value returns the value of record d, or nil when d is not a live
// record. Like Key, the slice points into the segment.
func (s *Store) Value(d pat.DataAtom) []byte {
	b, r := s.bytes(d)
	if b == nil {
		return nil
	}
	start := headerSize + int(r.KeyLen)
	end := start + int(r.ValLen)
	return b[start:end:end]
}

// Live reports whether d names a live record.
func (s *Store) Live(d pat.DataAtom) bool {
	b, _ := s.bytes(d)
	return b != nil
}

// Free releases record d. Freeing anything but a live record is a
// contract violation and panics.
func (s *Store) Free(d pat.DataAtom) {
	b, r := s.bytes(d)
	if b == nil {
		panic(fmt.Sprintf("store: free of dead record %#x in %q", d.Uint32(), s.name))
	}
	r.Flags &^= flagLive
	k, a := unpack(d)
	s.pools[k].Free(a)
}

// Each calls fn for every live record in class then atom order until fn
// returns false.
func (s *Store) Each(fn func(d pat.DataAtom) bool) {
	for k, p := range s.pools {
		if p == nil {
			continue
		}
		hw := p.HighWater()
		for a := uint32(1); a <= hw; a++ {
			d := pack(k, a)
			if s.Live(d) && !fn(d) {
				return
			}
		}
	}
}

// MaxRecords returns the per-class record cap persisted with the store.
func (s *Store) MaxRecords() uint32 { return s.maxRecords }

// Pools returns the class pools created so far.
func (s *Store) Pools() []*fixed.Pool {
	var out []*fixed.Pool
	for _, p := range s.pools {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Stats reports record counts and the bytes held by live records' atoms.
func (s *Store) Stats() Stats {
	var st Stats
	for _, p := range s.pools {
		if p == nil {
			continue
		}
		ps := p.Stats()
		st.Records += uint64(ps.InUse)
		st.Bytes += uint64(ps.InUse) * uint64(ps.AtomSize)
		st.Classes = append(st.Classes, ps)
	}
	return st
}

// Package fixed implements pools of same-size atoms inside a segment.
//
// A pool hands out atom numbers 1..MaxAtoms. Atoms are grouped into pool
// pages of 1<<Shift atoms; a pool page is carved from the segment the
// first time one of its atoms is needed, and its segment location is
// recorded in a page table stored with the pool header. Freed atoms are
// threaded onto a free list through their first four bytes.
//
// Pool state lives entirely in the segment, so reopening a segment and
// calling Open with the same name and parameters reattaches to the pool.
//
// A pool has no locks. Callers keep to one writer at a time.
package fixed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/atomdb/atom"
	"github.com/hupe1980/atomdb/segment"
)

const (
	// MinAtomSize is the smallest atom; it must hold a free-list link.
	MinAtomSize = 4
	// MaxAtomSize is the largest supported atom.
	MaxAtomSize = 64 << 10
	// MaxPageShift bounds the size of one pool page to 1<<MaxPageShift bytes.
	MaxPageShift = 30
)

var (
	// ErrIncompatible is returned when the atom size and shift cannot form a pool.
	ErrIncompatible = errors.New("fixed: incompatible pool geometry")
	// ErrMismatch is returned when reattaching with different parameters.
	ErrMismatch = errors.New("fixed: pool parameters mismatch")
	// ErrCorrupt is returned when the free list does not describe a valid chain.
	ErrCorrupt = errors.New("fixed: corrupt free list")
)

// Flags is the persisted pool flag word.
type Flags uint16

const (
	// FlagInitZero makes every allocation return zero-filled memory.
	FlagInitZero Flags = 1 << iota
)

// info is the persisted pool header. The page table follows it.
type info struct {
	AtomSize  uint32
	MaxAtoms  uint32
	MaxPages  uint32
	Free      uint32
	HighWater uint32
	InUse     uint32
	Pages     uint32
	AtomShift uint8
	Shift     uint8
	Flags     Flags
}

const (
	infoSize      = 32
	maxTablePages = 1 << 20
)

// Stats describes pool occupancy.
type Stats struct {
	Name      string
	AtomSize  uint32
	MaxAtoms  uint32
	HighWater uint32
	InUse     uint32
	Free      uint32
	Pages     uint32
}

type options struct {
	flags  Flags
	logger *slog.Logger
}

// Option configures a pool.
type Option func(*options)

// WithFlags sets the flags of a newly created pool.
func WithFlags(f Flags) Option {
	return func(o *options) {
		o.flags = f
	}
}

// WithLogger sets the logger used to report exhaustion and growth failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Pool is a fixed-size atom allocator.
type Pool struct {
	seg       *segment.Segment
	name      string
	hdr       segment.Header
	atomShift atom.Shift
	shift     atom.Shift
	segPages  uint32 // segment pages per pool page
	logger    *slog.Logger
}

// Open creates or reattaches the pool called name in seg.
//
// shift is log2 of the number of atoms per pool page. atomSize is rounded
// up to a power of two of at least MinAtomSize. maxAtoms caps the pool.
func Open(seg *segment.Segment, name string, shift uint8, atomSize, maxAtoms uint32, optFns ...Option) (*Pool, error) {
	opts := options{logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(&opts)
	}

	if atomSize == 0 || atomSize > MaxAtomSize || maxAtoms == 0 {
		return nil, fmt.Errorf("%w: atom size %d, max atoms %d", ErrIncompatible, atomSize, maxAtoms)
	}
	atomShift := atom.ShiftFor(max(atomSize, MinAtomSize))
	if int(shift)+int(atomShift) > MaxPageShift {
		return nil, fmt.Errorf("%w: shift %d with %d-byte atoms", ErrIncompatible, shift, atomShift.Size())
	}

	if maxAtoms>>shift >= maxTablePages {
		return nil, fmt.Errorf("%w: %d atoms need more than %d pages", ErrIncompatible, maxAtoms, maxTablePages)
	}
	maxPages := maxAtoms>>shift + 1
	hdr, existed, err := seg.Header(name, segment.TypeFixed, infoSize+4*int(maxPages))
	if err != nil {
		if errors.Is(err, segment.ErrHeaderMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrMismatch, err)
		}
		return nil, err
	}

	p := &Pool{
		seg:       seg,
		name:      name,
		hdr:       hdr,
		atomShift: atomShift,
		shift:     atom.Shift(shift),
		logger:    opts.logger.With("pool", name),
	}
	poolPage := uint32(1) << (shift + uint8(atomShift))
	p.segPages = max(atom.ItemsShift32(poolPage, seg.PageShift()), 1)

	in := p.info()
	if existed {
		if in.AtomSize != atomShift.Size() || in.AtomShift != uint8(atomShift) ||
			in.Shift != shift || in.MaxAtoms != maxAtoms || in.MaxPages != maxPages {
			return nil, fmt.Errorf("%w: %q has %d-byte atoms, shift %d, max %d",
				ErrMismatch, name, in.AtomSize, in.Shift, in.MaxAtoms)
		}
		return p, nil
	}

	in.AtomSize = atomShift.Size()
	in.AtomShift = uint8(atomShift)
	in.Shift = shift
	in.MaxAtoms = maxAtoms
	in.MaxPages = maxPages
	in.Flags = opts.flags
	return p, nil
}

func (p *Pool) info() *info {
	return atom.As[info](p.seg.Bytes(p.hdr.Offset, infoSize))
}

func (p *Pool) table() []uint32 {
	n := (p.hdr.Size - infoSize) / 4
	return atom.SliceOf[uint32](p.seg.Bytes(p.hdr.Offset+infoSize, n*4), n)
}

// Name returns the pool's header name.
func (p *Pool) Name() string { return p.name }

// MaxAtoms returns the configured ceiling.
func (p *Pool) MaxAtoms() uint32 { return p.info().MaxAtoms }

// AtomSize returns the rounded atom size in bytes.
func (p *Pool) AtomSize() uint32 { return p.atomShift.Size() }

// AtomShift returns log2 of the atom size.
func (p *Pool) AtomShift() atom.Shift { return p.atomShift }

// Flags returns the persisted flags.
func (p *Pool) Flags() Flags { return p.info().Flags }

// SetFlags replaces the persisted flags.
func (p *Pool) SetFlags(f Flags) { p.info().Flags = f }

// HighWater returns the largest atom number ever handed out.
func (p *Pool) HighWater() uint32 { return p.info().HighWater }

// materialize makes sure pool page pi has segment backing.
// It may remap the segment.
func (p *Pool) materialize(pi uint32) bool {
	if p.table()[pi] != 0 {
		return true
	}
	page, err := p.seg.AllocPages(p.segPages)
	if err != nil {
		p.logger.Warn("pool page allocation failed", "pool_page", pi, "error", err)
		return false
	}
	// Page 0 is the segment header, so 0 never names a pool page.
	p.table()[pi] = page
	p.info().Pages++
	return true
}

func (p *Pool) slot(a uint32) []byte {
	pg := p.table()[a>>p.shift]
	if pg == 0 {
		return nil
	}
	off := int(uint64(pg)<<p.seg.PageShift()) + int(atom.Offset(a&(1<<p.shift-1), p.atomShift))
	return p.seg.Bytes(off, int(p.atomShift.Size()))
}

// Alloc returns a fresh atom, or atom.Null when the pool is exhausted or
// the segment cannot grow. Either outcome is recoverable.
//
// Alloc may remap the segment; slices obtained before it are dead.
func (p *Pool) Alloc() uint32 {
	in := p.info()
	if a := in.Free; a != atom.Null {
		b := p.slot(a)
		in.Free = *atom.As[uint32](b)
		in.InUse++
		if in.Flags&FlagInitZero != 0 {
			clear(b)
		}
		return a
	}

	if in.HighWater >= in.MaxAtoms {
		p.logger.Debug("pool exhausted", "max_atoms", in.MaxAtoms)
		return atom.Null
	}
	a := in.HighWater + 1
	if !p.materialize(a >> p.shift) {
		return atom.Null
	}

	in = p.info()
	in.HighWater = a
	in.InUse++
	if in.Flags&FlagInitZero != 0 {
		// Element may have written here before the high-water mark got this far.
		clear(p.slot(a))
	}
	return a
}

// Free returns a to the pool. Freeing the null atom or an atom the pool
// never handed out is a contract violation and panics.
func (p *Pool) Free(a uint32) {
	in := p.info()
	if a == atom.Null || a > in.HighWater {
		panic(fmt.Sprintf("fixed: free of atom %d outside [1, %d] in pool %q", a, in.HighWater, p.name))
	}
	*atom.As[uint32](p.slot(a)) = in.Free
	in.Free = a
	in.InUse--
}

// Address returns the bytes of atom a whether or not it is allocated, or
// nil for the null atom, an atom beyond MaxAtoms, or a page that was never
// materialized. The slice is valid until the next allocation.
func (p *Pool) Address(a uint32) []byte {
	if a == atom.Null || a > p.info().MaxAtoms {
		return nil
	}
	return p.slot(a)
}

// Element returns the bytes at index i, materializing its page if needed.
// It ignores the free list entirely, which suits tables indexed by an
// externally meaningful id. It returns nil when i exceeds MaxAtoms or the
// segment cannot grow.
func (p *Pool) Element(i uint32) []byte {
	if i > p.info().MaxAtoms {
		return nil
	}
	if !p.materialize(i >> p.shift) {
		return nil
	}
	return p.slot(i)
}

// FreeList calls fn for every atom on the free list, head first, until fn
// returns false. It reports ErrCorrupt for a link outside the pool or a
// chain longer than the high-water mark.
func (p *Pool) FreeList(fn func(a uint32) bool) error {
	in := p.info()
	hw := in.HighWater
	var steps uint32
	for a := in.Free; a != atom.Null; {
		if a > hw {
			return fmt.Errorf("%w: link %d beyond high water %d in %q", ErrCorrupt, a, hw, p.name)
		}
		if steps++; steps > hw {
			return fmt.Errorf("%w: cycle in %q", ErrCorrupt, p.name)
		}
		if !fn(a) {
			return nil
		}
		a = *atom.As[uint32](p.slot(a))
	}
	return nil
}

// Stats reports pool occupancy.
func (p *Pool) Stats() Stats {
	in := p.info()
	return Stats{
		Name:      p.name,
		AtomSize:  in.AtomSize,
		MaxAtoms:  in.MaxAtoms,
		HighWater: in.HighWater,
		InUse:     in.InUse,
		Free:      in.HighWater - in.InUse,
		Pages:     in.Pages,
	}
}

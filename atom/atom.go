// Package atom translates between atom numbers and memory.
//
// An atom is the smallest indexable allocation unit of a pool. Everything
// stored in a segment refers to everything else by atom number, never by
// address, so the segment may be mapped at a different base on every open.
// The translation is purely geometric:
//
//	address = base + atom<<shift
//	atom    = (address - base) >> shift
//
// Atom 0 is the null sentinel; valid atoms start at 1. Bounds are the
// owning pool's concern, not this package's.
package atom

import "unsafe"

// Shift is log2 of a power-of-two size.
type Shift uint8

// Size returns 1<<s.
func (s Shift) Size() uint32 {
	return 1 << s
}

// Null is the reserved null atom.
const Null = 0

// ID is an atom number tagged with the type it refers to. The tag costs
// nothing at run time and keeps, say, node atoms and data atoms from being
// mixed up at compile time.
type ID[T any] uint32

// IsNull reports whether the id is the null atom.
func (id ID[T]) IsNull() bool {
	return id == Null
}

// Uint32 returns the raw atom number.
func (id ID[T]) Uint32() uint32 {
	return uint32(id)
}

// Offset returns the byte offset of atom for the given shift.
func Offset(atom uint32, shift Shift) uintptr {
	return uintptr(atom) << shift
}

// Pointer returns base + atom<<shift.
func Pointer(base unsafe.Pointer, atom uint32, shift Shift) unsafe.Pointer {
	return unsafe.Add(base, Offset(atom, shift)) //nolint:gosec // bounds are the caller's contract
}

// Of returns the atom number of ptr relative to base.
func Of(base, ptr unsafe.Pointer, shift Shift) uint32 {
	delta := uintptr(ptr) - uintptr(base)
	return uint32(delta >> shift) //nolint:gosec // callers pass pointers inside one segment
}

// Slice returns the size bytes of atom within base.
// It panics like any out-of-range slice expression when the atom lies
// outside base.
func Slice(base []byte, atom uint32, shift Shift, size int) []byte {
	off := int(Offset(atom, shift))
	return base[off : off+size : off+size]
}

// RoundUpShift32 rounds val up to a multiple of 1<<shift.
func RoundUpShift32(val uint32, shift Shift) uint32 {
	return (val + (1 << shift) - 1) &^ ((1 << shift) - 1)
}

// RoundUp32 rounds val up to a multiple of rnd, which must be a power of two.
func RoundUp32(val, rnd uint32) uint32 {
	return (val + rnd - 1) &^ (rnd - 1)
}

// ItemsShift32 returns how many 1<<shift sized items are needed to hold val.
func ItemsShift32(val uint32, shift Shift) uint32 {
	return (val + (1 << shift) - 1) >> shift
}

// ShiftFor returns the smallest shift with 1<<shift >= size.
func ShiftFor(size uint32) Shift {
	var s Shift
	for s < 31 && uint32(1)<<s < size {
		s++
	}
	return s
}

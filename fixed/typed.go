package fixed

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/hupe1980/atomdb/atom"
)

// Typed is a pool whose atoms hold values of T, addressed by atom.ID[T].
type Typed[T any] struct {
	pool *Pool
}

// NewTyped wraps p. T must be free of Go pointers and fit in one atom.
func NewTyped[T any](p *Pool) (*Typed[T], error) {
	var zero T
	if err := atom.CheckPlain(reflect.TypeFor[T]()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	if size := unsafe.Sizeof(zero); size > uintptr(p.AtomSize()) {
		return nil, fmt.Errorf("%w: %T is %d bytes, atoms are %d", ErrIncompatible, zero, size, p.AtomSize())
	}
	return &Typed[T]{pool: p}, nil
}

// Pool returns the underlying pool.
func (t *Typed[T]) Pool() *Pool { return t.pool }

// Alloc allocates an atom, returning the null id on exhaustion.
func (t *Typed[T]) Alloc() atom.ID[T] {
	return atom.ID[T](t.pool.Alloc())
}

// Free returns id to the pool.
func (t *Typed[T]) Free(id atom.ID[T]) {
	t.pool.Free(id.Uint32())
}

// At returns the value stored in id, or nil when id has no backing.
// The pointer is valid until the next allocation from any pool in the
// same segment.
func (t *Typed[T]) At(id atom.ID[T]) *T {
	b := t.pool.Address(id.Uint32())
	if b == nil {
		return nil
	}
	return atom.As[T](b)
}

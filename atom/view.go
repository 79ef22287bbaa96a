package atom

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// hiBit maps a byte to its most significant set bit (0 maps to 0).
// Filled once in init and never written again.
var hiBit [256]byte

func init() {
	for i := 1; i < 256; i++ {
		b := byte(0x80)
		for byte(i)&b == 0 {
			b >>= 1
		}
		hiBit[i] = b
	}
}

// HiBit returns the most significant set bit of b, or 0 when b is 0.
func HiBit(b byte) byte {
	return hiBit[b]
}

// CheckPlain returns an error if t cannot live in mapped memory: anything
// holding a Go pointer (directly or in a field) is rejected, since the
// collector never scans a mapping.
func CheckPlain(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Array:
		return CheckPlain(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if err := CheckPlain(t.Field(i).Type); err != nil {
				return fmt.Errorf("field %s: %w", t.Field(i).Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("atom: type %s holds pointers", t)
	}
}

// plainTypes caches CheckPlain results by reflect.Type.
var plainTypes sync.Map

func mustPlain[T any]() {
	t := reflect.TypeFor[T]()
	v, ok := plainTypes.Load(t)
	if !ok {
		v, _ = plainTypes.LoadOrStore(t, CheckPlain(t))
	}
	if err, _ := v.(error); err != nil {
		panic(err)
	}
}

// As returns b viewed as a *T. T must pass CheckPlain. b must be at least unsafe.Sizeof(T) bytes
// and suitably aligned; atoms always are, because atom sizes are powers
// of two and pages are page aligned.
//
// The pointer is only as good as b: once the segment behind it is
// remapped, it dangles.
func As[T any](b []byte) *T {
	mustPlain[T]()
	var zero T
	if uintptr(len(b)) < unsafe.Sizeof(zero) {
		panic(fmt.Sprintf("atom: %d bytes cannot hold %T (%d bytes)", len(b), zero, unsafe.Sizeof(zero)))
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b))) //nolint:gosec // length checked above
}

// SliceOf returns b viewed as n elements of T. T must pass CheckPlain.
func SliceOf[T any](b []byte, n int) []T {
	mustPlain[T]()
	var zero T
	if n == 0 {
		return nil
	}
	if uintptr(len(b)) < uintptr(n)*unsafe.Sizeof(zero) {
		panic(fmt.Sprintf("atom: %d bytes cannot hold %d x %T", len(b), n, zero))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n) //nolint:gosec // length checked above
}

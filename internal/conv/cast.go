package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is wrapped by every failed conversion.
var ErrOverflow = errors.New("integer overflow")

// IntToUint32 narrows a size or offset to the on-disk width.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

// Int64ToInt converts a file size to an addressable length.
func Int64ToInt(v int64) (int, error) {
	if v < 0 || uint64(v) > math.MaxInt {
		return 0, fmt.Errorf("%w: %d is not a valid length", ErrOverflow, v)
	}
	return int(v), nil
}

// Uint64ToUint32 narrows a page count.
func Uint64ToUint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

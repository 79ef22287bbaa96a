package atomdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/atomdb/pat"
	"github.com/hupe1980/atomdb/segment"
	"github.com/hupe1980/atomdb/store"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidKey is returned for an empty key, a key longer than
	// MaxKeyLen, or a key containing a NUL byte.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyConflict is returned when the trie refuses a key it should
	// have accepted.
	ErrKeyConflict = errors.New("key conflict")
	// ErrFull is returned when the key table, a record class or the
	// segment is out of room.
	ErrFull = errors.New("database full")
	// ErrTooLarge is returned when key and value exceed the largest record.
	ErrTooLarge = errors.New("value too large")
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database closed")
)

// ErrCorruption reports a failed consistency check.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCorruption struct {
	Check  string
	Detail string
	cause  error
}

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("corruption in %s: %s", e.Check, e.Detail)
}

func (e *ErrCorruption) Unwrap() error { return e.cause }

func corruption(check, format string, args ...any) *ErrCorruption {
	return &ErrCorruption{Check: check, Detail: fmt.Sprintf(format, args...)}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrTooLarge):
		return fmt.Errorf("%w: %w", ErrTooLarge, err)
	case errors.Is(err, store.ErrFull), errors.Is(err, segment.ErrNoSpace):
		return fmt.Errorf("%w: %w", ErrFull, err)
	case errors.Is(err, segment.ErrClosed), errors.Is(err, pat.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, segment.ErrCorrupt):
		return &ErrCorruption{Check: "segment", Detail: err.Error(), cause: err}
	}
	return err
}

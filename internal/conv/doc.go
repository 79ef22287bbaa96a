// Package conv narrows integers read from segment files, reporting
// ErrOverflow instead of silently truncating a corrupt count or size.
package conv

package segment

import (
	"log/slog"

	"github.com/hupe1980/atomdb/internal/fs"
)

const (
	// MinPageShift is the smallest supported page shift (4 KiB pages).
	MinPageShift = 12
	// MaxPageShift is the largest supported page shift (1 MiB pages).
	MaxPageShift = 20
	// DefaultPageShift gives 4 KiB pages.
	DefaultPageShift = MinPageShift
	// DefaultInitialPages is the page count of a fresh segment.
	DefaultInitialPages = 16
	// DefaultMaxSize bounds segment growth (4 GiB).
	DefaultMaxSize = 4 << 30
)

type options struct {
	pageShift    uint8
	initialPages uint32
	maxSize      int64
	fs           fs.FileSystem
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		pageShift:    DefaultPageShift,
		initialPages: DefaultInitialPages,
		maxSize:      DefaultMaxSize,
		fs:           fs.Default,
		logger:       slog.New(slog.DiscardHandler),
	}
}

// Option configures a segment.
type Option func(*options)

// WithPageShift sets log2 of the page size for a new segment.
// Existing segments keep the shift they were created with.
func WithPageShift(shift uint8) Option {
	return func(o *options) {
		o.pageShift = shift
	}
}

// WithInitialPages sets the page count of a new segment.
func WithInitialPages(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.initialPages = n
		}
	}
}

// WithMaxSize caps the segment size in bytes. Growth past it fails with ErrNoSpace.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithFileSystem sets the filesystem used for segment files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithLogger sets the logger. Growth and open events are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

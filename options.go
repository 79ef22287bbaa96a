package atomdb

import (
	"log/slog"

	"github.com/hupe1980/atomdb/segment"
	"github.com/hupe1980/atomdb/store"
)

const (
	// DefaultMaxKeys caps the number of keys a database can hold.
	DefaultMaxKeys = store.DefaultMaxRecords
	// MaxKeys is the largest key cap WithMaxKeys accepts.
	MaxKeys = 1<<25 - 1
	// nodeShift puts 4096 trie nodes in one node pool page.
	nodeShift = 12
)

type options struct {
	pageShift        uint8
	maxSize          int64
	maxKeys          uint32
	access           segment.AccessPattern
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open and OpenMemory.
type Option func(*options)

// WithPageShift sets log2 of the segment page size of a new database.
// An existing database keeps the page size it was created with.
func WithPageShift(shift uint8) Option {
	return func(o *options) {
		o.pageShift = shift
	}
}

// WithMaxSize caps the size of the database file in bytes.
// Puts that would grow the file past it fail with ErrFull.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		o.maxSize = size
	}
}

// WithMaxKeys caps the number of keys of a new database. The cap is
// persisted and an existing database keeps its own.
func WithMaxKeys(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxKeys = min(n, MaxKeys)
		}
	}
}

// WithAccessPattern passes a paging hint for the mapping to the kernel
// on open.
func WithAccessPattern(p segment.AccessPattern) Option {
	return func(o *options) {
		o.access = p
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &atomdb.BasicMetricsCollector{}
//	db, _ := atomdb.Open("./data.adb", atomdb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Puts: %d, Avg latency: %dns\n", stats.PutCount, stats.PutAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := atomdb.NewJSONLogger(slog.LevelInfo)
//	db, _ := atomdb.Open("./data.adb", atomdb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		pageShift:        segment.DefaultPageShift,
		maxSize:          segment.DefaultMaxSize,
		maxKeys:          DefaultMaxKeys,
		access:           segment.AccessDefault,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o options) segmentOptions() []segment.Option {
	return []segment.Option{
		segment.WithPageShift(o.pageShift),
		segment.WithMaxSize(o.maxSize),
		segment.WithLogger(o.logger.Logger),
	}
}

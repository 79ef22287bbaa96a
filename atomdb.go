package atomdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hupe1980/atomdb/fixed"
	"github.com/hupe1980/atomdb/pat"
	"github.com/hupe1980/atomdb/segment"
	"github.com/hupe1980/atomdb/store"
)

// MaxKeyLen is the longest key a database accepts.
const MaxKeyLen = pat.MaxKey - 1

// name prefixes every header the database creates in its segment.
const name = "db"

// Stats describes a database.
type Stats struct {
	Keys    int
	Segment segment.Stats
	Nodes   fixed.Stats
	Store   store.Stats
}

// DB is an ordered key-value store kept in a single memory-mapped segment.
//
// All methods are safe for concurrent use. Reads share a read lock and
// writes are serialized, so a segment remap never happens under a reader.
type DB struct {
	mu      sync.RWMutex
	seg     *segment.Segment
	store   *store.Store
	tree    *pat.Tree
	metrics MetricsCollector
	logger  *Logger
	closed  bool
}

// Open opens the database file at path, creating it if it does not exist.
func Open(path string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	opts.logger = opts.logger.WithPath(path)
	seg, err := segment.OpenOrCreate(path, opts.segmentOptions()...)
	if err != nil {
		return nil, fmt.Errorf("atomdb: open %s: %w", path, translateError(err))
	}
	return attach(seg, opts)
}

// OpenMemory creates a database in anonymous memory. It is gone once
// closed.
func OpenMemory(optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	seg, err := segment.NewMemory(opts.segmentOptions()...)
	if err != nil {
		return nil, fmt.Errorf("atomdb: open memory: %w", translateError(err))
	}
	return attach(seg, opts)
}

func attach(seg *segment.Segment, opts options) (*DB, error) {
	l := opts.logger.Logger
	// One record beyond the key cap lets a full database still replace
	// values. A reopened store keeps the cap it was created with.
	st, err := store.Open(seg, name, store.WithMaxRecords(opts.maxKeys+1), store.WithLogger(l))
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("atomdb: open store: %w", err)
	}
	maxKeys := st.MaxRecords() - 1
	tree, err := pat.Open(seg, name, st, pat.MaxKey, nodeShift, maxKeys, pat.WithLogger(l))
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("atomdb: open index: %w", err)
	}
	if opts.access != segment.AccessDefault {
		if err := seg.Advise(opts.access); err != nil {
			opts.logger.Warn("madvise failed", "error", err)
		}
	}

	db := &DB{
		seg:     seg,
		store:   st,
		tree:    tree,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}
	opts.logger.Debug("database opened", "keys", db.tree.Nodes().Stats().InUse)
	return db, nil
}

// storedKey validates key and returns it NUL-terminated. The terminator
// keeps any key from being a prefix of another.
func storedKey(key []byte) ([]byte, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if bytes.IndexByte(key, 0) >= 0 {
		return nil, fmt.Errorf("%w: contains NUL", ErrInvalidKey)
	}
	sk := make([]byte, len(key)+1)
	copy(sk, key)
	return sk, nil
}

// userKey strips the terminator from a stored key and copies it.
func userKey(sk []byte) []byte {
	return bytes.Clone(sk[:len(sk)-1])
}

// Put stores value under key, replacing any previous value.
func (db *DB) Put(ctx context.Context, key, value []byte) error {
	start := time.Now()
	err := db.put(ctx, key, value)
	err = translateError(err)
	db.metrics.RecordPut(time.Since(start), err)
	db.logger.LogPut(ctx, key, len(value), err)
	return err
}

func (db *DB) put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sk, err := storedKey(key)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.putLocked(ctx, sk, value)
}

func (db *DB) putLocked(ctx context.Context, sk, value []byte) error {
	gen := db.seg.Generation()
	defer func() {
		if g := db.seg.Generation(); g != gen {
			db.logger.LogGrow(ctx, g, db.seg.Size())
		}
	}()

	existing := db.tree.View().Get(sk)
	d, err := db.store.Put(sk, value)
	if err != nil {
		return err
	}
	if !existing.IsNull() {
		old := db.tree.Data(existing)
		db.tree.SetData(existing, d)
		db.store.Free(old)
		return nil
	}

	if !db.tree.Add(d, uint16(len(sk))) { //nolint:gosec // len(sk) <= pat.MaxKey
		db.store.Free(d)
		// A refused key gives its node back, so an empty free list means
		// the allocation itself failed.
		ns := db.tree.Nodes().Stats()
		switch {
		case ns.Free > 0:
			return ErrKeyConflict
		case ns.HighWater >= ns.MaxAtoms:
			return fmt.Errorf("%w: %d keys", ErrFull, ns.InUse)
		default:
			return fmt.Errorf("%w: segment at %d bytes", ErrFull, db.seg.Size())
		}
	}
	return nil
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	start := time.Now()
	v, err := db.get(ctx, key)
	db.metrics.RecordGet(time.Since(start), err)
	return v, err
}

func (db *DB) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sk, err := storedKey(key)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	n := db.tree.View().Get(sk)
	if n.IsNull() {
		return nil, ErrNotFound
	}
	return bytes.Clone(db.store.Value(db.tree.Data(n))), nil
}

// Has reports whether key is present.
func (db *DB) Has(ctx context.Context, key []byte) (bool, error) {
	_, err := db.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes key. It returns ErrNotFound when the key is absent.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	start := time.Now()
	err := db.delete(ctx, key)
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, key, err)
	return err
}

func (db *DB) delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sk, err := storedKey(key)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	n := db.tree.View().Get(sk)
	if n.IsNull() {
		return ErrNotFound
	}
	d := db.tree.Data(n)
	if !db.tree.Delete(n) {
		return &ErrCorruption{Check: "index", Detail: fmt.Sprintf("node %d for %q not deletable", n.Uint32(), key)}
	}
	db.store.Free(d)
	return nil
}

// Seek returns the entry with the smallest key not less than key, or
// strictly greater when inclusive is false. An empty key seeks to the
// first entry. It returns ErrNotFound past the last key.
func (db *DB) Seek(ctx context.Context, key []byte, inclusive bool) ([]byte, []byte, error) {
	start := time.Now()
	k, v, err := db.seek(ctx, key, inclusive)
	db.metrics.RecordGet(time.Since(start), err)
	return k, v, err
}

func (db *DB) seek(ctx context.Context, key []byte, inclusive bool) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var sk []byte
	if len(key) > 0 {
		var err error
		if sk, err = storedKey(key); err != nil {
			return nil, nil, err
		}
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, nil, ErrClosed
	}
	view := db.tree.View()
	var n pat.NodeAtom
	if sk == nil {
		n = view.FindNext(0)
	} else {
		n = view.GetNext(sk, inclusive)
	}
	if n.IsNull() {
		return nil, nil, ErrNotFound
	}
	return userKey(view.Key(n)), bytes.Clone(db.store.Value(view.Data(n))), nil
}

// Scan iterates in ascending key order over the entries whose keys start
// with prefix; an empty prefix scans everything. Each step takes the read
// lock afresh, so the loop body may call other methods, writes included.
// A step sees the database as it is at that moment. The iteration stops
// early when ctx is done.
func (db *DB) Scan(ctx context.Context, prefix []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		start := time.Now()
		count := 0
		defer func() { db.metrics.RecordScan(count, time.Since(start)) }()

		if len(prefix) > MaxKeyLen || bytes.IndexByte(prefix, 0) >= 0 {
			return
		}
		var last []byte
		for ctx.Err() == nil {
			sk, v, ok := db.scanStep(prefix, last)
			if !ok {
				return
			}
			count++
			if !yield(userKey(sk), v) {
				return
			}
			last = sk
		}
	}
}

// scanStep returns the first stored key after last, or the first one
// when last is nil, as long as it starts with prefix.
func (db *DB) scanStep(prefix, last []byte) ([]byte, []byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, nil, false
	}
	view := db.tree.View()
	var n pat.NodeAtom
	switch {
	case last != nil:
		n = view.GetNext(last, false)
	case len(prefix) == 0:
		n = view.FindNext(0)
	default:
		n = view.SubtreeMatch(prefix, uint16(len(prefix)*8)) //nolint:gosec // len(prefix) <= MaxKeyLen
	}
	if n.IsNull() {
		return nil, nil, false
	}
	k := view.Key(n)
	if !bytes.HasPrefix(k, prefix) {
		return nil, nil, false
	}
	return bytes.Clone(k), bytes.Clone(db.store.Value(view.Data(n))), true
}

// Len returns the number of keys.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0
	}
	return db.len()
}

func (db *DB) len() int {
	return int(db.tree.Nodes().Stats().InUse)
}

// Stats reports the key count and the occupancy of the segment, the
// index node pool and the record store.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}
	}
	return Stats{
		Keys:    db.len(),
		Segment: db.seg.Stats(),
		Nodes:   db.tree.Nodes().Stats(),
		Store:   db.store.Stats(),
	}
}

// Sync flushes the database to stable storage. It is a no-op for an
// in-memory database.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return translateError(db.seg.Sync())
}

// Close syncs and closes the database. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if err := db.tree.Close(); err != nil {
		firstErr = err
	}
	if err := db.seg.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.seg.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.logger.Debug("database closed", "error", firstErr)
	return firstErr
}

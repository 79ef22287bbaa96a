package atomdb

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/atomdb/dump"
)

// Export writes every entry in key order to w as a dump. The database is
// read-locked for the duration. w is not closed.
func (db *DB) Export(ctx context.Context, w io.Writer, optFns ...dump.Option) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}

	dw, err := dump.NewWriter(w, optFns...)
	if err != nil {
		return err
	}
	err = db.export(ctx, dw)
	if cerr := dw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	db.logger.LogExport(ctx, dw.Count(), err)
	return err
}

func (db *DB) export(ctx context.Context, dw *dump.Writer) error {
	view := db.tree.View()
	for n := range view.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := view.Key(n)
		e := dump.Entry{Key: k[:len(k)-1], Value: db.store.Value(view.Data(n))}
		if err := dw.Write(e); err != nil {
			return fmt.Errorf("atomdb: export: %w", err)
		}
	}
	return nil
}

// Import reads a dump from r and puts every entry, replacing existing
// values. Entries are applied as they are read, so a dump that fails its
// checksum at the end has already been applied; the error says so. It
// returns the number of entries applied.
func (db *DB) Import(ctx context.Context, r io.Reader) (int, error) {
	dr, err := dump.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dr.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}

	n, err := db.importEntries(ctx, dr)
	db.logger.LogImport(ctx, n, err)
	return n, err
}

func (db *DB) importEntries(ctx context.Context, dr *dump.Reader) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e, err := dr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("atomdb: import after %d entries: %w", n, err)
		}
		sk, err := storedKey(e.Key)
		if err != nil {
			return n, fmt.Errorf("atomdb: import entry %d: %w", n, err)
		}
		if err := db.putLocked(ctx, sk, e.Value); err != nil {
			return n, fmt.Errorf("atomdb: import entry %d: %w", n, translateError(err))
		}
		n++
	}
}

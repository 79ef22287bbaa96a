package atomdb

import (
	"bytes"
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/atomdb/pat"
)

// Verify checks the database for internal consistency:
//
//   - every index node atom is either reachable from the root or on the
//     free list, never both, and no atom up to the high-water mark is
//     neither;
//   - the index and the record store name the same set of records;
//   - keys come out of the index NUL-terminated and strictly increasing.
//
// Failures are reported as *ErrCorruption.
func (db *DB) Verify(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	keys, err := db.verify(ctx)
	db.logger.LogVerify(ctx, keys, err)
	return err
}

func (db *DB) verify(ctx context.Context) (int, error) {
	view := db.tree.View()
	nodes := db.tree.Nodes()
	hw := nodes.HighWater()

	reachable := roaring.New()
	data := roaring.New()
	var prev []byte
	count := 0
	for n := range view.All() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if n.Uint32() > hw {
			return count, corruption("index", "node %d beyond high water %d", n.Uint32(), hw)
		}
		if !reachable.CheckedAdd(n.Uint32()) {
			return count, corruption("index", "node %d reached twice", n.Uint32())
		}
		if d := view.Data(n); !data.CheckedAdd(d.Uint32()) {
			return count, corruption("index", "record %#x referenced twice", d.Uint32())
		}

		k := view.Key(n)
		if len(k) < 2 || k[len(k)-1] != 0 || bytes.IndexByte(k[:len(k)-1], 0) >= 0 {
			return count, corruption("keys", "node %d has malformed key %q", n.Uint32(), k)
		}
		if count > 0 && bytes.Compare(prev, k) >= 0 {
			return count, corruption("keys", "%q does not sort after %q", k, prev)
		}
		prev = append(prev[:0], k...)
		count++
	}

	if err := db.verifyNodes(reachable, hw); err != nil {
		return count, err
	}
	if in := nodes.Stats().InUse; int(in) != count {
		return count, corruption("node pool", "%d atoms in use, %d in the index", in, count)
	}

	live := roaring.New()
	db.store.Each(func(d pat.DataAtom) bool {
		live.Add(d.Uint32())
		return true
	})
	if !live.Equals(data) {
		if orphans := roaring.AndNot(live, data); !orphans.IsEmpty() {
			return count, corruption("store", "%d records outside the index, first %#x",
				orphans.GetCardinality(), orphans.Minimum())
		}
		dangling := roaring.AndNot(data, live)
		return count, corruption("store", "%d index entries name dead records, first %#x",
			dangling.GetCardinality(), dangling.Minimum())
	}
	return count, nil
}

// verifyNodes checks that the free list and the reachable set partition
// the node atoms [1, hw].
func (db *DB) verifyNodes(reachable *roaring.Bitmap, hw uint32) error {
	free := roaring.New()
	var dup uint32
	err := db.tree.Nodes().FreeList(func(a uint32) bool {
		if !free.CheckedAdd(a) {
			dup = a
			return false
		}
		return true
	})
	if err != nil {
		return &ErrCorruption{Check: "node pool", Detail: err.Error(), cause: err}
	}
	if dup != 0 {
		return corruption("node pool", "atom %d is on the free list twice", dup)
	}

	if both := roaring.And(free, reachable); !both.IsEmpty() {
		return corruption("node pool", "%d atoms both free and in the index, first %d",
			both.GetCardinality(), both.Minimum())
	}
	all := roaring.New()
	all.AddRange(1, uint64(hw)+1)
	all.AndNot(roaring.Or(free, reachable))
	if !all.IsEmpty() {
		return corruption("node pool", "%d atoms leaked, first %d", all.GetCardinality(), all.Minimum())
	}
	return nil
}

package atomdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomdb/testutil"
)

func fill(t *testing.T, db *DB, n int) [][]byte {
	t.Helper()
	keys := testutil.NewRNG(5).Keys(n, 1, 16)
	for _, k := range keys {
		require.NoError(t, db.Put(context.Background(), k, k))
	}
	return keys
}

func TestVerifyHealthy(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	require.NoError(t, db.Verify(ctx), "empty")

	keys := fill(t, db, 1500)
	require.NoError(t, db.Verify(ctx))

	for _, k := range keys[:700] {
		require.NoError(t, db.Delete(ctx, k))
	}
	require.NoError(t, db.Verify(ctx), "after deletes")
}

func TestVerifyDetects(t *testing.T) {
	ctx := context.Background()

	t.Run("orphan record", func(t *testing.T) {
		db := newDB(t)
		fill(t, db, 100)
		_, err := db.store.Put([]byte("ghost\x00"), []byte("boo"))
		require.NoError(t, err)

		err = db.Verify(ctx)
		var ce *ErrCorruption
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "store", ce.Check)
		assert.Contains(t, ce.Error(), "outside the index")
	})

	t.Run("leaked node", func(t *testing.T) {
		db := newDB(t)
		fill(t, db, 100)
		require.False(t, db.tree.Nodes().Alloc() == 0)

		err := db.Verify(ctx)
		var ce *ErrCorruption
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "node pool", ce.Check)
		assert.Contains(t, ce.Error(), "leaked")
	})

	t.Run("corrupt free list", func(t *testing.T) {
		db := newDB(t)
		keys := fill(t, db, 100)
		require.NoError(t, db.Delete(ctx, keys[0]))
		// Point the free-list head past the high-water mark.
		n := db.tree.Nodes()
		head := uint32(0)
		require.NoError(t, n.FreeList(func(a uint32) bool { head = a; return false }))
		require.NotZero(t, head)
		b := n.Address(head)
		b[0], b[1], b[2], b[3] = 0xff, 0xff, 0, 0

		err := db.Verify(ctx)
		var ce *ErrCorruption
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "node pool", ce.Check)
		assert.NotNil(t, errors.Unwrap(ce))
	})

	t.Run("canceled", func(t *testing.T) {
		db := newDB(t)
		fill(t, db, 10)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, db.Verify(cctx), context.Canceled)
	})
}

package atomdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomdb/codec"
	"github.com/hupe1980/atomdb/dump"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newDB(t)
	keys := fill(t, src, 800)
	require.NoError(t, src.Put(ctx, []byte("empty"), nil))
	wantKeys, wantValues := scanAll(t, src, "")

	for _, comp := range []dump.Compression{dump.CompressionNone, dump.CompressionLZ4, dump.CompressionZstd} {
		for _, c := range []codec.Codec{codec.CBOR{}, codec.JSON{}} {
			t.Run(comp.String()+"/"+c.Name(), func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, src.Export(ctx, &buf, dump.WithCompression(comp), dump.WithCodec(c)))

				dst := newDB(t)
				n, err := dst.Import(ctx, &buf)
				require.NoError(t, err)
				assert.Equal(t, len(keys)+1, n)

				gotKeys, gotValues := scanAll(t, dst, "")
				assert.Equal(t, wantKeys, gotKeys)
				assert.Equal(t, wantValues, gotValues)
				require.NoError(t, dst.Verify(ctx))
			})
		}
	}
}

func TestImportReplaces(t *testing.T) {
	ctx := context.Background()
	src := newDB(t)
	require.NoError(t, src.Put(ctx, []byte("a"), []byte("new")))
	require.NoError(t, src.Put(ctx, []byte("b"), []byte("new")))
	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf))

	dst := newDB(t)
	require.NoError(t, dst.Put(ctx, []byte("a"), []byte("old")))
	require.NoError(t, dst.Put(ctx, []byte("c"), []byte("old")))
	n, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, values := scanAll(t, dst, "")
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, []string{"new", "new", "old"}, values)
}

func TestImportErrors(t *testing.T) {
	ctx := context.Background()
	src := newDB(t)
	fill(t, src, 20)
	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf, dump.WithCompression(dump.CompressionNone)))
	good := buf.Bytes()

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[len(bad)-1] ^= 0xff
		dst := newDB(t)
		n, err := dst.Import(ctx, bytes.NewReader(bad))
		assert.ErrorIs(t, err, dump.ErrChecksum)
		// Entries are applied as they stream in.
		assert.Equal(t, 20, n)
	})

	t.Run("truncated", func(t *testing.T) {
		dst := newDB(t)
		_, err := dst.Import(ctx, bytes.NewReader(good[:len(good)/2]))
		assert.ErrorIs(t, err, dump.ErrCorrupt)
	})

	t.Run("not a dump", func(t *testing.T) {
		dst := newDB(t)
		_, err := dst.Import(ctx, bytes.NewReader([]byte("definitely not a dump")))
		assert.ErrorIs(t, err, dump.ErrFormat)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		dst := newDB(t)
		n, err := dst.Import(cctx, bytes.NewReader(good))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, n)
		assert.ErrorIs(t, src.Export(cctx, &bytes.Buffer{}), context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		dst, err := OpenMemory()
		require.NoError(t, err)
		require.NoError(t, dst.Close())
		_, err = dst.Import(ctx, bytes.NewReader(good))
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, dst.Export(ctx, &bytes.Buffer{}), ErrClosed)
	})
}

package dump

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomdb/codec"
)

func entries(n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			Key:   fmt.Appendf(nil, "key-%05d\x00", i),
			Value: bytes.Repeat([]byte{byte('a' + i%26)}, i%300),
		}
	}
	return out
}

func writeDump(t *testing.T, in []Entry, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts...)
	require.NoError(t, err)
	for _, e := range in {
		require.NoError(t, w.Write(e))
	}
	assert.Equal(t, uint64(len(in)), w.Count())
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readDump(data []byte) ([]Entry, *Reader, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	var out []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out, r, nil
		}
		if err != nil {
			return out, r, err
		}
		out = append(out, e)
	}
}

func TestRoundTrip(t *testing.T) {
	in := entries(500)
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for _, name := range codec.Names() {
			t.Run(comp.String()+"/"+name, func(t *testing.T) {
				c, _ := codec.ByName(name)
				data := writeDump(t, in, WithCompression(comp), WithCodec(c))

				out, r, err := readDump(data)
				require.NoError(t, err)
				require.Len(t, out, len(in))
				for i := range in {
					assert.Equal(t, in[i].Key, out[i].Key)
					assert.Equal(t, len(in[i].Value), len(out[i].Value))
					assert.True(t, bytes.Equal(in[i].Value, out[i].Value))
				}
				assert.Equal(t, uint64(len(in)), r.Count())
				assert.Equal(t, name, r.Codec())
				assert.Equal(t, comp, r.Compression())

				_, err = r.Next()
				assert.Equal(t, io.EOF, err)
			})
		}
	}
}

func TestCompressionShrinks(t *testing.T) {
	in := entries(500)
	plain := writeDump(t, in, WithCompression(CompressionNone))
	for _, comp := range []Compression{CompressionLZ4, CompressionZstd} {
		assert.Less(t, len(writeDump(t, in, WithCompression(comp))), len(plain), comp.String())
	}
}

func TestEmpty(t *testing.T) {
	out, r, err := readDump(writeDump(t, nil))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, uint64(0), r.Count())
}

func TestChecksum(t *testing.T) {
	in := []Entry{
		{Key: []byte("a\x00"), Value: bytes.Repeat([]byte("x"), 64)},
		{Key: []byte("b\x00"), Value: []byte("tail")},
	}
	data := writeDump(t, in, WithCompression(CompressionNone))

	i := bytes.IndexByte(data, 'x')
	require.Positive(t, i)
	data[i] = 'y'

	out, _, err := readDump(data)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Len(t, out, 2, "entries decode before the trailer is checked")
}

func TestTruncated(t *testing.T) {
	data := writeDump(t, entries(10), WithCompression(CompressionNone))
	_, _, err := readDump(data[:len(data)-20])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBadHeader(t *testing.T) {
	data := writeDump(t, entries(1), WithCompression(CompressionNone))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:3] }},
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"version", func(b []byte) []byte { b[4] = 9; return b }},
		{"compression", func(b []byte) []byte { b[6] = 7; return b }},
		{"codec", func(b []byte) []byte { b[8] = 'z'; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.mutate(bytes.Clone(data))))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestWriterClosed(t *testing.T) {
	w, err := NewWriter(io.Discard)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(Entry{Key: []byte("k")}), ErrClosed)
	assert.ErrorIs(t, w.Close(), ErrClosed)

	_, err = NewWriter(io.Discard, WithCompression(Compression(9)))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, got)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
	assert.Equal(t, "compression(9)", Compression(9).String())
}

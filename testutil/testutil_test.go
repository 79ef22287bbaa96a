package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	rng := NewRNG(4711)

	keys := rng.Keys(200, 1, 6)
	require.Len(t, keys, 200)

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.GreaterOrEqual(t, len(k), 1)
		assert.LessOrEqual(t, len(k), 6)
		assert.NotContains(t, string(k), "\x00")
		assert.False(t, seen[string(k)])
		seen[string(k)] = true
	}
}

func TestPrefixFreeKeys(t *testing.T) {
	rng := NewRNG(4711)

	keys := rng.PrefixFreeKeys(300, 1, 3)
	for i, a := range keys {
		assert.Equal(t, byte(0), a[len(a)-1])
		for j, b := range keys {
			if i != j {
				assert.False(t, bytes.HasPrefix(b, a), "%q is a prefix of %q", a, b)
			}
		}
	}
}

func TestClusteredKeys(t *testing.T) {
	rng := NewRNG(4711)

	keys := rng.ClusteredKeys(100, 4, 1.5)
	require.Len(t, keys, 100)
	for _, k := range keys {
		assert.GreaterOrEqual(t, len(k), 3)
		assert.Equal(t, byte(0), k[len(k)-1])
	}
}

func TestSorted(t *testing.T) {
	in := [][]byte{[]byte("b"), []byte("a"), []byte("ab")}
	assert.Equal(t, [][]byte{[]byte("a"), []byte("ab"), []byte("b")}, Sorted(in))
	assert.Equal(t, []byte("b"), in[0])
}

func TestZipf(t *testing.T) {
	rng := NewRNG(4711)

	counts := make([]int, 10)
	for range 2000 {
		counts[rng.Zipf(10, 1.5)]++
	}
	assert.Greater(t, counts[0], counts[9])
	assert.Equal(t, 0, rng.Zipf(1, 1.5))
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.Bytes(16)
	rng.Reset()
	assert.Equal(t, a, rng.Bytes(16))
	assert.Equal(t, int64(4711), rng.Seed())
	assert.Len(t, rng.Perm(5), 5)
}

package pat

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomdb/fixed"
	"github.com/hupe1980/atomdb/segment"
	"github.com/hupe1980/atomdb/testutil"
)

// keyTable is an in-memory data store: data atom i has key keys[i].
type keyTable struct {
	keys [][]byte
}

func newKeyTable() *keyTable {
	return &keyTable{keys: [][]byte{nil}}
}

func (k *keyTable) Key(d DataAtom) []byte { return k.keys[d] }

func (k *keyTable) add(key []byte) DataAtom {
	k.keys = append(k.keys, key)
	return DataAtom(len(k.keys) - 1) //nolint:gosec // small test tables
}

func newTree(t *testing.T, keys KeySource, keyBytes uint16) *Tree {
	t.Helper()
	seg, err := segment.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })

	tr, err := Open(seg, "test", keys, keyBytes, 8, 1<<16)
	require.NoError(t, err)
	return tr
}

func addKey(t *testing.T, tr *Tree, keys *keyTable, k string) {
	t.Helper()
	require.True(t, tr.Add(keys.add([]byte(k)), uint16(len(k))), "add %q", k) //nolint:gosec // short keys
}

func collect(tr *Tree) [][]byte {
	var out [][]byte
	for n := range tr.All() {
		out = append(out, slices.Clone(tr.Key(n)))
	}
	return out
}

func TestBitEncoding(t *testing.T) {
	assert.Equal(t, uint16(0x00ff), LengthToBit(1))
	assert.Equal(t, uint16(0xffff), LengthToBit(MaxKey))
	assert.Equal(t, NoBit, LengthToBit(0))
	assert.Equal(t, 3, BitToLength(LengthToBit(3)))

	assert.Equal(t, uint16(0x007f), MakeBit(0, 0x80))
	assert.Equal(t, uint16(0x01fe), MakeBit(1, 0x01))
	assert.Equal(t, uint16(0x02df), MakeBit(2, 0x30))

	assert.Equal(t, NoBit, prefixBit(0))
	assert.Equal(t, MakeBit(0, 0x80), prefixBit(1))
	assert.Equal(t, MakeBit(0, 0x01), prefixBit(8))
	assert.Equal(t, MakeBit(1, 0x80), prefixBit(9))

	// Bits order left to right through the key, and a length sorts after
	// every bit of its last byte.
	assert.Less(t, MakeBit(0, 0x80), MakeBit(0, 0x01))
	assert.Less(t, MakeBit(0, 0x01), LengthToBit(1))
	assert.Less(t, LengthToBit(1), MakeBit(1, 0x80))

	assert.True(t, testBit([]byte{0x80}, MakeBit(0, 0x80)))
	assert.False(t, testBit([]byte{0x7f}, MakeBit(0, 0x80)))
	assert.True(t, testBit([]byte{0, 0x01}, MakeBit(1, 0x01)))

	assert.True(t, hasPrefix([]byte{0xab, 0xcd}, []byte{0xab, 0xc0}, 12))
	assert.False(t, hasPrefix([]byte{0xab, 0xcd}, []byte{0xab, 0xc0}, 13))
	assert.False(t, hasPrefix([]byte{0xab}, []byte{0xab, 0xc0}, 12))
	assert.True(t, hasPrefix([]byte{0xab}, nil, 0))
}

func TestPrefixViolation(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 2)

	a := keys.add([]byte("A"))
	ab := keys.add([]byte("AB"))

	require.True(t, tr.Add(a, 1))
	assert.False(t, tr.Add(ab, 2))

	assert.Equal(t, a, tr.Data(tr.Get([]byte("A"))))
	assert.True(t, tr.Get([]byte("AB")).IsNull())
	assert.Equal(t, [][]byte{[]byte("A")}, collect(tr))
	assert.Equal(t, uint32(1), tr.Nodes().Stats().InUse, "failed add returns its node")

	// The other way round fails too.
	tr2 := newTree(t, keys, 2)
	require.True(t, tr2.Add(ab, 2))
	assert.False(t, tr2.Add(a, 1))
	assert.Equal(t, [][]byte{[]byte("AB")}, collect(tr2))
}

func TestDuplicate(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 3)

	require.True(t, tr.Add(keys.add([]byte("abc")), 0))
	require.True(t, tr.Add(keys.add([]byte("abd")), 0))
	assert.False(t, tr.Add(keys.add([]byte("abc")), 0))
	assert.Len(t, collect(tr), 2)

	assert.False(t, tr.Add(keys.add(make([]byte, 300)), 300))
	assert.False(t, tr.Add(keys.add([]byte("xy")), 3), "key source shorter than the key")
}

func TestOrdering(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 2)

	for _, k := range [][]byte{{0x00, 0x03}, {0x00, 0x01}, {0x00, 0x02}} {
		require.True(t, tr.Add(keys.add(k), 0))
	}
	assert.Equal(t, [][]byte{{0x00, 0x01}, {0x00, 0x02}, {0x00, 0x03}}, collect(tr))

	var back [][]byte
	for n := range tr.Backward() {
		back = append(back, tr.Key(n))
	}
	assert.Equal(t, [][]byte{{0x00, 0x03}, {0x00, 0x02}, {0x00, 0x01}}, back)

	first := tr.FindNext(0)
	last := tr.FindPrev(0)
	assert.Equal(t, []byte{0x00, 0x01}, tr.Key(first))
	assert.Equal(t, []byte{0x00, 0x03}, tr.Key(last))
	assert.True(t, tr.FindPrev(first).IsNull())
	assert.True(t, tr.FindNext(last).IsNull())
	assert.Equal(t, -1, tr.CompareNodes(first, last))
	assert.Equal(t, 1, tr.CompareNodes(last, first))
	assert.Equal(t, 0, tr.CompareNodes(last, last))

	assert.Equal(t, last, tr.Lookup([]byte{0x00, 0x03, 0xff}))
	assert.True(t, tr.Lookup([]byte{0x00}).IsNull())
	assert.Equal(t, last, tr.LookupGEQ([]byte{0x00, 0x03}))
	assert.True(t, tr.LookupGEQ([]byte{0x00, 0x04}).IsNull())
}

func TestDeleteReinsert(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 1)

	for _, k := range []byte{10, 20, 30} {
		require.True(t, tr.Add(keys.add([]byte{k}), 0))
	}

	n20 := tr.Get([]byte{20})
	require.False(t, n20.IsNull())
	require.True(t, tr.Delete(n20))
	assert.False(t, tr.InTree(n20))
	assert.False(t, tr.Delete(n20), "second delete")
	assert.Equal(t, [][]byte{{10}, {30}}, collect(tr))

	d := keys.add([]byte{20})
	require.True(t, tr.Add(d, 0))
	got := tr.Get([]byte{20})
	assert.Equal(t, d, tr.Data(got))
	assert.Equal(t, [][]byte{{10}, {20}, {30}}, collect(tr))

	assert.Equal(t, got, tr.FindNext(tr.Get([]byte{10})))
	assert.Equal(t, got, tr.FindPrev(tr.Get([]byte{30})))
}

func TestDeleteToEmpty(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 4)

	var nodes []NodeAtom
	for _, k := range []string{"one\x00", "two\x00", "six\x00"} {
		require.True(t, tr.Add(keys.add([]byte(k)), 0))
		nodes = append(nodes, tr.Get([]byte(k)))
	}
	for _, n := range nodes {
		require.True(t, tr.Delete(n))
	}
	assert.True(t, tr.IsEmpty())
	assert.True(t, tr.FindNext(0).IsNull())
	assert.True(t, tr.FindPrev(0).IsNull())
	assert.Equal(t, uint32(0), tr.Nodes().Stats().InUse)
	assert.False(t, tr.Delete(0))

	assert.NotPanics(t, tr.RootDelete)
}

func TestRootDeleteNonEmpty(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 1)
	require.True(t, tr.Add(keys.add([]byte{1}), 0))
	assert.Panics(t, tr.RootDelete)
}

func TestSetData(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 3)

	require.True(t, tr.Add(keys.add([]byte("key")), 0))
	n := tr.Get([]byte("key"))
	d := keys.add([]byte("key"))
	tr.SetData(n, d)
	assert.Equal(t, d, tr.Data(tr.Get([]byte("key"))))
}

func TestKeyFunc(t *testing.T) {
	words := []string{"", "kiwi\x00", "fig\x00", "lime\x00", "date\x00"}
	var calls int
	tr := newTree(t, KeyFunc(func(d DataAtom) []byte {
		calls++
		return []byte(words[d])
	}), 8)

	for i := 1; i < len(words); i++ {
		require.True(t, tr.Add(DataAtom(i), uint16(len(words[i])))) //nolint:gosec // short keys
	}
	assert.Positive(t, calls)
	assert.Equal(t, [][]byte{[]byte("date\x00"), []byte("fig\x00"), []byte("kiwi\x00"), []byte("lime\x00")}, collect(tr))
	assert.Equal(t, DataAtom(2), tr.Data(tr.Get([]byte("fig\x00"))))
}

func TestGetNext(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 8)
	for _, k := range []string{"b\x00", "bb\x00", "d\x00", "da\x00"} {
		addKey(t, tr, keys, k)
	}
	key := func(n NodeAtom) string {
		return string(tr.Key(n))
	}

	assert.Equal(t, "b\x00", key(tr.GetNext([]byte("a"), true)))
	assert.Equal(t, "b\x00", key(tr.GetNext([]byte("b\x00"), true)))
	assert.Equal(t, "bb\x00", key(tr.GetNext([]byte("b\x00"), false)))
	assert.Equal(t, "b\x00", key(tr.GetNext([]byte("b"), false)), "shorter key sorts before its extensions")
	assert.Equal(t, "d\x00", key(tr.GetNext([]byte("c"), true)))
	assert.Equal(t, "da\x00", key(tr.GetNext([]byte("d\x00\x00"), true)))
	assert.Equal(t, "da\x00", key(tr.GetNext([]byte("d\x01"), true)))
	assert.True(t, tr.GetNext([]byte("db"), true).IsNull())
	assert.True(t, tr.GetNext([]byte("da\x00"), false).IsNull())
	assert.Equal(t, "b\x00", key(tr.GetNext(nil, false)))

	t.Run("longer than MaxKey", func(t *testing.T) {
		long := "c" + strings.Repeat("x", MaxKey-1)
		addKey(t, tr, keys, long)

		assert.Equal(t, "b\x00", key(tr.GetNext(make([]byte, 300), true)))
		assert.Equal(t, long, key(tr.GetNext([]byte(long), true)))
		assert.Equal(t, "d\x00", key(tr.GetNext([]byte(long+"y"), true)), "extension of the longest key")
		assert.Equal(t, long, key(tr.GetNext([]byte("c"+strings.Repeat("w", MaxKey)), true)))
		assert.True(t, tr.GetNext(bytes.Repeat([]byte{0xff}, 400), true).IsNull())
	})
}

func TestSubtree(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 8)
	for _, k := range []string{"apple\x00", "apricot\x00", "banana\x00", "apex\x00", "b\x00"} {
		addKey(t, tr, keys, k)
	}

	prefixed := func(p string) []string {
		var out []string
		for n := range tr.Prefix([]byte(p), uint16(len(p)*8)) {
			out = append(out, string(tr.Key(n)))
		}
		return out
	}

	assert.Equal(t, []string{"apex\x00", "apple\x00", "apricot\x00"}, prefixed("ap"))
	assert.Equal(t, []string{"apple\x00"}, prefixed("app"))
	assert.Equal(t, []string{"b\x00", "banana\x00"}, prefixed("b"))
	assert.Empty(t, prefixed("c"))
	assert.Empty(t, prefixed("applesauce"))
	assert.Len(t, prefixed(""), 5)

	// 'a' is 0x61 and 'b' is 0x62: the first six bits are shared.
	n := tr.SubtreeMatch([]byte("a"), 6)
	assert.Equal(t, "apex\x00", string(tr.Key(n)))
	var count int
	for ; !n.IsNull(); n = tr.SubtreeNext(n, 6) {
		count++
	}
	assert.Equal(t, 5, count)

	assert.True(t, tr.SubtreeMatch([]byte("a"), 9).IsNull(), "prefix longer than its bytes")
}

func TestView(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 8)
	for _, k := range []string{"x\x00", "y\x00", "z\x00"} {
		addKey(t, tr, keys, k)
	}

	v := tr.View()
	assert.False(t, v.IsEmpty())
	y := v.Get([]byte("y\x00"))
	require.False(t, y.IsNull())
	assert.Equal(t, "z\x00", string(v.Key(v.FindNext(y))))
	assert.Equal(t, "x\x00", string(v.Key(v.FindPrev(y))))
	assert.Equal(t, y, v.GetNext([]byte("xx"), true))
	assert.Equal(t, y, v.SubtreeMatch([]byte("y"), 8))
	assert.True(t, v.SubtreeNext(y, 8).IsNull())
	assert.Equal(t, tr.Data(y), v.Data(y))
	assert.Equal(t, -1, v.CompareNodes(y, v.FindNext(y)))

	var all []NodeAtom
	for n := range v.All() {
		all = append(all, n)
	}
	assert.Len(t, all, 3)
	for n := range v.Prefix([]byte("z"), 8) {
		assert.Equal(t, "z\x00", string(v.Key(n)))
	}
}

func TestIteratorBreak(t *testing.T) {
	keys := newKeyTable()
	tr := newTree(t, keys, 1)
	for k := range byte(10) {
		require.True(t, tr.Add(keys.add([]byte{k}), 0))
	}

	var seen []byte
	for n := range tr.From([]byte{4}) {
		seen = append(seen, tr.Key(n)[0])
		if len(seen) == 3 {
			break
		}
	}
	assert.Equal(t, []byte{4, 5, 6}, seen)
}

func TestExhaustion(t *testing.T) {
	keys := newKeyTable()
	seg, err := segment.NewMemory()
	require.NoError(t, err)
	defer seg.Close()

	tr, err := Open(seg, "small", keys, 1, 2, 4)
	require.NoError(t, err)
	for k := range byte(4) {
		require.True(t, tr.Add(keys.add([]byte{k}), 0))
	}
	assert.False(t, tr.Add(keys.add([]byte{9}), 0))
	assert.Len(t, collect(tr), 4)

	require.True(t, tr.Delete(tr.Get([]byte{0})))
	assert.True(t, tr.Add(keys.add([]byte{9}), 0))
}

func TestSharedNodes(t *testing.T) {
	seg, err := segment.NewMemory()
	require.NoError(t, err)
	defer seg.Close()

	pool, err := fixed.Open(seg, "shared", 6, 16, 1000)
	require.NoError(t, err)

	keys := newKeyTable()
	a, err := OpenNodes(seg, "a", pool, keys, 2)
	require.NoError(t, err)
	b, err := OpenNodes(seg, "b", pool, keys, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Name())

	require.True(t, a.Add(keys.add([]byte("aa")), 0))
	require.True(t, b.Add(keys.add([]byte("bb")), 0))
	require.True(t, b.Add(keys.add([]byte("aa")), 0), "trees are independent")
	assert.Equal(t, uint32(3), pool.Stats().InUse)
	assert.Len(t, collect(a), 1)
	assert.Len(t, collect(b), 2)

	_, err = OpenNodes(seg, "a", pool, keys, 3)
	assert.ErrorIs(t, err, ErrMismatch)
	_, err = OpenNodes(seg, "c", pool, keys, 0)
	assert.ErrorIs(t, err, ErrKeyBytes)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pat.seg")
	rng := testutil.NewRNG(7)
	words := rng.PrefixFreeKeys(500, 1, 12)

	keys := newKeyTable()
	for _, w := range words {
		keys.add(w)
	}

	seg, err := segment.Create(path)
	require.NoError(t, err)
	tr, err := Open(seg, "words", keys, MaxKey, 6, 10000)
	require.NoError(t, err)
	for i, w := range words {
		require.True(t, tr.Add(DataAtom(i+1), uint16(len(w)))) //nolint:gosec // small
	}
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Close(), ErrClosed)
	require.NoError(t, seg.Sync())
	require.NoError(t, seg.Close())

	seg, err = segment.Open(path)
	require.NoError(t, err)
	defer seg.Close()
	tr, err = Open(seg, "words", keys, MaxKey, 6, 10000)
	require.NoError(t, err)

	for i, w := range words {
		assert.Equal(t, DataAtom(i+1), tr.Data(tr.Get(w))) //nolint:gosec // small
	}
	assert.Equal(t, testutil.Sorted(words), collect(tr))
}

// checkTree verifies lookup, order and the inverse law against want.
func checkTree(t *testing.T, tr *Tree, want map[string]DataAtom) {
	t.Helper()

	sorted := make([][]byte, 0, len(want))
	for k, d := range want {
		n := tr.Get([]byte(k))
		require.False(t, n.IsNull(), "missing %q", k)
		require.Equal(t, d, tr.Data(n))
		sorted = append(sorted, []byte(k))
	}
	sorted = testutil.Sorted(sorted)
	require.Equal(t, sorted, collect(tr))

	for n := tr.FindNext(0); !n.IsNull(); {
		m := tr.FindNext(n)
		if m.IsNull() {
			require.Equal(t, n, tr.FindPrev(0))
			break
		}
		require.Equal(t, n, tr.FindPrev(m))
		n = m
	}
}

func TestRandomized(t *testing.T) {
	for _, tc := range []struct {
		name string
		gen  func(*testutil.RNG) [][]byte
	}{
		{"uniform", func(r *testutil.RNG) [][]byte { return r.PrefixFreeKeys(2000, 1, 10) }},
		{"clustered", func(r *testutil.RNG) [][]byte { return r.ClusteredKeys(2000, 6, 1.5) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := testutil.NewRNG(42)
			words := tc.gen(rng)

			keys := newKeyTable()
			tr := newTree(t, keys, MaxKey)
			want := make(map[string]DataAtom)
			for _, w := range words {
				d := keys.add(w)
				require.True(t, tr.Add(d, uint16(len(w)))) //nolint:gosec // short keys
				want[string(w)] = d
			}
			checkTree(t, tr, want)

			// Delete a random half.
			for _, i := range rng.Perm(len(words))[:len(words)/2] {
				w := words[i]
				require.True(t, tr.Delete(tr.Get(w)), "delete %q", w)
				delete(want, string(w))
				assert.True(t, tr.Get(w).IsNull())
			}
			checkTree(t, tr, want)

			sorted := make([][]byte, 0, len(want))
			for k := range want {
				sorted = append(sorted, []byte(k))
			}
			sorted = testutil.Sorted(sorted)

			// GetNext agrees with a search over the sorted keys.
			for _, probe := range append(rng.Keys(300, 1, 6), words[:100]...) {
				i, found := slices.BinarySearchFunc(sorted, probe, bytes.Compare)
				got := tr.GetNext(probe, true)
				if i == len(sorted) {
					assert.True(t, got.IsNull(), "probe %q", probe)
				} else {
					assert.Equal(t, sorted[i], tr.Key(got), "probe %q", probe)
				}

				if found {
					i++
				}
				got = tr.GetNext(probe, false)
				if i == len(sorted) {
					assert.True(t, got.IsNull(), "strict probe %q", probe)
				} else {
					assert.Equal(t, sorted[i], tr.Key(got), "strict probe %q", probe)
				}
			}

			// Every prefix of every surviving key, at byte and bit
			// granularity, enumerates exactly the matching keys.
			for _, k := range sorted[:50] {
				for bits := uint16(1); int(bits) <= len(k)*8; bits += 5 {
					var wantKeys [][]byte
					for _, s := range sorted {
						if hasPrefix(s, k, bits) {
							wantKeys = append(wantKeys, s)
						}
					}
					var got [][]byte
					for n := range tr.Prefix(k, bits) {
						got = append(got, tr.Key(n))
					}
					require.Equal(t, wantKeys, got, "prefix %q/%d", k, bits)
				}
			}
		})
	}
}

package testutil

import (
	"bytes"
	"math"
	"math/rand"
	"slices"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test data
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Perm returns a pseudo-random permutation of [0,n).
func (r *RNG) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	r.rand.Read(b) //nolint:staticcheck // seeded source is the point
	return b
}

// Zipf generates a Zipf-distributed random integer in [0, n).
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	// Inverse transform over the normalized weights.
	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// keyLocked returns a key of minLen..maxLen bytes drawn from alphabet.
func (r *RNG) keyLocked(minLen, maxLen int, alphabet []byte) []byte {
	n := minLen
	if maxLen > minLen {
		n += r.rand.Intn(maxLen - minLen + 1)
	}
	k := make([]byte, n)
	for i := range k {
		k[i] = alphabet[r.rand.Intn(len(alphabet))]
	}
	return k
}

// Keys returns n distinct keys of minLen..maxLen bytes. No key contains a
// NUL byte, but a key may be a prefix of another.
func (r *RNG) Keys(n, minLen, maxLen int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	alphabet := make([]byte, 255)
	for i := range alphabet {
		alphabet[i] = byte(i + 1)
	}
	return r.distinctLocked(n, func() []byte { return r.keyLocked(minLen, maxLen, alphabet) })
}

// PrefixFreeKeys returns n distinct NUL-terminated keys whose bodies are
// minLen..maxLen bytes. The terminator keeps any key from being a prefix
// of another.
func (r *RNG) PrefixFreeKeys(n, minLen, maxLen int) [][]byte {
	keys := r.Keys(n, minLen, maxLen)
	for i, k := range keys {
		keys[i] = append(k, 0)
	}
	return keys
}

// ClusteredKeys returns n distinct NUL-terminated keys that share a few
// Zipf-chosen stems, which yields long common prefixes and deep tries.
func (r *RNG) ClusteredKeys(n, stems int, s float64) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	letters := []byte("abcdefghijklmnopqrstuvwxyz")
	roots := make([][]byte, stems)
	for i := range roots {
		roots[i] = r.keyLocked(2, 8, letters)
	}
	keys := r.distinctLocked(n, func() []byte {
		stem := roots[r.zipfLocked(stems, s)]
		return append(slices.Clip(stem), r.keyLocked(0, 4, letters)...)
	})
	for i, k := range keys {
		keys[i] = append(k, 0)
	}
	return keys
}

func (r *RNG) distinctLocked(n int, gen func() []byte) [][]byte {
	seen := make(map[string]struct{}, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := gen()
		if _, ok := seen[string(k)]; ok || len(k) == 0 {
			continue
		}
		seen[string(k)] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Sorted returns a sorted copy of keys.
func Sorted(keys [][]byte) [][]byte {
	out := slices.Clone(keys)
	slices.SortFunc(out, bytes.Compare)
	return out
}

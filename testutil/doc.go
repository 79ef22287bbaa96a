// Package testutil provides testing utilities for atomdb.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG and generators for the key sets
// the trie and the store are exercised with.
//
// # Random Keys
//
//	rng := testutil.NewRNG(seed)
//	keys := rng.PrefixFreeKeys(1000, 1, 16) // NUL-terminated, prefix-free
//	deep := rng.ClusteredKeys(1000, 8, 1.5)  // shared stems, long prefixes
//	want := testutil.Sorted(keys)
package testutil

// Package atomdb provides an embedded, ordered key-value store kept in a
// single memory-mapped file.
//
// A database is one segment holding a patricia trie index and a record
// heap. Trie nodes are 16-byte atoms of a fixed pool and name their
// records by atom number, so the file is usable in place after a reopen
// with no load step.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := atomdb.Open("./data.adb")
//	defer db.Close()
//
//	_ = db.Put(ctx, []byte("user/42"), []byte(`{"name":"ada"}`))
//	v, _ := db.Get(ctx, []byte("user/42"))
//
// # Ordered Access
//
// Keys come back in byte order. Scan walks a prefix; Seek finds the first
// key at or after a bound:
//
//	for k, v := range db.Scan(ctx, []byte("user/")) {
//	    fmt.Printf("%s=%s\n", k, v)
//	}
//	k, v, err := db.Seek(ctx, []byte("user/5"), true)
//
// # Keys
//
// Keys are 1 to MaxKeyLen bytes and must not contain a NUL byte. Values
// share a record with their key; a record holds at most 64 KiB.
//
// # Durability
//
// Writes land in the shared mapping and reach the file when the kernel
// writes back dirty pages, or at Sync and Close. There is no journal: a
// crash between the two can leave a torn index, which Verify reports.
//
// # Backup
//
// Export writes a compressed, checksummed dump and Import reads one back:
//
//	f, _ := os.Create("backup.atdp")
//	_ = db.Export(ctx, f, dump.WithCompression(dump.CompressionZstd))
package atomdb

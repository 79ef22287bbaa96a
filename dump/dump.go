// Package dump streams key/value entries to and from a portable file.
//
// A dump starts with a small uncompressed header:
//
//	magic "ATDP" | version u16 | compression u8 | codec name length u8 | codec name
//
// followed by a stream, compressed as the header says, of frames
//
//	uvarint(len) | codec(Entry)
//
// ended by a zero-length frame and a trailer holding the entry count as a
// little-endian u64 and the BLAKE3-256 digest of every frame before the
// terminator, length prefixes included.
package dump

import (
	"errors"
	"fmt"
	"strings"
)

// Version is the dump format version.
const Version = 1

// MaxFrame bounds a single encoded entry.
const MaxFrame = 1 << 20

var magic = [4]byte{'A', 'T', 'D', 'P'}

var (
	// ErrFormat is returned for a header that is not a dump this package can read.
	ErrFormat = errors.New("dump: bad format")
	// ErrChecksum is returned when the trailer does not match the frames read.
	ErrChecksum = errors.New("dump: checksum mismatch")
	// ErrCorrupt is returned for a malformed frame.
	ErrCorrupt = errors.New("dump: corrupt frame")
	// ErrClosed is returned by a closed writer.
	ErrClosed = errors.New("dump: writer closed")
)

// Entry is one key/value pair.
type Entry struct {
	Key   []byte `cbor:"1,keyasint" json:"k"`
	Value []byte `cbor:"2,keyasint" json:"v"`
}

// Compression selects the stream compression.
type Compression uint8

const (
	// CompressionNone writes frames as they are.
	CompressionNone Compression = 0
	// CompressionLZ4 uses the LZ4 frame format (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd (better ratio).
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("dump: unknown compression %q", s)
	}
}

package hash

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Seal stores the checksum of b[:off] little-endian at b[off:off+4].
func Seal(b []byte, off int) {
	binary.LittleEndian.PutUint32(b[off:], CRC32C(b[:off]))
}

// Sealed reports whether b[off:off+4] holds the checksum of b[:off].
func Sealed(b []byte, off int) bool {
	if len(b) < off+4 {
		return false
	}
	return binary.LittleEndian.Uint32(b[off:]) == CRC32C(b[:off])
}

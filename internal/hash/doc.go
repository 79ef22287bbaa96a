// Package hash seals fixed-layout file headers with a CRC32-Castagnoli
// checksum. Go's crc32 package uses the SSE4.2 and ARM CRC instructions
// for this polynomial where they exist.
package hash

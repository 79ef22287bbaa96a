// Package segment provides the paged, growable byte buffer that pools and
// trees live in.
//
// A segment is either a memory-mapped file or an anonymous mapping. It is
// carved into pages of 1<<PageShift bytes. Page 0 holds the segment header
// and a directory of named headers; every other page is handed out by
// AllocPages and never returned.
//
// # File layout
//
// All integers in page 0 are little endian.
//
//	Bytes 0-7:   magic "ATOMSEG\x00"
//	Bytes 8-11:  format version
//	Byte  12:    page shift
//	Bytes 16-19: CRC32-C of bytes 0-15
//	Bytes 20-23: named header count
//	Bytes 24-27: total pages (file size >> page shift)
//	Bytes 28-31: next unallocated page
//	Bytes 64-:   directory, 64 bytes per entry:
//	             name[40] type[4] size[4] page[4] reserved[12]
//
// Only the geometry is checksummed. Counters change on every allocation
// and are stored straight into the mapping.
//
// # Remapping
//
// Growing a segment replaces its mapping. Any slice or pointer obtained
// from Bytes, Page or Pointer is invalid after the next AllocPages or
// Header call; hold offsets and resolve them again instead. Generation
// changes on every remap.
package segment

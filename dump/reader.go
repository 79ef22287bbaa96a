package dump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/atomdb/codec"
)

// Reader reads a dump.
type Reader struct {
	in          *bufio.Reader
	zr          *zstd.Decoder
	codec       codec.Codec
	compression Compression
	hash        *blake3.Hasher
	count       uint64
	buf         []byte
	done        bool
}

// NewReader reads and checks the dump header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var fixed [8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrFormat, err)
	}
	if !bytes.Equal(fixed[:4], magic[:]) {
		return nil, fmt.Errorf("%w: magic %q", ErrFormat, fixed[:4])
	}
	if v := binary.LittleEndian.Uint16(fixed[4:]); v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, v)
	}
	comp := Compression(fixed[6])
	name := make([]byte, fixed[7])
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("%w: codec name: %w", ErrFormat, err)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrFormat, name)
	}

	rd := &Reader{codec: c, compression: comp, hash: blake3.New()}
	switch comp {
	case CompressionNone:
		rd.in = bufio.NewReader(r)
	case CompressionLZ4:
		rd.in = bufio.NewReader(lz4.NewReader(r))
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("dump: zstd: %w", err)
		}
		rd.zr = zr
		rd.in = bufio.NewReader(zr)
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormat, comp)
	}
	return rd, nil
}

// Codec returns the name of the codec the dump was written with.
func (r *Reader) Codec() string { return r.codec.Name() }

// Compression returns the stream compression.
func (r *Reader) Compression() Compression { return r.compression }

// Count returns the number of entries read so far. After Next has
// returned io.EOF it is the verified total.
func (r *Reader) Count() uint64 { return r.count }

// Next returns the next entry, or io.EOF after the trailer has been read
// and verified. A trailer that does not match is reported as ErrChecksum.
func (r *Reader) Next() (Entry, error) {
	if r.done {
		return Entry{}, io.EOF
	}

	n, err := binary.ReadUvarint(r.in)
	if err != nil {
		return Entry{}, r.unexpected(err)
	}
	if n == 0 {
		r.done = true
		return Entry{}, r.trailer()
	}
	if n > MaxFrame {
		return Entry{}, fmt.Errorf("%w: %d-byte frame", ErrCorrupt, n)
	}

	r.buf = binary.AppendUvarint(r.buf[:0], n)
	hdr := len(r.buf)
	r.buf = append(r.buf, make([]byte, n)...)
	if _, err := io.ReadFull(r.in, r.buf[hdr:]); err != nil {
		return Entry{}, r.unexpected(err)
	}
	_, _ = r.hash.Write(r.buf)

	var e Entry
	if err := r.codec.Unmarshal(r.buf[hdr:], &e); err != nil {
		return Entry{}, fmt.Errorf("%w: entry %d: %w", ErrCorrupt, r.count, err)
	}
	r.count++
	return e, nil
}

func (r *Reader) trailer() error {
	var tail [8 + 32]byte
	if _, err := io.ReadFull(r.in, tail[:]); err != nil {
		return r.unexpected(err)
	}
	if want := binary.LittleEndian.Uint64(tail[:8]); want != r.count {
		return fmt.Errorf("%w: %d entries read, trailer says %d", ErrChecksum, r.count, want)
	}
	if !bytes.Equal(r.hash.Sum(nil), tail[8:]) {
		return fmt.Errorf("%w: digest", ErrChecksum)
	}
	return io.EOF
}

// unexpected turns an early end of stream into ErrCorrupt.
func (r *Reader) unexpected(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated after %d entries", ErrCorrupt, r.count)
	}
	return fmt.Errorf("dump: read: %w", err)
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
		r.zr = nil
	}
	return nil
}

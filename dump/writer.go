package dump

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/atomdb/codec"
)

type options struct {
	compression Compression
	codec       codec.Codec
	level       zstd.EncoderLevel
}

// Option configures a writer.
type Option func(*options)

// WithCompression sets the stream compression.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCodec sets the entry codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithZstdLevel sets the zstd encoder level.
func WithZstdLevel(l zstd.EncoderLevel) Option {
	return func(o *options) {
		o.level = l
	}
}

// Writer writes a dump.
type Writer struct {
	out    io.WriteCloser
	codec  codec.Codec
	hash   *blake3.Hasher
	count  uint64
	buf    []byte
	closed bool
}

// bufferCloser flushes an uncompressed stream on Close.
type bufferCloser struct {
	*bufio.Writer
}

func (b bufferCloser) Close() error { return b.Flush() }

// NewWriter writes the dump header to w and returns a writer for the
// entries. Close finishes the dump but leaves w open.
func NewWriter(w io.Writer, optFns ...Option) (*Writer, error) {
	opts := options{compression: CompressionZstd, codec: codec.Default, level: zstd.SpeedDefault}
	for _, fn := range optFns {
		fn(&opts)
	}

	name := opts.codec.Name()
	if len(name) == 0 || len(name) > 255 {
		return nil, fmt.Errorf("%w: codec name %q", ErrFormat, name)
	}
	hdr := make([]byte, 0, 8+len(name))
	hdr = append(hdr, magic[:]...)
	hdr = binary.LittleEndian.AppendUint16(hdr, Version)
	hdr = append(hdr, byte(opts.compression), byte(len(name)))
	hdr = append(hdr, name...)
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("dump: write header: %w", err)
	}

	var out io.WriteCloser
	switch opts.compression {
	case CompressionNone:
		out = bufferCloser{bufio.NewWriter(w)}
	case CompressionLZ4:
		out = lz4.NewWriter(w)
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(opts.level))
		if err != nil {
			return nil, fmt.Errorf("dump: zstd: %w", err)
		}
		out = enc
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormat, opts.compression)
	}

	return &Writer{
		out:   out,
		codec: opts.codec,
		hash:  blake3.New(),
	}, nil
}

// Write appends e to the dump.
func (w *Writer) Write(e Entry) error {
	if w.closed {
		return ErrClosed
	}
	payload, err := w.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("dump: encode entry: %w", err)
	}
	if len(payload) == 0 || len(payload) > MaxFrame {
		return fmt.Errorf("%w: %d-byte entry", ErrCorrupt, len(payload))
	}

	w.buf = binary.AppendUvarint(w.buf[:0], uint64(len(payload)))
	w.buf = append(w.buf, payload...)
	if _, err := w.out.Write(w.buf); err != nil {
		return fmt.Errorf("dump: write entry: %w", err)
	}
	_, _ = w.hash.Write(w.buf)
	w.count++
	return nil
}

// Count returns the number of entries written so far.
func (w *Writer) Count() uint64 { return w.count }

// Close writes the terminator and trailer and flushes the compressor.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	tail := make([]byte, 0, 1+8+32)
	tail = binary.AppendUvarint(tail, 0)
	tail = binary.LittleEndian.AppendUint64(tail, w.count)
	tail = w.hash.Sum(tail)
	if _, err := w.out.Write(tail); err != nil {
		_ = w.out.Close()
		return fmt.Errorf("dump: write trailer: %w", err)
	}
	if err := w.out.Close(); err != nil {
		return fmt.Errorf("dump: flush: %w", err)
	}
	return nil
}

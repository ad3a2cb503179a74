package fast

// buffer.go provides a lightweight, non-thread-safe big-endian codec over byte slices.
//
// It backs the decrypted weight blob format:
//   - u32 entry count
//   - (u16 uid, u16 weight) pairs
//   - trailing submitter key bytes
//
// Unlike bytes.Reader the Reader never allocates, and every read is bounds
// checked: reading past the end sets a sticky ErrShortBuffer instead of
// panicking, because blobs come from untrusted ciphertexts.

import (
	"errors"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
)

// ErrShortBuffer is reported once a read runs past the end of the buffer.
var ErrShortBuffer = errors.New("fast: short buffer")

type Reader struct {
	// buf is the underlying data source.
	buf []byte
	// offset tracks the current reading position (cursor).
	offset int
	// err is sticky: once set, all further reads return zero values.
	err error
}

type Writer struct {
	// buf is the accumulating byte slice.
	buf []byte
}

// NewReader creates a Reader to consume the provided byte slice.
func NewReader(bb []byte) *Reader {
	return &Reader{
		buf:    bb,
		offset: 0,
	}
}

// NewWriter creates a Writer that appends to the provided initial slice.
// Often called with `make([]byte, 0, capacity)` to pre-allocate memory.
func NewWriter(bb []byte) *Writer {
	return &Writer{
		buf: bb,
	}
}

// WriteByte appends a single byte to the buffer.
func (b *Writer) WriteByte(v byte) {
	b.buf = append(b.buf, v)
}

// Write appends a slice of bytes (bulk write) to the buffer.
func (b *Writer) Write(v []byte) {
	b.buf = append(b.buf, v...)
}

// WriteUint16 appends v in big-endian order.
func (b *Writer) WriteUint16(v uint16) {
	b.buf = append(b.buf, bigendian.Uint16ToBytes(v)...)
}

// WriteUint32 appends v in big-endian order.
func (b *Writer) WriteUint32(v uint32) {
	b.buf = append(b.buf, bigendian.Uint32ToBytes(v)...)
}

// Read consumes and returns the next 'n' bytes from the buffer.
//
// The result shares memory with the underlying buffer. If fewer than n
// bytes remain, nil is returned and Err reports ErrShortBuffer.
func (b *Reader) Read(n int) []byte {
	if b.err != nil || n < 0 || b.offset+n > len(b.buf) {
		b.err = ErrShortBuffer
		return nil
	}
	res := b.buf[b.offset : b.offset+n]
	b.offset += n
	return res
}

// ReadByte consumes and returns a single byte.
func (b *Reader) ReadByte() byte {
	res := b.Read(1)
	if res == nil {
		return 0
	}
	return res[0]
}

// ReadUint16 consumes a big-endian uint16.
func (b *Reader) ReadUint16() uint16 {
	res := b.Read(2)
	if res == nil {
		return 0
	}
	return bigendian.BytesToUint16(res)
}

// ReadUint32 consumes a big-endian uint32.
func (b *Reader) ReadUint32() uint32 {
	res := b.Read(4)
	if res == nil {
		return 0
	}
	return bigendian.BytesToUint32(res)
}

// Rest consumes everything left in the buffer.
func (b *Reader) Rest() []byte {
	return b.Read(b.Remaining())
}

// Remaining returns the number of unread bytes.
func (b *Reader) Remaining() int {
	return len(b.buf) - b.offset
}

// Err returns ErrShortBuffer if any read ran past the end.
func (b *Reader) Err() error {
	return b.err
}

// Position returns the current cursor index of the Reader.
func (b *Reader) Position() int {
	return b.offset
}

// Bytes returns the entire underlying buffer of the Reader.
func (b *Reader) Bytes() []byte {
	return b.buf
}

// Bytes returns the accumulated content of the Writer.
func (b *Writer) Bytes() []byte {
	return b.buf
}

// Empty checks if the Reader has reached the end of the buffer.
func (b *Reader) Empty() bool {
	return len(b.buf) == b.offset
}

// Package byteio implements bounds-checked little-endian primitive reads
// against either an in-memory byte slice or a seekable file, plus the
// length-prefixed short-string format used by the vologram container.
package byteio

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// MaxShortStringLen is the largest length byte a short string may declare.
const MaxShortStringLen = 127

var (
	// ErrTruncated is returned when a read would run past the end of the
	// underlying slice or file.
	ErrTruncated = errors.New("byteio: truncated read")
	// ErrMalformed is returned when a short string declares a length
	// greater than MaxShortStringLen or a magic tag does not match; the
	// header and frame packages also wrap it for their own structural
	// failures.
	ErrMalformed = errors.New("byteio: malformed data")
)

// ShortString is a length-prefixed string: a single length byte (at most
// MaxShortStringLen) followed by that many raw bytes. Bytes holds exactly
// Len bytes; when read via Reader.ShortString a NUL terminator follows
// them in the backing array for convenience, never counted in Len.
type ShortString struct {
	Bytes []byte
	Len   uint8
}

func (s ShortString) String() string { return string(s.Bytes) }

// Reader reads little-endian primitives from a source positioned at a
// mutable cursor. Source is either a byte slice (in-memory mode) or an
// io.ReaderAt paired with a known size (file-streaming mode).
type Reader struct {
	slice []byte
	at    io.ReaderAt
	size  int64
	pos   int64
}

// NewSliceReader builds a Reader over an in-memory byte slice.
func NewSliceReader(b []byte) *Reader {
	return &Reader{slice: b, size: int64(len(b))}
}

// NewFileReader builds a Reader over a seekable file-like source of the
// given total size in bytes.
func NewFileReader(r io.ReaderAt, size int64) *Reader {
	return &Reader{at: r, size: size}
}

// Pos returns the current cursor position.
func (r *Reader) Pos() int64 { return r.pos }

// Seek moves the cursor to an absolute offset. It does not itself bounds
// check against size; the next read will.
func (r *Reader) Seek(offset int64) { r.pos = offset }

// Size returns the total size of the underlying source.
func (r *Reader) Size() int64 { return r.size }

// Remaining returns the number of bytes left before the end of the source.
func (r *Reader) Remaining() int64 { return r.size - r.pos }

func (r *Reader) read(n int64) ([]byte, error) {
	if n < 0 || r.pos < 0 || r.pos+n > r.size {
		return nil, errors.Wrapf(ErrTruncated, "need %d bytes at offset %d, have %d total", n, r.pos, r.size)
	}
	if r.slice != nil {
		b := r.slice[r.pos : r.pos+n]
		r.pos += n
		return b, nil
	}
	buf := make([]byte, n)
	nn, err := r.at.ReadAt(buf, r.pos)
	if err != nil && !(err == io.EOF && int64(nn) == n) {
		return nil, errors.Wrapf(ErrTruncated, "read at offset %d: %v", r.pos, err)
	}
	r.pos += n
	return buf, nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a single byte and treats any non-zero value as true.
func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

// U16LE reads a little-endian uint16.
func (r *Reader) U16LE() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// U32LE reads a little-endian uint32.
func (r *Reader) U32LE() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// F32LE reads a little-endian IEEE-754 binary32 float.
func (r *Reader) F32LE() (float32, error) {
	v, err := r.U32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int64) ([]byte, error) {
	return r.read(n)
}

// ShortString reads a 1-byte length prefix followed by that many raw
// bytes. Fails ErrMalformed if the declared length exceeds
// MaxShortStringLen, ErrTruncated if the payload does not fit.
func (r *Reader) ShortString() (ShortString, error) {
	n, err := r.U8()
	if err != nil {
		return ShortString{}, err
	}
	if n > MaxShortStringLen {
		return ShortString{}, errors.Wrapf(ErrMalformed, "short string length %d exceeds %d", n, MaxShortStringLen)
	}
	payload, err := r.read(int64(n))
	if err != nil {
		return ShortString{}, err
	}
	buf := make([]byte, int(n)+1) // last byte stays NUL
	copy(buf, payload)
	return ShortString{Bytes: buf[:n], Len: n}, nil
}

// Magic4 reads the 4-byte "VOLS" magic, accepting either a bare 4-byte
// magic or a short string (length byte 4, then "VOLS").
func (r *Reader) Magic4(want string) error {
	start := r.pos
	if ss, err := r.ShortString(); err == nil && ss.Len == 4 && string(ss.Bytes) == want {
		return nil
	}
	r.pos = start
	b, err := r.read(4)
	if err != nil {
		return err
	}
	if string(b) != want {
		return errors.Wrapf(ErrMalformed, "expected magic %q, got %q", want, b)
	}
	return nil
}

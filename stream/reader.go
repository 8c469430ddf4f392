package stream

import (
	"io"

	"github.com/AmatsuZero/Common/cstruct"
)

// Reader reads from a byte slice with a cursor.
// Use NewReader to create a Reader.
type Reader struct {
	fieldReader

	buf   []byte
	pos   int
	marks []int
}

// NewReader creates Reader over p which decodes typed values in given byte
// order. Reader does not copy p.
func NewReader(p []byte, order cstruct.Order) *Reader {
	r := &Reader{buf: p}
	r.fieldReader = fieldReader{next: r.Next, order: order}
	return r
}

// Next returns the next n bytes and advances the cursor. It fails with
// ErrShortRead if fewer than n bytes remain, leaving the cursor untouched.
//
// The returned slice shares memory with the underlying buffer.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.pos {
		return nil, ErrShortRead
	}
	p := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return p, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// Seek moves the cursor to pos which must be within [0, Len()].
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return ErrSeek
	}
	r.pos = pos
	return nil
}

// Skip moves the cursor n bytes forward.
func (r *Reader) Skip(n int) error { return r.Seek(r.pos + n) }

// Align moves the cursor to the next multiple of n.
func (r *Reader) Align(n int) error {
	if n <= 0 {
		return nil
	}
	return r.Skip((n - r.pos%n) % n)
}

// Push saves current position on the bookmark stack.
func (r *Reader) Push() { r.marks = append(r.marks, r.pos) }

// Pop restores position saved by the last Push.
func (r *Reader) Pop() error {
	n := len(r.marks)
	if n == 0 {
		return ErrNoBookmark
	}
	r.pos = r.marks[n-1]
	r.marks = r.marks[:n-1]
	return nil
}

// Tell returns current position.
func (r *Reader) Tell() int { return r.pos }

// Len returns size of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Available returns number of unread bytes.
func (r *Reader) Available() int { return len(r.buf) - r.pos }

// EOF reports whether all bytes were read.
func (r *Reader) EOF() bool { return r.pos >= len(r.buf) }

// Reset makes r read from p and drops all bookmarks.
func (r *Reader) Reset(p []byte) {
	r.buf = p
	r.pos = 0
	r.marks = r.marks[:0]
}

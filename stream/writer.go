package stream

import "github.com/AmatsuZero/Common/cstruct"

// Writer is a growing byte buffer with a cursor.
//
// Writes overwrite bytes at the cursor and extend the buffer when they reach
// past its end. Use NewWriter to create a Writer.
type Writer struct {
	fieldWriter

	buf   []byte
	pos   int
	marks []int
}

// NewWriter creates Writer which encodes typed values in given byte order.
func NewWriter(order cstruct.Order) *Writer {
	w := &Writer{}
	w.fieldWriter = fieldWriter{write: w.Write, order: order}
	return w
}

// Write implements io.Writer. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

// Seek moves the cursor to pos. If pos is past the end of the buffer, the gap
// is filled with zero bytes.
func (w *Writer) Seek(pos int) error {
	if pos < 0 {
		return ErrSeek
	}
	if n := pos - len(w.buf); n > 0 {
		w.buf = append(w.buf, make([]byte, n)...)
	}
	w.pos = pos
	return nil
}

// Skip moves the cursor n bytes forward.
func (w *Writer) Skip(n int) error { return w.Seek(w.pos + n) }

// Align moves the cursor to the next multiple of n.
func (w *Writer) Align(n int) error {
	if n <= 0 {
		return nil
	}
	return w.Skip((n - w.pos%n) % n)
}

// Push saves current position on the bookmark stack.
func (w *Writer) Push() { w.marks = append(w.marks, w.pos) }

// Pop restores position saved by the last Push.
func (w *Writer) Pop() error {
	n := len(w.marks)
	if n == 0 {
		return ErrNoBookmark
	}
	w.pos = w.marks[n-1]
	w.marks = w.marks[:n-1]
	return nil
}

// Tell returns current position.
func (w *Writer) Tell() int { return w.pos }

// Len returns size of the buffer.
func (w *Writer) Len() int { return len(w.buf) }

// EOF reports whether the cursor is at the end of the buffer.
func (w *Writer) EOF() bool { return w.pos >= len(w.buf) }

// Bytes returns the buffer. It is valid until the next write.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset empties the buffer and drops all bookmarks.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.pos = 0
	w.marks = w.marks[:0]
}

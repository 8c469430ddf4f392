package stream

import "github.com/AmatsuZero/Common/cstruct"

type bitMark struct {
	pos, bit int
}

// BitWriter is a Writer with bit granularity.
// Use NewBitWriter to create a BitWriter.
type BitWriter struct {
	fieldWriter

	w     *Writer
	bit   int
	marks []bitMark
}

// NewBitWriter creates BitWriter which encodes typed values in given byte
// order.
func NewBitWriter(order cstruct.Order) *BitWriter {
	b := &BitWriter{w: NewWriter(order)}
	b.fieldWriter = fieldWriter{write: b.Write, order: order}
	return b
}

// Write implements io.Writer. At a byte boundary it behaves like
// Writer.Write; otherwise every byte is written bit by bit.
func (b *BitWriter) Write(p []byte) (int, error) {
	if b.bit == 0 {
		return b.w.Write(p)
	}
	for _, c := range p {
		b.writeBits(uint64(c), 8)
	}
	return len(p), nil
}

// WriteBit writes the lowest bit of v.
func (b *BitWriter) WriteBit(v uint) { b.writeBit(v&1 != 0) }

// WriteBits writes n lowest bits of v, most significant first.
// n must be within [0, 64].
func (b *BitWriter) WriteBits(v uint64, n int) error {
	if n < 0 || n > 64 {
		return ErrBitCount
	}
	b.writeBits(v, n)
	return nil
}

func (b *BitWriter) writeBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		b.writeBit((v>>uint(i))&1 != 0)
	}
}

func (b *BitWriter) writeBit(set bool) {
	w := b.w
	if w.pos == len(w.buf) {
		w.buf = append(w.buf, 0)
	}
	mask := byte(1) << uint(7-b.bit)
	if set {
		w.buf[w.pos] |= mask
	} else {
		w.buf[w.pos] &^= mask
	}
	b.bit++
	if b.bit == 8 {
		b.bit = 0
		w.pos++
	}
}

// ByteAlign moves the cursor to the start of the next byte if it is in the
// middle of one.
func (b *BitWriter) ByteAlign() {
	if b.bit == 0 {
		return
	}
	// The partial byte always exists, so this cannot fail.
	_ = b.w.Skip(1)
	b.bit = 0
}

// Align byte aligns the cursor and then moves it to the next multiple of n.
func (b *BitWriter) Align(n int) error {
	b.ByteAlign()
	return b.w.Align(n)
}

// Seek moves the cursor to byte pos and bit offset bit within [0, 8).
func (b *BitWriter) Seek(pos, bit int) error {
	if bit < 0 || bit > 7 {
		return ErrSeek
	}
	if err := b.w.Seek(pos); err != nil {
		return err
	}
	if bit > 0 && b.w.pos == len(b.w.buf) {
		b.w.buf = append(b.w.buf, 0)
	}
	b.bit = bit
	return nil
}

// Skip byte aligns the cursor and moves it n bytes forward.
func (b *BitWriter) Skip(n int) error {
	b.ByteAlign()
	return b.w.Skip(n)
}

// Push saves current position and bit offset on the bookmark stack.
func (b *BitWriter) Push() { b.marks = append(b.marks, bitMark{b.w.pos, b.bit}) }

// Pop restores position and bit offset saved by the last Push.
func (b *BitWriter) Pop() error {
	n := len(b.marks)
	if n == 0 {
		return ErrNoBookmark
	}
	m := b.marks[n-1]
	b.marks = b.marks[:n-1]
	b.w.pos, b.bit = m.pos, m.bit
	return nil
}

// Tell returns current byte position and bit offset.
func (b *BitWriter) Tell() (pos, bit int) { return b.w.pos, b.bit }

// Len returns size of the buffer in bytes, including a partially written one.
func (b *BitWriter) Len() int { return b.w.Len() }

// Bytes returns the buffer. It is valid until the next write.
func (b *BitWriter) Bytes() []byte { return b.w.Bytes() }

// Reset empties the buffer and drops all bookmarks.
func (b *BitWriter) Reset() {
	b.w.Reset()
	b.bit = 0
	b.marks = b.marks[:0]
}

// BitReader is a Reader with bit granularity.
// Use NewBitReader to create a BitReader.
type BitReader struct {
	fieldReader

	r     *Reader
	bit   int
	marks []bitMark
}

// NewBitReader creates BitReader over p which decodes typed values in given
// byte order.
func NewBitReader(p []byte, order cstruct.Order) *BitReader {
	b := &BitReader{r: NewReader(p, order)}
	b.fieldReader = fieldReader{next: b.Next, order: order}
	return b
}

// Next returns the next n bytes. At a byte boundary it behaves like
// Reader.Next; otherwise the bytes are assembled bit by bit into a new slice.
func (b *BitReader) Next(n int) ([]byte, error) {
	if b.bit == 0 {
		return b.r.Next(n)
	}
	if n < 0 || 8*n > b.AvailableBits() {
		return nil, ErrShortRead
	}
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(b.readBits(8))
	}
	return p, nil
}

// ReadBit reads a single bit.
func (b *BitReader) ReadBit() (uint, error) {
	if b.AvailableBits() < 1 {
		return 0, ErrShortRead
	}
	return uint(b.readBits(1)), nil
}

// ReadBits reads n bits, most significant first. n must be within [0, 64].
// If fewer than n bits remain nothing is consumed.
func (b *BitReader) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, ErrBitCount
	}
	if n > b.AvailableBits() {
		return 0, ErrShortRead
	}
	return b.readBits(n), nil
}

func (b *BitReader) readBits(n int) (v uint64) {
	r := b.r
	for i := 0; i < n; i++ {
		bit := (r.buf[r.pos] >> uint(7-b.bit)) & 1
		v = v<<1 | uint64(bit)
		b.bit++
		if b.bit == 8 {
			b.bit = 0
			r.pos++
		}
	}
	return v
}

// AvailableBits returns number of unread bits.
func (b *BitReader) AvailableBits() int {
	return 8*(len(b.r.buf)-b.r.pos) - b.bit
}

// Available returns number of whole unread bytes.
func (b *BitReader) Available() int { return b.AvailableBits() / 8 }

// ByteAlign moves the cursor to the start of the next byte if it is in the
// middle of one.
func (b *BitReader) ByteAlign() {
	if b.bit == 0 {
		return
	}
	b.r.pos++
	b.bit = 0
}

// Align byte aligns the cursor and then moves it to the next multiple of n.
func (b *BitReader) Align(n int) error {
	b.ByteAlign()
	return b.r.Align(n)
}

// Seek moves the cursor to byte pos and bit offset bit within [0, 8).
func (b *BitReader) Seek(pos, bit int) error {
	if bit < 0 || bit > 7 || (bit > 0 && pos >= len(b.r.buf)) {
		return ErrSeek
	}
	if err := b.r.Seek(pos); err != nil {
		return err
	}
	b.bit = bit
	return nil
}

// Skip byte aligns the cursor and moves it n bytes forward.
func (b *BitReader) Skip(n int) error {
	b.ByteAlign()
	return b.r.Skip(n)
}

// Push saves current position and bit offset on the bookmark stack.
func (b *BitReader) Push() { b.marks = append(b.marks, bitMark{b.r.pos, b.bit}) }

// Pop restores position and bit offset saved by the last Push.
func (b *BitReader) Pop() error {
	n := len(b.marks)
	if n == 0 {
		return ErrNoBookmark
	}
	m := b.marks[n-1]
	b.marks = b.marks[:n-1]
	b.r.pos, b.bit = m.pos, m.bit
	return nil
}

// Tell returns current byte position and bit offset.
func (b *BitReader) Tell() (pos, bit int) { return b.r.pos, b.bit }

// Len returns size of the underlying buffer in bytes.
func (b *BitReader) Len() int { return b.r.Len() }

// EOF reports whether all bits were read.
func (b *BitReader) EOF() bool { return b.AvailableBits() <= 0 }

// Reset makes b read from p and drops all bookmarks.
func (b *BitReader) Reset(p []byte) {
	b.r.Reset(p)
	b.bit = 0
	b.marks = b.marks[:0]
}

/*
Package stream provides cursor based byte and bit buffers on top of the
cstruct codec.

Writer and Reader keep a byte position and a stack of bookmarks. Typed
accessors (U16, S32, WChar and so on) are encoded with cstruct using the byte
order given at construction.

BitWriter and BitReader wrap a Writer and a Reader and add a bit offset in
[0, 8). Whole-byte operations at bit offset zero are delegated to the wrapped
stream; otherwise they are decomposed into single bit operations, most
significant bit first.

Streams are not safe for concurrent use.
*/
package stream

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/AmatsuZero/Common/cstruct"
)

// Errors returned by streams.
var (
	ErrShortRead  = errors.New("stream: not enough data")
	ErrBadPadding = errors.New("stream: incorrect padding")
	ErrNoBookmark = errors.New("stream: no bookmark to pop")
	ErrSeek       = errors.New("stream: seek out of range")
	ErrNotASCII   = errors.New("stream: non-ASCII data")
	ErrBitCount   = errors.New("stream: bit count out of range")
)

func program(order cstruct.Order, typ cstruct.Type) (*cstruct.Program, error) {
	return cstruct.Compile(string([]byte{order.Marker(), byte(typ)}))
}

// fieldWriter implements typed setters over a write function.
type fieldWriter struct {
	write func(p []byte) (int, error)
	order cstruct.Order
}

func (f fieldWriter) pack(typ cstruct.Type, v cstruct.Value) error {
	p, err := program(f.order, typ)
	if err != nil {
		return err
	}
	bts, err := p.Pack(v)
	if err != nil {
		return err
	}
	_, err = f.write(bts)
	return err
}

// U8 writes a single byte.
func (f fieldWriter) U8(v uint8) error {
	_, err := f.write([]byte{v})
	return err
}

// U16 writes v as unsigned 16-bit integer. Values above cstruct.MaxUint16 are
// rejected by the codec.
func (f fieldWriter) U16(v uint16) error { return f.pack(cstruct.TypeUint16, cstruct.Uint(uint64(v))) }

// U32 writes v as unsigned 32-bit integer.
func (f fieldWriter) U32(v uint32) error { return f.pack(cstruct.TypeUint32, cstruct.Uint(uint64(v))) }

// U64 writes v as unsigned 64-bit integer.
func (f fieldWriter) U64(v uint64) error { return f.pack(cstruct.TypeUint64, cstruct.Uint(v)) }

// S8 writes v as signed byte.
func (f fieldWriter) S8(v int8) error { return f.pack(cstruct.TypeInt8, cstruct.Int(int64(v))) }

// S16 writes v as signed 16-bit integer.
func (f fieldWriter) S16(v int16) error { return f.pack(cstruct.TypeInt16, cstruct.Int(int64(v))) }

// S32 writes v as signed 32-bit integer.
func (f fieldWriter) S32(v int32) error { return f.pack(cstruct.TypeInt32, cstruct.Int(int64(v))) }

// S64 writes v as signed 64-bit integer.
func (f fieldWriter) S64(v int64) error { return f.pack(cstruct.TypeInt64, cstruct.Int(v)) }

// Float always fails with cstruct.ErrUnimplemented.
func (f fieldWriter) Float(v float32) error { return f.pack(cstruct.TypeFloat, cstruct.Uint(0)) }

// Double always fails with cstruct.ErrUnimplemented.
func (f fieldWriter) Double(v float64) error { return f.pack(cstruct.TypeDouble, cstruct.Uint(0)) }

// Bool writes v as a single byte.
func (f fieldWriter) Bool(v bool) error {
	if v {
		return f.U8(1)
	}
	return f.U8(0)
}

// Char writes the low byte of r.
func (f fieldWriter) Char(r rune) error { return f.U8(uint8(r)) }

// WChar writes the low 16 bits of r as U16.
func (f fieldWriter) WChar(r rune) error { return f.U16(uint16(r)) }

// Chars writes each rune of s with Char.
func (f fieldWriter) Chars(s string) error {
	for _, r := range s {
		if err := f.Char(r); err != nil {
			return err
		}
	}
	return nil
}

// WChars writes each rune of s with WChar.
func (f fieldWriter) WChars(s string) error {
	for _, r := range s {
		if err := f.WChar(r); err != nil {
			return err
		}
	}
	return nil
}

// ASCII writes s as is. It fails if s contains non-ASCII bytes.
func (f fieldWriter) ASCII(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return ErrNotASCII
		}
	}
	_, err := f.write([]byte(s))
	return err
}

// Pad writes n copies of c.
func (f fieldWriter) Pad(n int, c byte) error {
	if n <= 0 {
		return nil
	}
	p := make([]byte, n)
	if c != 0 {
		for i := range p {
			p[i] = c
		}
	}
	_, err := f.write(p)
	return err
}

// fieldReader implements typed getters over a next function.
type fieldReader struct {
	next  func(n int) ([]byte, error)
	order cstruct.Order
}

func (f fieldReader) unpack(typ cstruct.Type) (cstruct.Value, error) {
	p, err := program(f.order, typ)
	if err != nil {
		return cstruct.Value{}, err
	}
	n, err := p.Size()
	if err != nil {
		return cstruct.Value{}, err
	}
	bts, err := f.next(n)
	if err != nil {
		return cstruct.Value{}, err
	}
	vs, err := p.Unpack(bts)
	if err != nil {
		return cstruct.Value{}, err
	}
	return vs[0], nil
}

// U8 reads a single byte.
func (f fieldReader) U8() (uint8, error) {
	p, err := f.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// U16 reads unsigned 16-bit integer.
func (f fieldReader) U16() (uint16, error) {
	v, err := f.unpack(cstruct.TypeUint16)
	return uint16(v.Uint()), err
}

// U32 reads unsigned 32-bit integer.
func (f fieldReader) U32() (uint32, error) {
	v, err := f.unpack(cstruct.TypeUint32)
	return uint32(v.Uint()), err
}

// U64 reads unsigned 64-bit integer.
func (f fieldReader) U64() (uint64, error) {
	v, err := f.unpack(cstruct.TypeUint64)
	return v.Uint(), err
}

// S8 reads signed byte.
func (f fieldReader) S8() (int8, error) {
	v, err := f.unpack(cstruct.TypeInt8)
	return int8(v.Int()), err
}

// S16 reads signed 16-bit integer.
func (f fieldReader) S16() (int16, error) {
	v, err := f.unpack(cstruct.TypeInt16)
	return int16(v.Int()), err
}

// S32 reads signed 32-bit integer.
func (f fieldReader) S32() (int32, error) {
	v, err := f.unpack(cstruct.TypeInt32)
	return int32(v.Int()), err
}

// S64 reads signed 64-bit integer.
func (f fieldReader) S64() (int64, error) {
	v, err := f.unpack(cstruct.TypeInt64)
	return v.Int(), err
}

// Float always fails with cstruct.ErrUnimplemented. No bytes are consumed.
func (f fieldReader) Float() (float32, error) {
	_, err := cstruct.Unpack(string([]byte{f.order.Marker(), byte(cstruct.TypeFloat)}), nil)
	return 0, err
}

// Double always fails with cstruct.ErrUnimplemented. No bytes are consumed.
func (f fieldReader) Double() (float64, error) {
	_, err := cstruct.Unpack(string([]byte{f.order.Marker(), byte(cstruct.TypeDouble)}), nil)
	return 0, err
}

// Bool reads a single byte and reports whether it is non-zero.
func (f fieldReader) Bool() (bool, error) {
	b, err := f.U8()
	return b != 0, err
}

// Char reads a single byte character.
func (f fieldReader) Char() (rune, error) {
	b, err := f.U8()
	return rune(b), err
}

// WChar reads a 16-bit character.
func (f fieldReader) WChar() (rune, error) {
	v, err := f.U16()
	return rune(v), err
}

// Chars reads n single byte characters.
func (f fieldReader) Chars(n int) (string, error) {
	rs := make([]rune, n)
	for i := range rs {
		r, err := f.Char()
		if err != nil {
			return "", err
		}
		rs[i] = r
	}
	return string(rs), nil
}

// WChars reads n 16-bit characters. Surrogate pairs are combined.
func (f fieldReader) WChars(n int) (string, error) {
	us := make([]uint16, n)
	for i := range us {
		v, err := f.U16()
		if err != nil {
			return "", err
		}
		us[i] = v
	}
	return string(utf16.Decode(us)), nil
}

// ASCII reads n bytes as ASCII string.
func (f fieldReader) ASCII(n int) (string, error) {
	p, err := f.next(n)
	if err != nil {
		return "", err
	}
	for _, c := range p {
		if c >= 0x80 {
			return "", ErrNotASCII
		}
	}
	return string(p), nil
}

// Pad consumes n bytes and checks that each of them equals c.
func (f fieldReader) Pad(n int, c byte) error {
	if n <= 0 {
		return nil
	}
	p, err := f.next(n)
	if err != nil {
		return err
	}
	for i, b := range p {
		if b != c {
			return fmt.Errorf("%w: byte %d is %#02x; want %#02x", ErrBadPadding, i, b, c)
		}
	}
	return nil
}

package cstruct

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"golang.org/x/sys/cpu"
)

// Order represents byte order used to encode multi-byte values.
type Order uint8

// Byte orders.
const (
	NativeEndian Order = iota
	LittleEndian
	BigEndian
)

func (o Order) String() string {
	switch o {
	case NativeEndian:
		return "native"
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "order(" + strconv.Itoa(int(o)) + ")"
	}
}

// Marker returns format marker selecting o without alignment.
func (o Order) Marker() byte {
	switch o {
	case LittleEndian:
		return '<'
	case BigEndian:
		return '>'
	default:
		return '='
	}
}

// Resolve maps NativeEndian to the byte order of the running platform.
func (o Order) Resolve() Order {
	if o != NativeEndian {
		return o
	}
	if cpu.IsBigEndian {
		return BigEndian
	}
	return LittleEndian
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func (o Order) byteOrder() byteOrder {
	if o.Resolve() == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Kind describes which field of a Value is set.
type Kind uint8

// Value kinds.
const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindBool
	KindChar
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	default:
		return "invalid"
	}
}

// Value is a single packed or unpacked item.
//
// Integer formats accept both KindInt and KindUint values as long as the value
// fits the format range. Unpack returns KindInt for signed formats and
// KindUint for unsigned ones.
//
// Values are comparable with ==.
type Value struct {
	kind Kind
	bits uint64
}

// Int returns signed integer value.
func Int(v int64) Value { return Value{KindInt, uint64(v)} }

// Uint returns unsigned integer value.
func Uint(v uint64) Value { return Value{KindUint, v} }

// Bool returns boolean value.
func Bool(v bool) Value {
	if v {
		return Value{KindBool, 1}
	}
	return Value{KindBool, 0}
}

// Char returns character value holding code point r.
func Char(r rune) Value { return Value{KindChar, uint64(int64(r))} }

// Kind returns kind of v.
func (v Value) Kind() Kind { return v.kind }

// Int returns v as a signed integer.
func (v Value) Int() int64 { return int64(v.bits) }

// Uint returns v as an unsigned integer.
func (v Value) Uint() uint64 { return v.bits }

// Bool reports whether v is a non-zero value.
func (v Value) Bool() bool { return v.bits != 0 }

// Char returns v as a code point.
func (v Value) Char() rune { return rune(int64(v.bits)) }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindUint:
		return strconv.FormatUint(v.bits, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindChar:
		return strconv.QuoteRune(v.Char())
	default:
		return "<invalid>"
	}
}

// GoString implements fmt.GoStringer.
func (v Value) GoString() string {
	return fmt.Sprintf("cstruct.Value{%s: %s}", v.kind, v)
}

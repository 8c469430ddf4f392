package cstruct

import (
	"errors"
	"fmt"
	"math"
)

const padByte = 0

// Errors wrapped by PackError and UnpackError.
var (
	ErrUnimplemented = errors.New("format is not implemented")
	ErrValueCount    = errors.New("wrong number of values for format")
	ErrValueKind     = errors.New("cannot convert value")
	ErrValueRange    = errors.New("value outside valid range")
	ErrShortData     = errors.New("not enough data for format")
)

// PackError describes a failure of packing values.
type PackError struct {
	// Index is the position of the offending value. For ErrValueCount it is
	// the number of values the format consumes.
	Index int
	Op    Op
	Err   error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("cstruct: pack %s at value #%d: %v", e.Op, e.Index, e.Err)
}

func (e *PackError) Unwrap() error { return e.Err }

// UnpackError describes a failure of unpacking bytes.
type UnpackError struct {
	Offset int
	Op     Op
	Err    error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("cstruct: unpack %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

// limits holds accepted range of integer type.
type limits struct {
	signed bool
	min    int64
	max    uint64
}

var integerLimits = map[Type]limits{
	TypeInt8:   {true, math.MinInt8, math.MaxInt8},
	TypeUint8:  {false, 0, math.MaxUint8},
	TypeInt16:  {true, math.MinInt16, math.MaxInt16},
	TypeUint16: {false, 0, MaxUint16},
	TypeInt32:  {true, math.MinInt32, math.MaxInt32},
	TypeUint32: {false, 0, math.MaxUint32},
	TypeInt64:  {true, math.MinInt64, math.MaxInt64},
	TypeUint64: {false, 0, math.MaxUint64},
}

// MaxUint16 is the largest value accepted by the 'H' format.
//
// NOTE: this is narrower than math.MaxUint16. Callers rely on values above it
// being rejected, so the bound is kept as is.
const MaxUint16 = 0xfff

func pointerLimits() limits {
	if pointerSize == 4 {
		return limits{false, 0, math.MaxUint32}
	}
	return limits{false, 0, math.MaxUint64}
}

func (l limits) check(v Value) (uint64, error) {
	switch v.kind {
	case KindInt:
		i := v.Int()
		if l.signed {
			if i < l.min || i > int64(l.max) {
				return 0, ErrValueRange
			}
			return uint64(i), nil
		}
		if i < 0 || uint64(i) > l.max {
			return 0, ErrValueRange
		}
		return uint64(i), nil
	case KindUint:
		if v.bits > l.max {
			return 0, ErrValueRange
		}
		return v.bits, nil
	default:
		return 0, ErrValueKind
	}
}

// encode converts v into its raw representation for op.
func (op Op) encode(v Value) (uint64, error) {
	switch op.Type {
	case TypeChar:
		if v.kind != KindChar {
			return 0, ErrValueKind
		}
		// Only single byte code points are representable.
		if r := v.Char(); r < 0 || r >= 128 {
			return 0, ErrValueRange
		}
		return v.bits, nil
	case TypeBool:
		if v.kind != KindBool {
			return 0, ErrValueKind
		}
		return v.bits, nil
	case TypePointer:
		return pointerLimits().check(v)
	case TypeFloat, TypeDouble:
		return 0, ErrUnimplemented
	}
	l, ok := integerLimits[op.Type]
	if !ok {
		return 0, ErrUnimplemented
	}
	return l.check(v)
}

// decode converts raw bytes value into Value for op.
func (op Op) decode(u uint64) Value {
	switch op.Type {
	case TypeChar:
		return Char(rune(u))
	case TypeBool:
		return Bool(u != 0)
	}
	if l, ok := integerLimits[op.Type]; ok && l.signed {
		shift := 64 - 8*uint(op.Size)
		return Int(int64(u<<shift) >> shift)
	}
	return Uint(u)
}

func (op Op) implemented() bool {
	switch op.Code {
	case OpCString, OpPString:
		return false
	}
	return op.Type != TypeFloat && op.Type != TypeDouble
}

func alignUp(n, size int) int {
	if r := n % size; r != 0 {
		return n + size - r
	}
	return n
}

// Pack packs values according to the program.
func (p *Program) Pack(values ...Value) ([]byte, error) {
	return p.Append(nil, values...)
}

// Append is like Pack but appends packed bytes to dst and returns the extended
// buffer. Alignment is relative to len(dst). On error dst is returned
// unchanged.
func (p *Program) Append(dst []byte, values ...Value) ([]byte, error) {
	var (
		order = NativeEndian
		align = true
		index int
		base  = len(dst)
		buf   = dst
	)
	for _, op := range p.ops {
		switch op.Code {
		case OpStop:
			if index != len(values) {
				return dst, &PackError{index, op, fmt.Errorf("%w: want %d, got %d", ErrValueCount, index, len(values))}
			}
			return buf, nil

		case OpSetEndian:
			order = op.Order

		case OpSetAlign:
			align = op.Align

		case OpSkipPad:
			buf = append(buf, padByte)

		default:
			if index >= len(values) {
				return dst, &PackError{index, op, fmt.Errorf("%w: want at least %d, got %d", ErrValueCount, index+1, len(values))}
			}
			v := values[index]
			index++
			if !op.implemented() {
				return dst, &PackError{index - 1, op, ErrUnimplemented}
			}
			u, err := op.encode(v)
			if err != nil {
				return dst, &PackError{index - 1, op, fmt.Errorf("%w: %#v", err, v)}
			}
			if align && op.Size > 1 {
				for (len(buf)-base)%op.Size != 0 {
					buf = append(buf, padByte)
				}
			}
			buf = appendUint(buf, u, op.Size, order.byteOrder())
		}
	}
	return buf, nil
}

// Unpack decodes data according to the program. Bytes left after the last
// operation are ignored.
func (p *Program) Unpack(data []byte) ([]Value, error) {
	var (
		order  = NativeEndian
		align  = true
		off    int
		values []Value
	)
	for _, op := range p.ops {
		switch op.Code {
		case OpStop:
			return values, nil

		case OpSetEndian:
			order = op.Order

		case OpSetAlign:
			align = op.Align

		case OpSkipPad:
			if off+1 > len(data) {
				return nil, &UnpackError{off, op, ErrShortData}
			}
			off++

		default:
			if !op.implemented() {
				return nil, &UnpackError{off, op, ErrUnimplemented}
			}
			if align && op.Size > 1 {
				off = alignUp(off, op.Size)
			}
			if off+op.Size > len(data) {
				return nil, &UnpackError{off, op, ErrShortData}
			}
			u := readUint(data[off:off+op.Size], order.byteOrder())
			off += op.Size
			values = append(values, op.decode(u))
		}
	}
	return values, nil
}

// Size returns the number of bytes the program packs to. It fails with
// ErrUnimplemented for string formats which have no fixed size.
func (p *Program) Size() (int, error) {
	var (
		align = true
		n     int
	)
	for _, op := range p.ops {
		switch op.Code {
		case OpSetAlign:
			align = op.Align
		case OpCString, OpPString:
			return 0, &UnpackError{n, op, ErrUnimplemented}
		case OpSkipPad:
			n++
		case OpFixed, OpPointer:
			if align && op.Size > 1 {
				n = alignUp(n, op.Size)
			}
			n += op.Size
		}
	}
	return n, nil
}

// Pack compiles format and packs values with it.
func Pack(format string, values ...Value) ([]byte, error) {
	p, err := Compile(format)
	if err != nil {
		return nil, err
	}
	return p.Pack(values...)
}

// Unpack compiles format and unpacks data with it.
func Unpack(format string, data []byte) ([]Value, error) {
	p, err := Compile(format)
	if err != nil {
		return nil, err
	}
	return p.Unpack(data)
}

// Size compiles format and returns its packed size.
func Size(format string) (int, error) {
	p, err := Compile(format)
	if err != nil {
		return 0, err
	}
	return p.Size()
}

func appendUint(buf []byte, u uint64, size int, bo byteOrder) []byte {
	switch size {
	case 1:
		return append(buf, byte(u))
	case 2:
		return bo.AppendUint16(buf, uint16(u))
	case 4:
		return bo.AppendUint32(buf, uint32(u))
	default:
		return bo.AppendUint64(buf, u)
	}
}

func readUint(p []byte, bo byteOrder) uint64 {
	switch len(p) {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(bo.Uint16(p))
	case 4:
		return uint64(bo.Uint32(p))
	default:
		return bo.Uint64(p)
	}
}

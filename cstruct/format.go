/*
Package cstruct converts between values and C struct style binary layouts.

Layouts are described with format strings in the well known fixed-layout
struct notation:

	BYTE ORDER      SIZE            ALIGNMENT
	@   native          native          native
	=   native          standard        none
	<   little-endian   standard        none
	>   big-endian      standard        none
	!   network (BE)    standard        none

	FORMAT  C TYPE              VALUE   SIZE
	x       pad byte            -       1
	c       char                Char    1
	b       signed char         Int     1
	B       unsigned char       Uint    1
	?       _Bool               Bool    1
	h       short               Int     2
	H       unsigned short      Uint    2
	i, l    int                 Int     4
	I, L    unsigned int        Uint    4
	q       long long           Int     8
	Q       unsigned long long  Uint    8
	f       float               -       4
	d       double              -       8
	s, p    char[]              -       -
	P       void *              Uint    4/8

A decimal count before a format character repeats it, so "5c" is the same as
"ccccc". Formats without a byte order marker use native order and native
alignment.

Float, double and string formats are recognized but not implemented: packing
or unpacking them fails with ErrUnimplemented.
*/
package cstruct

import (
	"fmt"
	"sync"
	"unsafe"
)

// maxRepeat limits the repeat count of a single format character.
const maxRepeat = 1 << 20

const pointerSize = int(unsafe.Sizeof(uintptr(0)))

// OpCode represents kind of compiled format operation.
type OpCode uint8

// Operation codes produced by Compile.
const (
	OpStop OpCode = iota
	OpSetEndian
	OpSetAlign
	OpSkipPad
	OpFixed
	OpCString
	OpPString
	OpPointer
)

func (c OpCode) String() string {
	switch c {
	case OpStop:
		return "stop"
	case OpSetEndian:
		return "set-endian"
	case OpSetAlign:
		return "set-align"
	case OpSkipPad:
		return "pad"
	case OpFixed:
		return "fixed"
	case OpCString:
		return "cstring"
	case OpPString:
		return "pstring"
	case OpPointer:
		return "pointer"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(c))
	}
}

// Type is a fixed width value type. It is represented by its canonical format
// character.
type Type byte

// Fixed width types.
const (
	TypeChar    Type = 'c'
	TypeInt8    Type = 'b'
	TypeUint8   Type = 'B'
	TypeBool    Type = '?'
	TypeInt16   Type = 'h'
	TypeUint16  Type = 'H'
	TypeInt32   Type = 'i'
	TypeUint32  Type = 'I'
	TypeInt64   Type = 'q'
	TypeUint64  Type = 'Q'
	TypeFloat   Type = 'f'
	TypeDouble  Type = 'd'
	TypePointer Type = 'P'
)

// Op is a single compiled format operation.
type Op struct {
	Code OpCode

	// Order is meaningful for OpSetEndian only.
	Order Order
	// Align is meaningful for OpSetAlign only.
	Align bool
	// Type is set for OpFixed and OpPointer.
	Type Type
	// Size is the number of bytes consumed by the operation.
	Size int
}

func (op Op) String() string {
	switch op.Code {
	case OpSetEndian:
		return fmt.Sprintf("%s(%s)", op.Code, op.Order)
	case OpSetAlign:
		return fmt.Sprintf("%s(%t)", op.Code, op.Align)
	case OpFixed, OpPointer:
		return fmt.Sprintf("%s(%c)", op.Code, op.Type)
	default:
		return op.Code.String()
	}
}

// Program is a compiled format string.
// It is immutable and safe for concurrent use.
type Program struct {
	format string
	ops    []Op
}

// String returns the format string the program was compiled from.
func (p *Program) String() string { return p.format }

// Ops returns a copy of the program operations. The last operation is always
// OpStop.
func (p *Program) Ops() []Op {
	ret := make([]Op, len(p.ops))
	copy(ret, p.ops)
	return ret
}

// FormatError is returned when a format string could not be compiled.
type FormatError struct {
	Format string
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cstruct: bad format %q at offset %d: %s", e.Format, e.Offset, e.Reason)
}

// programs caches compiled programs by format string. Formats are usually
// literals, so the set of keys stays small.
var programs sync.Map

// Compile parses format and returns its program. Programs are cached, so
// compiling the same format twice returns the same *Program.
func Compile(format string) (*Program, error) {
	if p, ok := programs.Load(format); ok {
		return p.(*Program), nil
	}
	p, err := compile(format)
	if err != nil {
		return nil, err
	}
	v, _ := programs.LoadOrStore(format, p)
	return v.(*Program), nil
}

// MustCompile is like Compile but panics if format cannot be compiled.
func MustCompile(format string) *Program {
	p, err := Compile(format)
	if err != nil {
		panic(err)
	}
	return p
}

func compile(format string) (*Program, error) {
	ops := make([]Op, 0, len(format)+1)
	var (
		count   int
		counted bool
	)
	for i := 0; i < len(format); i++ {
		c := format[i]
		if '0' <= c && c <= '9' {
			count = count*10 + int(c-'0')
			if count > maxRepeat {
				return nil, &FormatError{format, i, "repeat count is too large"}
			}
			counted = true
			continue
		}
		if !counted {
			// Control characters are only valid without a repeat count.
			switch c {
			case '@':
				ops = append(ops, setEndian(NativeEndian), setAlign(true))
				continue
			case '=':
				ops = append(ops, setEndian(NativeEndian), setAlign(false))
				continue
			case '<':
				ops = append(ops, setEndian(LittleEndian), setAlign(false))
				continue
			case '>', '!':
				ops = append(ops, setEndian(BigEndian), setAlign(false))
				continue
			case ' ':
				continue
			}
			count = 1
		}
		op, ok := formatOp(c)
		if !ok {
			return nil, &FormatError{format, i, fmt.Sprintf("bad character %q", c)}
		}
		for j := 0; j < count; j++ {
			ops = append(ops, op)
		}
		count, counted = 0, false
	}
	if counted {
		return nil, &FormatError{format, len(format), "repeat count without format character"}
	}
	ops = append(ops, Op{Code: OpStop})

	return &Program{format: format, ops: ops}, nil
}

func setEndian(o Order) Op   { return Op{Code: OpSetEndian, Order: o} }
func setAlign(on bool) Op    { return Op{Code: OpSetAlign, Align: on} }
func fixed(t Type, n int) Op { return Op{Code: OpFixed, Type: t, Size: n} }

func formatOp(c byte) (Op, bool) {
	switch c {
	case 'x':
		return Op{Code: OpSkipPad, Size: 1}, true
	case 'c':
		return fixed(TypeChar, 1), true
	case '?':
		return fixed(TypeBool, 1), true
	case 'b':
		return fixed(TypeInt8, 1), true
	case 'B':
		return fixed(TypeUint8, 1), true
	case 'h':
		return fixed(TypeInt16, 2), true
	case 'H':
		return fixed(TypeUint16, 2), true
	case 'i', 'l':
		return fixed(TypeInt32, 4), true
	case 'I', 'L':
		return fixed(TypeUint32, 4), true
	case 'q':
		return fixed(TypeInt64, 8), true
	case 'Q':
		return fixed(TypeUint64, 8), true
	case 'f':
		return fixed(TypeFloat, 4), true
	case 'd':
		return fixed(TypeDouble, 8), true
	case 's':
		return Op{Code: OpCString}, true
	case 'p':
		return Op{Code: OpPString}, true
	case 'P':
		return Op{Code: OpPointer, Type: TypePointer, Size: pointerSize}, true
	default:
		return Op{}, false
	}
}

package cstruct

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
)

func chars(s string) []Value {
	ret := make([]Value, 0, len(s))
	for _, r := range s {
		ret = append(ret, Char(r))
	}
	return ret
}

func ints(vs ...int64) []Value {
	ret := make([]Value, len(vs))
	for i, v := range vs {
		ret[i] = Int(v)
	}
	return ret
}

func uints(vs ...uint64) []Value {
	ret := make([]Value, len(vs))
	for i, v := range vs {
		ret[i] = Uint(v)
	}
	return ret
}

func TestPack(t *testing.T) {
	for _, test := range []struct {
		name   string
		format string
		values []Value
		exp    []byte
	}{
		{
			name:   "hello",
			format: "ccccc",
			values: chars("Hello"),
			exp:    []byte("Hello"),
		},
		{
			name:   "hello repeat",
			format: "5c",
			values: chars("Hello"),
			exp:    []byte("Hello"),
		},
		{
			name:   "signed little",
			format: "<bhiq",
			values: ints(-1, -2, -3, -4),
			exp: []byte{
				0xff,
				0xfe, 0xff,
				0xfd, 0xff, 0xff, 0xff,
				0xfc, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			},
		},
		{
			name:   "unsigned little",
			format: "<BHIQ",
			values: ints(1, 2, 3, 4),
			exp: []byte{
				0x01,
				0x02, 0x00,
				0x03, 0x00, 0x00, 0x00,
				0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name:   "big endian",
			format: ">HIQ",
			values: uints(0x0102, 0x03040506, 0x0708090a0b0c0d0e),
			exp:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e},
		},
		{
			name:   "network order",
			format: "!h",
			values: ints(-2),
			exp:    []byte{0xff, 0xfe},
		},
		{
			name:   "align 16",
			format: "@BH",
			values: ints(1, 2),
			exp:    []byte{0x01, 0x00, 0x02, 0x00},
		},
		{
			name:   "align 32",
			format: "@BI",
			values: ints(1, 2),
			exp:    []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
		},
		{
			name:   "align 64",
			format: "@BQ",
			values: ints(1, 2),
			exp: []byte{
				0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name:   "no align",
			format: "<BI",
			values: ints(1, 2),
			exp:    []byte{0x01, 0x02, 0x00, 0x00, 0x00},
		},
		{
			name:   "pad bytes",
			format: "<B2xB",
			values: ints(1, 2),
			exp:    []byte{0x01, 0x00, 0x00, 0x02},
		},
		{
			name:   "bool",
			format: "??",
			values: []Value{Bool(true), Bool(false)},
			exp:    []byte{0x01, 0x00},
		},
		{
			name:   "spaces",
			format: "< B H",
			values: ints(1, 2),
			exp:    []byte{0x01, 0x02, 0x00},
		},
		{
			name:   "switch order",
			format: "<H>H",
			values: ints(1, 1),
			exp:    []byte{0x01, 0x00, 0x00, 0x01},
		},
		{
			name:   "zero count",
			format: "<0cB",
			values: ints(7),
			exp:    []byte{0x07},
		},
		{
			name:   "long aliases",
			format: ">lL",
			values: ints(-1, 1),
			exp:    []byte{0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name:   "uint into signed",
			format: "<b",
			values: uints(0x7f),
			exp:    []byte{0x7f},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			act, err := Pack(test.format, test.values...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(act, test.exp) {
				t.Errorf("Pack(%q) =\n\t%#x\nwant\n\t%#x", test.format, act, test.exp)
			}
		})
	}
}

func TestPackRepeatEquivalence(t *testing.T) {
	values := chars("abcde")
	a, err := Pack("5c", values...)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Pack("ccccc", values...)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("Pack(5c) = %x; Pack(ccccc) = %x", a, b)
	}
}

func TestPackErrors(t *testing.T) {
	for _, test := range []struct {
		name      string
		format    string
		values    []Value
		err       error
		badFormat bool
	}{
		{name: "too few", format: "i", err: ErrValueCount},
		{name: "too many", format: "i", values: ints(1, 2), err: ErrValueCount},
		{name: "marker after count", format: "4@", badFormat: true},
		{name: "space after count", format: "1 i", values: ints(1), badFormat: true},
		{name: "bad char", format: "<z", badFormat: true},
		{name: "dangling count", format: "<B3", values: ints(1), badFormat: true},
		{name: "int8 low", format: "b", values: ints(-129), err: ErrValueRange},
		{name: "int8 high", format: "b", values: ints(128), err: ErrValueRange},
		{name: "uint8 negative", format: "B", values: ints(-1), err: ErrValueRange},
		{name: "uint8 high", format: "B", values: ints(256), err: ErrValueRange},
		{name: "int16 high", format: "h", values: ints(0x8000), err: ErrValueRange},
		{name: "uint16 narrow bound", format: "<H", values: ints(MaxUint16 + 1), err: ErrValueRange},
		{name: "int32 low", format: "i", values: ints(math.MinInt32 - 1), err: ErrValueRange},
		{name: "uint32 high", format: "I", values: ints(math.MaxUint32 + 1), err: ErrValueRange},
		{name: "int64 from huge uint", format: "q", values: uints(math.MaxUint64), err: ErrValueRange},
		{name: "uint64 negative", format: "Q", values: ints(-1), err: ErrValueRange},
		{name: "char kind", format: "c", values: ints(65), err: ErrValueKind},
		{name: "char range", format: "c", values: []Value{Char('é')}, err: ErrValueRange},
		{name: "bool kind", format: "?", values: ints(1), err: ErrValueKind},
		{name: "int kind", format: "i", values: []Value{Bool(true)}, err: ErrValueKind},
		{name: "invalid value", format: "i", values: []Value{{}}, err: ErrValueKind},
		{name: "float", format: "f", values: ints(1), err: ErrUnimplemented},
		{name: "double", format: "d", values: ints(1), err: ErrUnimplemented},
		{name: "cstring", format: "s", values: chars("a"), err: ErrUnimplemented},
		{name: "pstring", format: "p", values: chars("a"), err: ErrUnimplemented},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Pack(test.format, test.values...)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if test.badFormat {
				var fe *FormatError
				if !errors.As(err, &fe) {
					t.Errorf("unexpected error: %v; want *FormatError", err)
				}
				return
			}
			var pe *PackError
			if !errors.As(err, &pe) {
				t.Errorf("unexpected error type %T; want *PackError", err)
			}
			if !errors.Is(err, test.err) {
				t.Errorf("unexpected error: %v; want %v", err, test.err)
			}
		})
	}
}

func TestUnpack(t *testing.T) {
	for _, test := range []struct {
		name   string
		format string
		data   []byte
		exp    []Value
	}{
		{
			name:   "hello",
			format: "ccccc",
			data:   []byte("Hello"),
			exp:    chars("Hello"),
		},
		{
			name:   "hello repeat",
			format: "5c",
			data:   []byte("Hello"),
			exp:    chars("Hello"),
		},
		{
			name:   "big endian",
			format: ">HIQ",
			data:   []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e},
			exp:    uints(0x0102, 0x03040506, 0x0708090a0b0c0d0e),
		},
		{
			name:   "sign extension",
			format: "<bhiq",
			data: []byte{
				0xff,
				0xfe, 0xff,
				0xfd, 0xff, 0xff, 0xff,
				0xfc, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			},
			exp: ints(-1, -2, -3, -4),
		},
		{
			name:   "aligned",
			format: "@BI",
			data:   []byte{0x01, 0xaa, 0xaa, 0xaa, 0x02, 0x00, 0x00, 0x00},
			exp:    uints(1, 2),
		},
		{
			name:   "pad and bool",
			format: "<x??",
			data:   []byte{0xff, 0x00, 0x05},
			exp:    []Value{Bool(false), Bool(true)},
		},
		{
			name:   "trailing bytes",
			format: "<B",
			data:   []byte{0x01, 0x02},
			exp:    uints(1),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			act, err := Unpack(test.format, test.data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(act, test.exp) {
				t.Errorf("Unpack(%q) =\n\t%v\nwant\n\t%v", test.format, act, test.exp)
			}
		})
	}
}

func TestUnpackErrors(t *testing.T) {
	for _, test := range []struct {
		format string
		data   []byte
		err    error
	}{
		{"<H", []byte{0x01}, ErrShortData},
		{"<x", nil, ErrShortData},
		{"@BI", []byte{0x01, 0x00, 0x00, 0x00, 0x02}, ErrShortData},
		{"<f", []byte{0, 0, 0, 0}, ErrUnimplemented},
		{"<d", make([]byte, 8), ErrUnimplemented},
		{"<s", []byte("abc"), ErrUnimplemented},
		{"<p", []byte("abc"), ErrUnimplemented},
	} {
		t.Run(test.format, func(t *testing.T) {
			_, err := Unpack(test.format, test.data)
			if !errors.Is(err, test.err) {
				t.Errorf("Unpack(%q, %x) error = %v; want %v", test.format, test.data, err, test.err)
			}
			var ue *UnpackError
			if !errors.As(err, &ue) {
				t.Errorf("unexpected error type %T; want *UnpackError", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	type bound struct {
		typ      byte
		min, max Value
	}
	bounds := []bound{
		{'b', Int(math.MinInt8), Int(math.MaxInt8)},
		{'B', Uint(0), Uint(math.MaxUint8)},
		{'h', Int(math.MinInt16), Int(math.MaxInt16)},
		{'H', Uint(0), Uint(MaxUint16)},
		{'i', Int(math.MinInt32), Int(math.MaxInt32)},
		{'I', Uint(0), Uint(math.MaxUint32)},
		{'q', Int(math.MinInt64), Int(math.MaxInt64)},
		{'Q', Uint(0), Uint(math.MaxUint64)},
		{'?', Bool(false), Bool(true)},
		{'c', Char(0), Char(127)},
	}
	for _, marker := range []string{"", "@", "=", "<", ">", "!"} {
		for _, b := range bounds {
			format := marker + string(b.typ)
			for _, v := range []Value{b.min, b.max} {
				t.Run(fmt.Sprintf("%s/%v", format, v), func(t *testing.T) {
					p, err := Pack(format, v)
					if err != nil {
						t.Fatalf("Pack error: %v", err)
					}
					act, err := Unpack(format, p)
					if err != nil {
						t.Fatalf("Unpack error: %v", err)
					}
					if len(act) != 1 || act[0] != v {
						t.Errorf("round trip of %v = %v", v, act)
					}
				})
			}
		}
	}
}

func TestCompileCache(t *testing.T) {
	a := MustCompile(">HIQ")
	b := MustCompile(">HIQ")
	if a != b {
		t.Errorf("Compile returned different programs for the same format")
	}
	ops := a.Ops()
	if n := len(ops); n == 0 || ops[n-1].Code != OpStop {
		t.Errorf("program does not end with stop: %v", ops)
	}
	exp := []Op{
		{Code: OpSetEndian, Order: BigEndian},
		{Code: OpSetAlign, Align: false},
		{Code: OpFixed, Type: TypeUint16, Size: 2},
		{Code: OpFixed, Type: TypeUint32, Size: 4},
		{Code: OpFixed, Type: TypeUint64, Size: 8},
		{Code: OpStop},
	}
	if !reflect.DeepEqual(ops, exp) {
		t.Errorf("Ops() =\n\t%v\nwant\n\t%v", ops, exp)
	}
}

func TestSize(t *testing.T) {
	for _, test := range []struct {
		format string
		exp    int
		err    bool
	}{
		{">HIQ", 14, false},
		{"@BH", 4, false},
		{"@BQ", 16, false},
		{"<BQ", 9, false},
		{"3x", 3, false},
		{"<fd", 12, false},
		{"s", 0, true},
	} {
		t.Run(test.format, func(t *testing.T) {
			n, err := Size(test.format)
			if test.err {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != test.exp {
				t.Errorf("Size(%q) = %d; want %d", test.format, n, test.exp)
			}
		})
	}
}

func TestAppendKeepsDst(t *testing.T) {
	p := MustCompile("@BH")
	dst := []byte{0xaa}
	act, err := p.Append(dst, Int(1), Int(2))
	if err != nil {
		t.Fatal(err)
	}
	if exp := []byte{0xaa, 0x01, 0x00, 0x02, 0x00}; !bytes.Equal(act, exp) {
		t.Errorf("Append() = %x; want %x", act, exp)
	}
	res, err := p.Append(dst, Int(1))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !bytes.Equal(res, dst) {
		t.Errorf("Append() on error = %x; want %x", res, dst)
	}
}

package ws

import (
	"github.com/AmatsuZero/Common/cstruct"
	"github.com/AmatsuZero/Common/stream"
)

const (
	// len16 is the largest payload length encoded with the 16-bit extended
	// length form.
	//
	// NOTE: it is narrower than the 0xffff allowed by RFC6455; lengths above
	// it use the 64-bit form. The bound matches cstruct.MaxUint16, which is
	// what the extended length is packed with.
	len16 = int64(cstruct.MaxUint16)
	len64 = int64(^(uint64(0)) >> 1)
)

// HeaderSize returns number of bytes that are needed to encode given header.
// It returns -1 if header is malformed.
func HeaderSize(h Header) (n int) {
	switch {
	case h.Length < 0:
		return -1
	case h.Length < 126:
		n = 2
	case h.Length <= len16:
		n = 4
	default:
		n = 10
	}
	if h.Masked {
		n += 4
	}
	return n
}

// WriteHeader writes header binary representation into w.
func WriteHeader(w *stream.BitWriter, h Header) error {
	var lenBits uint64
	switch {
	case h.Length < 0:
		return ErrHeaderLengthUnexpected
	case h.Length < 126:
		lenBits = uint64(h.Length)
	case h.Length <= len16:
		lenBits = 126
	default:
		lenBits = 127
	}

	w.WriteBit(boolBit(h.Fin))
	w.WriteBits(uint64(h.Rsv), 3)
	w.WriteBits(uint64(h.OpCode), 4)
	w.WriteBit(boolBit(h.Masked))
	w.WriteBits(lenBits, 7)

	var err error
	switch lenBits {
	case 126:
		err = w.U16(uint16(h.Length))
	case 127:
		err = w.U64(uint64(h.Length))
	}
	if err != nil {
		return err
	}

	if h.Masked {
		_, err = w.Write(h.Mask[:])
	}
	return err
}

// WriteFrame writes frame binary representation into w.
func WriteFrame(w *stream.BitWriter, f Frame) error {
	err := WriteHeader(w, f.Header)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Payload)
	return err
}

// CompileFrame returns byte representation of given frame.
// In terms of memory consumption it is useful to precompile static frames
// which are often used.
func CompileFrame(f Frame) ([]byte, error) {
	w := stream.NewBitWriter(cstruct.BigEndian)
	if err := WriteFrame(w, f); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// MustCompileFrame is like CompileFrame but panics if frame cannot be encoded.
func MustCompileFrame(f Frame) []byte {
	bts, err := CompileFrame(f)
	if err != nil {
		panic(err)
	}
	return bts
}

func boolBit(b bool) uint {
	if b {
		return 1
	}
	return 0
}

package ws

import (
	"errors"
	"fmt"

	"github.com/AmatsuZero/Common/cstruct"
	"github.com/AmatsuZero/Common/stream"
)

// Errors used by frame reader.
var (
	ErrHeaderLengthMSB        = fmt.Errorf("header error: the most significant bit must be 0")
	ErrHeaderLengthUnexpected = fmt.Errorf("header error: unexpected payload length bits")

	// ErrIncomplete is returned when the buffer does not hold a whole frame
	// yet. Nothing is consumed in that case.
	ErrIncomplete = errors.New("incomplete frame")
)

// ReadHeader reads a frame header from r.
// If r holds not enough bytes, it returns ErrIncomplete and leaves r's
// position untouched.
func ReadHeader(r *stream.BitReader) (h Header, err error) {
	pos, bit := r.Tell()
	defer func() {
		if err != nil {
			r.Seek(pos, bit)
			if errors.Is(err, stream.ErrShortRead) {
				err = ErrIncomplete
			}
		}
	}()

	// Prepare to hold first 2 bytes to choose size of next read.
	if r.Available() < 2 {
		return h, stream.ErrShortRead
	}
	var (
		fin, _    = r.ReadBit()
		rsv, _    = r.ReadBits(3)
		op, _     = r.ReadBits(4)
		masked, _ = r.ReadBit()
		length, _ = r.ReadBits(7)
	)
	h.Fin = fin == 1
	h.Rsv = byte(rsv)
	h.OpCode = OpCode(op)
	h.Masked = masked == 1

	switch {
	case length < 126:
		h.Length = int64(length)

	case length == 126:
		var n uint16
		if n, err = r.U16(); err != nil {
			return
		}
		h.Length = int64(n)

	default:
		var n uint64
		if n, err = r.U64(); err != nil {
			return
		}
		if n&(1<<63) != 0 {
			err = ErrHeaderLengthMSB
			return
		}
		h.Length = int64(n)
	}

	if h.Masked {
		var p []byte
		if p, err = r.Next(4); err != nil {
			return
		}
		copy(h.Mask[:], p)
	}

	return
}

// ReadFrame reads a whole frame from r. If r holds not enough bytes for it,
// it returns ErrIncomplete and leaves r's position untouched.
//
// Note that ReadFrame does not unmask payload, and that the payload shares
// memory with r's buffer.
func ReadFrame(r *stream.BitReader) (f Frame, err error) {
	pos, bit := r.Tell()
	defer func() {
		if err != nil {
			r.Seek(pos, bit)
		}
	}()

	if f.Header, err = ReadHeader(r); err != nil {
		return
	}
	if f.Header.Length > int64(r.Available()) {
		err = ErrIncomplete
		return
	}
	if f.Header.Length > 0 {
		f.Payload, err = r.Next(int(f.Header.Length))
	}
	return
}

// DecodeFrame decodes one frame from the beginning of p. It returns the frame
// with unmasked payload and the number of bytes consumed. The payload is a
// copy of the bytes in p.
//
// If p does not hold a whole frame, it returns ErrIncomplete and n is zero.
func DecodeFrame(p []byte) (f Frame, n int, err error) {
	r := stream.NewBitReader(p, cstruct.BigEndian)
	if f, err = ReadFrame(r); err != nil {
		return f, 0, err
	}
	f.Payload = append([]byte(nil), f.Payload...)
	if f.Header.Masked {
		Cipher(f.Payload, f.Header.Mask, 0)
	}
	n, _ = r.Tell()
	return f, n, nil
}

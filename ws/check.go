package ws

import "fmt"

// ConnState represents state of the client connection.
type ConnState uint32

// Client connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("ConnState(%d)", uint32(s))
}

// ProtocolError describes error during checking websocket frames received
// from the server.
type ProtocolError error

// Errors used by the protocol checkers.
var (
	ErrProtocolOpCodeReserved         = ProtocolError(fmt.Errorf("use of reserved op code"))
	ErrProtocolControlPayloadOverflow = ProtocolError(fmt.Errorf("control frame payload limit exceeded"))
	ErrProtocolControlNotFinal        = ProtocolError(fmt.Errorf("control frame is not final"))
	ErrProtocolNonZeroRsv             = ProtocolError(fmt.Errorf("non-zero rsv bits with no extension negotiated"))
)

// CheckHeader checks h to contain valid header data for frames received by
// the client. Data frame opcodes are not checked against the fragmentation
// state: a continuation part may repeat the opcode of the first fragment.
//
// See https://tools.ietf.org/html/rfc6455#section-5.2
func CheckHeader(h Header) error {
	if h.OpCode.IsReserved() {
		return ErrProtocolOpCodeReserved
	}
	if h.OpCode.IsControl() {
		if h.Length > MaxControlFramePayloadSize {
			return ErrProtocolControlPayloadOverflow
		}
		if !h.Fin {
			return ErrProtocolControlNotFinal
		}
	}
	if h.Rsv != 0 {
		return ErrProtocolNonZeroRsv
	}
	return nil
}

/*
Package transport defines the byte channel consumed by the ws client and the
dispatcher, and provides two implementations of it.

Conn is a plain TCP or TLS connection established by Dialer. Pipe returns two
connected in-memory ends backed by lock-free queues; its Receive never blocks
and reports iox.ErrWouldBlock when no data is ready.
*/
package transport

import "errors"

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: use of closed transport")

// Transport is a connected byte channel.
type Transport interface {
	// Send writes the whole of p.
	Send(p []byte) error

	// Receive reads available bytes into p. It returns 0 and io.EOF when the
	// peer has closed the channel and ErrClosed after Close was called.
	// Non-blocking implementations return iox.ErrWouldBlock when there is
	// nothing to read yet.
	Receive(p []byte) (int, error)

	// Close closes the channel. It makes pending and future calls to Receive
	// fail. Close is idempotent.
	Close() error
}

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/gobwas/pool/pbufio"
)

// DefaultReadBufferSize is the size of Conn read buffer used when
// Dialer.ReadBufferSize is zero.
const DefaultReadBufferSize = 4096

// DefaultDialer is dialer that holds no options and is used by Dial.
var DefaultDialer Dialer

// Dial is like Dialer{}.Dial().
func Dial(ctx context.Context, secure bool, host string, port int) (*Conn, error) {
	return DefaultDialer.Dial(ctx, secure, host, port)
}

// Dialer contains options for establishing a Conn.
type Dialer struct {
	// Timeout is the maximum amount of time Dial may take, including the TLS
	// handshake. Zero means no timeout other than the context's one.
	Timeout time.Duration

	// ReadBufferSize is the size of the buffer used to read from the
	// connection. If it is zero, DefaultReadBufferSize is used.
	ReadBufferSize int

	// NetDial is the function that is used to get plain tcp connection.
	// If it is not nil, then it is used instead of net.Dialer.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSConfig is passed to tls.Client() to start TLS over established
	// connection. If TLSConfig is non-nil and its ServerName is empty, then for
	// every Dial() it will be cloned and appropriate ServerName will be set.
	TLSConfig *tls.Config
}

var (
	// netEmptyDialer is a net.Dialer without options, used in Dialer.Dial() if
	// Dialer.NetDial is not provided.
	netEmptyDialer net.Dialer
	// tlsEmptyConfig is an empty tls.Config used as default one.
	tlsEmptyConfig tls.Config
)

// Dial connects to host:port, optionally wrapping the connection in TLS.
func (d Dialer) Dial(ctx context.Context, secure bool, host string, port int) (*Conn, error) {
	if t := d.Timeout; t != 0 {
		deadline := time.Now().Add(t)
		if dl, ok := ctx.Deadline(); !ok || deadline.Before(dl) {
			subctx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()
			ctx = subctx
		}
	}
	dial := d.NetDial
	if dial == nil {
		dial = netEmptyDialer.DialContext
	}
	conn, err := dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if secure {
		tc := d.tlsClient(conn, host)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tc
	}
	return NewConn(conn, d.ReadBufferSize), nil
}

func (d Dialer) tlsClient(conn net.Conn, hostname string) *tls.Conn {
	config := d.TLSConfig
	if config == nil {
		config = &tlsEmptyConfig
	}
	if config.ServerName == "" {
		config = config.Clone()
		config.ServerName = hostname
	}
	return tls.Client(conn, config)
}

// Conn is a Transport over net.Conn.
//
// Send may be called concurrently with Receive. Receive must be called from
// one goroutine at a time.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	closed atomix.Uint32
	once   sync.Once
}

// NewConn wraps nc into Conn. Reads are buffered with a pooled reader of
// given size.
func NewConn(nc net.Conn, readBufferSize int) *Conn {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	return &Conn{
		nc: nc,
		br: pbufio.GetReader(nc, readBufferSize),
	}
}

// Send implements Transport.
func (c *Conn) Send(p []byte) error {
	if c.closed.Load() != 0 {
		return ErrClosed
	}
	_, err := c.nc.Write(p)
	return err
}

// Receive implements Transport. It blocks until some bytes are available.
func (c *Conn) Receive(p []byte) (int, error) {
	br := c.br
	if br == nil {
		return 0, ErrClosed
	}
	n, err := br.Read(p)
	if n > 0 {
		return n, nil
	}
	if err != nil {
		// Reader is owned by the receiving goroutine, so it is safe to
		// release it here.
		c.br = nil
		pbufio.PutReader(br)
		if c.closed.Load() != 0 {
			err = ErrClosed
		}
	}
	return 0, err
}

// Close implements Transport.
func (c *Conn) Close() (err error) {
	c.once.Do(func() {
		c.closed.Add(1)
		err = c.nc.Close()
	})
	return err
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

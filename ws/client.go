package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"github.com/eapache/queue"
	"github.com/gobwas/pool/pbytes"

	"github.com/AmatsuZero/Common/cstruct"
	"github.com/AmatsuZero/Common/dispatch"
	"github.com/AmatsuZero/Common/stream"
	"github.com/AmatsuZero/Common/transport"
)

// Constants used by Client.
const (
	DefaultTimeout        = 3 * time.Second
	DefaultReadBufferSize = 4096
)

// Errors wrapped by ConnectError.
var (
	ErrNotDisconnected = errors.New("client is not disconnected")
	ErrInvalidURL      = errors.New("invalid url")
	ErrInvalidScheme   = errors.New("invalid scheme")
	ErrNoSchemeOrPort  = errors.New("neither scheme nor port specified")
	ErrSchemeFromPort  = errors.New("could not derive scheme from port")
	ErrNoDispatcher    = errors.New("no dispatcher")
	ErrConnectAborted  = errors.New("connect aborted by close")
)

// ErrNotConnected is wrapped by SendError when client is not connected.
var ErrNotConnected = errors.New("client is not connected")

// ErrFrameTooLarge is recorded as the disconnect cause when the server
// announces a frame larger than Client.MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// ConnectError is returned by Client.Connect.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ws: connect %q: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is returned by Client.Send.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "ws: send: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// CloseError is recorded as the disconnect cause when the server closes the
// connection with a close frame.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("ws: closed by peer: %d %s", e.Code, e.Reason)
}

// Dispatcher runs a worker for each connection of a Client.
// *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Add(t transport.Transport, poll dispatch.PollFunc) dispatch.ID
	Remove(id dispatch.ID) bool
	RemoveAll()
}

// Client is a websocket client exchanging binary messages with a server.
//
// The fields configure the client and must not be changed after the first
// call to Connect. Client must not be copied after first use.
type Client struct {
	// Dispatcher runs the receive loop of the connection. It is required.
	Dispatcher Dispatcher

	// Dial opens the transport. If nil, transport.Dialer is used.
	Dial func(ctx context.Context, secure bool, host string, port int) (transport.Transport, error)

	// Timeout limits connection establishment. If zero, DefaultTimeout is
	// used. There is no timeout on messages after the handshake.
	Timeout time.Duration

	// ReadBufferSize is the size of a single receive from the transport.
	// If zero, DefaultReadBufferSize is used.
	ReadBufferSize int

	// Key and Protocol are the values of Sec-WebSocket-Key and
	// Sec-WebSocket-Protocol request headers. If empty, DefaultKey and
	// DefaultProtocol are used.
	Key      string
	Protocol string

	// MaxFrameSize limits the payload length of a received frame. A frame
	// announcing a larger payload closes the connection with
	// StatusMessageTooBig. If zero, there is no limit.
	MaxFrameSize int64

	// ScopedClose makes Close remove only this client's connection from the
	// Dispatcher. By default Close tears down every connection registered
	// with the Dispatcher.
	ScopedClose bool

	// Logger receives connection events. If nil, nothing is logged.
	Logger *slog.Logger

	mu    sync.Mutex
	state ConnState
	sess  *session
	hs    Handshake
	err   error
	inbox *queue.Queue

	// wmu serializes writes to the transport.
	wmu sync.Mutex
}

// session holds per connection state owned by the dispatcher worker.
type session struct {
	c    *Client
	t    transport.Transport
	id   dispatch.ID
	log  *slog.Logger
	bo   iox.Backoff
	buf  []byte
	frag []byte
}

// State returns current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handshake returns the result of the last successful handshake.
func (c *Client) Handshake() Handshake {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hs
}

// Err returns the reason of the last disconnect which was not caused by
// Close, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Connect opens a connection to target and sends the upgrade request. The
// handshake completes asynchronously: the state is Connecting until the
// server answers with 101 status.
//
// If target has no scheme, it is derived from port which must be within
// [80, 443]; 443 means "wss". If port is zero, it is taken from target or
// defaults to the scheme's port.
func (c *Client) Connect(ctx context.Context, target string, port int) error {
	u, secure, port, err := parseTarget(target, port)
	if err != nil {
		return &ConnectError{target, err}
	}
	if c.Dispatcher == nil {
		return &ConnectError{target, ErrNoDispatcher}
	}

	log := c.logger().With("target", target)
	s := &session{c: c, log: log}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return &ConnectError{target, ErrNotDisconnected}
	}
	// Publish the session before dialing so Close can abort the attempt.
	c.state = StateConnecting
	c.sess = s
	c.hs = Handshake{}
	c.err = nil
	c.inbox = queue.New()
	c.mu.Unlock()

	log.Debug("connecting", "host", u.Hostname(), "port", port, "secure", secure)

	if err := c.open(ctx, s, u, secure, port); err != nil {
		c.mu.Lock()
		if c.current(s) {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return &ConnectError{target, err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(s) {
		s.t.Close()
		return &ConnectError{target, ErrConnectAborted}
	}
	s.id = c.Dispatcher.Add(s.t, s.poll)

	return nil
}

// open dials the transport for s and writes the upgrade request into it.
// If s is aborted while dialing, the transport is closed.
func (c *Client) open(ctx context.Context, s *session, u *url.URL, secure bool, port int) error {
	ctx, cancel := context.WithTimeout(ctx, nonZero(c.Timeout, DefaultTimeout))
	defer cancel()

	dial := c.Dial
	if dial == nil {
		dial = c.dial
	}
	t, err := dial(ctx, secure, u.Hostname(), port)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ok := c.current(s)
	if ok {
		s.t = t
	}
	c.mu.Unlock()
	if !ok {
		t.Close()
		return ErrConnectAborted
	}

	req := appendUpgradeRequest(nil, u.Host, u.RequestURI(),
		nonEmpty(c.Key, DefaultKey),
		nonEmpty(c.Protocol, DefaultProtocol),
	)
	if err := t.Send(req); err != nil {
		t.Close()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context, secure bool, host string, port int) (transport.Transport, error) {
	d := transport.Dialer{ReadBufferSize: c.ReadBufferSize}
	return d.Dial(ctx, secure, host, port)
}

// Send sends p as a single binary message.
func (c *Client) Send(p []byte) error {
	var t transport.Transport
	c.mu.Lock()
	if c.state == StateConnected {
		t = c.sess.t
	}
	c.mu.Unlock()

	if t == nil {
		return &SendError{ErrNotConnected}
	}
	if err := c.writeFrame(t, NewBinaryFrame(p)); err != nil {
		return &SendError{err}
	}
	return nil
}

// Receive returns the oldest completed message. It returns nil if client is
// not connected or there are no messages.
func (c *Client) Receive() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.inbox.Length() == 0 {
		return nil
	}
	return c.inbox.Remove().([]byte)
}

// Close closes the connection. It is no-op if client is disconnected. If
// Connect is still dialing, that Connect fails with ErrConnectAborted and the
// dialed transport is closed without being registered.
//
// Unless ScopedClose is set, Close also closes every other transport
// registered with the Dispatcher.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	state, s := c.state, c.sess
	t, id := s.t, s.id
	c.state = StateDisconnected
	c.mu.Unlock()

	if t == nil {
		// Still dialing. Connect closes the transport once dial returns.
		s.log.Debug("connect aborted")
		return nil
	}
	if state == StateConnected {
		if err := c.writeFrame(t, NewCloseFrame(StatusNormalClosure, "")); err != nil {
			s.log.Debug("send close frame", "error", err)
		}
	}
	err := t.Close()
	if c.ScopedClose {
		if id != 0 {
			c.Dispatcher.Remove(id)
		}
	} else {
		c.Dispatcher.RemoveAll()
	}
	return err
}

// writeFrame masks f and writes it into t.
func (c *Client) writeFrame(t transport.Transport, f Frame) error {
	bts, err := CompileFrame(MaskFrame(f))
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return t.Send(bts)
}

// current reports whether s is the active session of the client.
// It must be called with c.mu held.
func (c *Client) current(s *session) bool {
	return c.sess == s && c.state != StateDisconnected
}

// poll is called by the dispatcher worker. It returns false when the
// connection is over.
func (s *session) poll(t transport.Transport) bool {
	s.c.mu.Lock()
	ok := s.c.current(s)
	s.c.mu.Unlock()
	if !ok {
		return false
	}

	p := pbytes.GetLen(nonZero(s.c.ReadBufferSize, DefaultReadBufferSize))
	defer pbytes.Put(p)

	n, err := t.Receive(p)
	if iox.IsWouldBlock(err) {
		s.bo.Wait()
		return true
	}
	s.bo.Reset()
	if err == nil && n == 0 {
		err = io.EOF
	}
	if err != nil {
		s.disconnect(err)
		return false
	}
	s.buf = append(s.buf, p[:n]...)

	s.c.mu.Lock()
	state, ok := s.c.state, s.c.current(s)
	s.c.mu.Unlock()
	if !ok {
		return false
	}

	if state == StateConnecting {
		hs, n, err := readResponse(s.buf)
		if err == ErrIncomplete {
			return true
		}
		if err != nil {
			s.log.Warn("handshake rejected", "error", err)
			s.disconnect(err)
			return false
		}
		s.consume(n)

		s.c.mu.Lock()
		if s.c.current(s) {
			s.c.hs = hs
			s.c.state = StateConnected
		}
		s.c.mu.Unlock()
		s.log.Debug("connected", "protocol", hs.Protocol)
	}

	return s.decode()
}

// decode handles every whole frame in the buffer.
func (s *session) decode() bool {
	for {
		if s.tooLarge() {
			s.log.Warn("frame too large", "limit", s.c.MaxFrameSize)
			s.c.writeFrame(s.t, NewCloseFrame(StatusMessageTooBig, ""))
			s.disconnect(ErrFrameTooLarge)
			return false
		}
		f, n, err := DecodeFrame(s.buf)
		if err == ErrIncomplete {
			return true
		}
		if err == nil {
			err = CheckHeader(f.Header)
		}
		if err != nil {
			s.log.Warn("bad frame", "error", err)
			s.c.writeFrame(s.t, NewCloseFrame(StatusProtocolError, ""))
			s.disconnect(err)
			return false
		}
		s.consume(n)

		if f.Header.OpCode.IsData() {
			s.frag = append(s.frag, f.Payload...)
			if f.Header.Fin {
				s.push(s.frag)
				s.frag = nil
			}
			continue
		}

		switch f.Header.OpCode {
		case OpPing:
			if err := s.c.writeFrame(s.t, NewPongFrame(f.Payload)); err != nil {
				s.disconnect(err)
				return false
			}

		case OpPong:

		case OpClose:
			code, reason := ParseCloseFrameData(f.Payload)
			s.c.writeFrame(s.t, NewCloseFrame(code, ""))
			if code.Empty() {
				code = StatusNoStatusRcvd
			}
			s.disconnect(&CloseError{code, reason})
			return false
		}
	}
}

// tooLarge reports whether the buffered frame header announces a payload
// above MaxFrameSize.
func (s *session) tooLarge() bool {
	if s.c.MaxFrameSize <= 0 {
		return false
	}
	h, err := ReadHeader(stream.NewBitReader(s.buf, cstruct.BigEndian))
	return err == nil && h.Length > s.c.MaxFrameSize
}

// consume drops n bytes from the beginning of the buffer.
func (s *session) consume(n int) {
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
}

func (s *session) push(msg []byte) {
	if msg == nil {
		msg = []byte{}
	}
	s.c.mu.Lock()
	if s.c.current(s) {
		s.c.inbox.Add(msg)
	}
	s.c.mu.Unlock()
}

func (s *session) disconnect(err error) {
	s.c.mu.Lock()
	cur := s.c.current(s)
	if cur {
		s.c.state = StateDisconnected
		s.c.err = err
	}
	s.c.mu.Unlock()
	if cur {
		s.log.Debug("disconnected", "error", err)
	}
}

func parseTarget(target string, port int) (u *url.URL, secure bool, _ int, err error) {
	u, err = url.Parse(target)
	if err != nil {
		return nil, false, 0, ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		switch {
		case port == 0:
			return nil, false, 0, ErrNoSchemeOrPort
		case port < 80 || port > 443:
			return nil, false, 0, ErrSchemeFromPort
		case port == 443:
			scheme = "wss"
		default:
			scheme = "ws"
		}
		if u, err = url.Parse("//" + target); err != nil {
			return nil, false, 0, ErrInvalidURL
		}
	}
	switch scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, false, 0, ErrInvalidScheme
	}
	if u.Hostname() == "" {
		return nil, false, 0, ErrInvalidURL
	}
	if port == 0 {
		if p := u.Port(); p != "" {
			if port, err = strconv.Atoi(p); err != nil {
				return nil, false, 0, ErrInvalidURL
			}
		} else if secure {
			port = 443
		} else {
			port = 80
		}
	}
	return u, secure, port, nil
}

func nonZero[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func nonEmpty(v, def string) string { return nonZero(v, def) }

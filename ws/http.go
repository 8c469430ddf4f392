package ws

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
)

// Default values of the fixed handshake request headers.
const (
	DefaultKey      = "NEX"
	DefaultProtocol = "NEX"
)

const (
	crlf          = "\r\n"
	colonAndSpace = ": "

	headerHost        = "Host"
	headerUpgrade     = "Upgrade"
	headerConnection  = "Connection"
	headerSecVersion  = "Sec-WebSocket-Version"
	headerSecProtocol = "Sec-WebSocket-Protocol"
	headerSecKey      = "Sec-WebSocket-Key"
	headerSecExt      = "Sec-WebSocket-Extensions"

	specHeaderValueUpgrade    = "websocket"
	specHeaderValueConnection = "upgrade"
	specHeaderValueSecVersion = "13"
)

var headerTerminator = []byte(crlf + crlf)

// Errors used by the handshake.
var (
	ErrMalformedResponse      = fmt.Errorf("malformed HTTP response")
	ErrHandshakeBadProtocol   = fmt.Errorf("handshake error: bad HTTP protocol version")
	ErrHandshakeBadUpgrade    = fmt.Errorf("handshake error: bad %q header", headerUpgrade)
	ErrHandshakeBadConnection = fmt.Errorf("handshake error: bad %q header", headerConnection)
)

// StatusError contains an unexpected status-line code from the server.
type StatusError int

func (s StatusError) Error() string {
	return "unexpected HTTP response status: " + strconv.Itoa(int(s))
}

// Handshake represents handshake result.
type Handshake struct {
	// Protocol is the subprotocol echoed by the server, if any.
	Protocol string

	// Extensions is the list of extensions the server reported.
	Extensions []httphead.Option
}

// appendUpgradeRequest appends HTTP Upgrade request to bts.
// Empty key or protocol are not written.
func appendUpgradeRequest(bts []byte, host, uri, key, protocol string) []byte {
	bts = append(bts, "GET "...)
	bts = append(bts, uri...)
	bts = append(bts, " HTTP/1.1"+crlf...)
	bts = appendHeader(bts, headerHost, host)
	bts = appendHeader(bts, headerUpgrade, specHeaderValueUpgrade)
	bts = appendHeader(bts, headerConnection, specHeaderValueConnection)
	if key != "" {
		bts = appendHeader(bts, headerSecKey, key)
	}
	bts = appendHeader(bts, headerSecVersion, specHeaderValueSecVersion)
	if protocol != "" {
		bts = appendHeader(bts, headerSecProtocol, protocol)
	}
	return append(bts, crlf...)
}

func appendHeader(bts []byte, k, v string) []byte {
	bts = append(bts, k...)
	bts = append(bts, colonAndSpace...)
	bts = append(bts, v...)
	return append(bts, crlf...)
}

// readResponse parses HTTP response head at the beginning of p. It returns
// the handshake and the number of bytes the head occupies, including the
// blank line. If p does not contain the whole head, it returns ErrIncomplete.
func readResponse(p []byte) (hs Handshake, n int, err error) {
	end := bytes.Index(p, headerTerminator)
	if end == -1 {
		return hs, 0, ErrIncomplete
	}
	n = end + len(headerTerminator)

	// Parsed options refer to the head, so it must not share memory with p.
	head := append([]byte(nil), p[:end]...)
	line, head := cutLine(head)

	resp, ok := httphead.ParseResponseLine(line)
	if !ok {
		return hs, n, ErrMalformedResponse
	}
	if resp.Version.Major != 1 {
		return hs, n, ErrHandshakeBadProtocol
	}
	if resp.Status != 101 {
		return hs, n, StatusError(resp.Status)
	}

	for len(head) > 0 {
		line, head = cutLine(head)
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			return hs, n, ErrMalformedResponse
		}
		switch key := string(k); {
		case strings.EqualFold(key, headerUpgrade):
			if !strings.EqualFold(string(v), specHeaderValueUpgrade) {
				return hs, n, ErrHandshakeBadUpgrade
			}

		case strings.EqualFold(key, headerConnection):
			var upgrade bool
			httphead.ScanTokens(v, func(token []byte) bool {
				upgrade = strings.EqualFold(string(token), specHeaderValueConnection)
				return !upgrade
			})
			if !upgrade {
				return hs, n, ErrHandshakeBadConnection
			}

		case strings.EqualFold(key, headerSecProtocol):
			hs.Protocol = string(v)

		case strings.EqualFold(key, headerSecExt):
			if hs.Extensions, ok = httphead.ParseOptions(v, hs.Extensions); !ok {
				return hs, n, ErrMalformedResponse
			}
		}
	}
	return hs, n, nil
}

func cutLine(p []byte) (line, rest []byte) {
	i := bytes.Index(p, []byte(crlf))
	if i == -1 {
		return p, nil
	}
	return p[:i], p[i+len(crlf):]
}

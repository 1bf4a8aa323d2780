package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
	"github.com/alanbato/nauyaca/internal/logging"
)

// connState names the states of spec.md §4.9's per-connection machine.
type connState int

const (
	stateAwaitRequest connState = iota
	stateReadingTitanBody
	stateResponding
	stateClosed
)

var (
	respRequestTooLarge = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Request too large"}
	respInvalidUTF8     = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Invalid UTF-8"}
	respTimeoutNoBody   = &geministatus.Response{Status: geministatus.TemporaryFailure, Meta: "Timeout"}
	respInternalError   = &geministatus.Response{Status: geministatus.TemporaryFailure, Meta: "Internal error"}
	respTitanDisabled   = &geministatus.Response{Status: geministatus.ProxyError, Meta: "Titan not enabled"}
	respMalformed       = &geministatus.Response{Status: geministatus.BadRequest, Meta: "Malformed request"}
	respRouteNotFound   = &geministatus.Response{Status: geministatus.NotFound, Meta: "Not found"}
)

// conn holds the mutable state of a single accepted connection. Unlike
// the teacher's byte-at-a-time bufio.Reader.ReadByte loop, requests are
// framed by scanning a growing, bounded buffer for CRLF with
// bytes.Index, which needs at most a handful of Read calls instead of
// up to 1024 syscalls per request.
type conn struct {
	server *Server
	rwc    net.Conn
	state  connState
}

func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{server: s, rwc: rwc, state: stateAwaitRequest}
}

func (c *conn) serve(ctx context.Context) {
	defer c.rwc.Close()
	// spec.md §7: an uncaught panic in a handler must become a 40, not
	// take the whole server down with it.
	defer func() {
		if r := recover(); r != nil {
			c.logf(logging.Fields{"panic": fmt.Sprint(r)}, "handler panicked")
			if c.state != stateClosed {
				c.respond(respInternalError)
			}
		}
	}()

	deadline := time.Now().Add(c.server.RequestTimeout)
	_ = c.rwc.SetDeadline(deadline)

	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			c.logf(logging.Fields{"error": err.Error()}, "TLS handshake failed")
			return
		}
		_ = c.rwc.SetDeadline(time.Now().Add(c.server.RequestTimeout))
	}

	requestLine, remainder, reject := c.readRequestLine()
	if reject != nil {
		c.respond(reject)
		return
	}

	req, err := geminiurl.Parse(requestLine, c.allowedSchemes()...)
	if err != nil {
		c.respond(respMalformed)
		return
	}

	ip := remoteIP(c.rwc.RemoteAddr())
	peer := peerCertFromConn(c.rwc)

	if allow, rejectResp := c.server.Middlewares.Process(req, ip, peer); !allow {
		c.respond(rejectResp)
		return
	}

	if req.Scheme == "titan" {
		c.state = stateReadingTitanBody
		c.handleTitan(ctx, req, remainder)
		return
	}

	h := c.server.routeFor(req.Path)
	if h == nil {
		c.respond(respRouteNotFound)
		return
	}
	c.respond(h.Serve(req))
}

// readRequestLine accumulates bytes from the connection until it finds
// a CRLF within the first geminiurl.MaxRequestLine bytes, per spec.md
// §4.9. It returns the request line (including CRLF) and whatever
// bytes were read past it, which for a Titan request are the leading
// bytes of the upload body.
func (c *conn) readRequestLine() (line []byte, remainder []byte, reject *geministatus.Response) {
	buf := make([]byte, 0, geminiurl.MaxRequestLine)
	chunk := make([]byte, 512)

	for {
		if idx := bytes.Index(buf, []byte("\r\n")); idx >= 0 {
			if idx+2 > geminiurl.MaxRequestLine {
				return nil, nil, respRequestTooLarge
			}
			if !utf8.Valid(buf[:idx]) {
				return nil, nil, respInvalidUTF8
			}
			return buf[:idx+2], buf[idx+2:], nil
		}
		if len(buf) >= geminiurl.MaxRequestLine {
			return nil, nil, respRequestTooLarge
		}

		n, err := c.rwc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return nil, nil, respTimeoutNoBody
		}
	}
}

func (c *conn) allowedSchemes() []string {
	if c.server.TitanEnabled {
		return []string{"gemini", "titan"}
	}
	return []string{"gemini"}
}

func (c *conn) handleTitan(ctx context.Context, req *geminiurl.ParsedURL, alreadyRead []byte) {
	if !c.server.TitanEnabled || c.server.TitanHandler == nil {
		c.respond(respTitanDisabled)
		return
	}
	body := io.MultiReader(bytes.NewReader(alreadyRead), c.rwc)
	c.respond(c.server.TitanHandler.Handle(ctx, req, body))
}

func (c *conn) respond(resp *geministatus.Response) {
	c.state = stateResponding
	data, err := geministatus.Encode(*resp)
	if err != nil {
		data, _ = geministatus.Encode(*respInternalError)
	}
	_, _ = c.rwc.Write(data)
	c.state = stateClosed
}

func (c *conn) logf(fields logging.Fields, msg string) {
	if c.server.Logger == nil {
		return
	}
	ip := remoteIP(c.rwc.RemoteAddr())
	f := logging.Fields{"remote": logging.FormatIP(ip, c.server.HashIPs)}
	for k, v := range fields {
		f[k] = v
	}
	c.server.Logger.Warn(msg, f)
}

// peerCertFromConn extracts the leaf peer certificate from a *tls.Conn,
// or nil for a plain net.Conn (e.g. in tests using a pipe).
func peerCertFromConn(rwc net.Conn) *x509.Certificate {
	tlsConn, ok := rwc.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0]
}

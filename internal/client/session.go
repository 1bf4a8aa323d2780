// Package client implements the Gemini/Titan client session of
// spec.md §4.10: a single blocking request per call, TOFU
// verification against the peer certificate, and bounded redirect
// following.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
	"github.com/alanbato/nauyaca/internal/tlsutil"
	"github.com/alanbato/nauyaca/internal/tofu"
)

// DefaultMaxRedirects matches the original implementation's
// MAX_REDIRECTS constant.
const DefaultMaxRedirects = 5

// ErrTOFUFirstUseForbidden is returned when a host has no stored
// fingerprint and TrustOnFirstUse is false.
var ErrTOFUFirstUseForbidden = errors.New("client: certificate not trusted and trust-on-first-use is disabled")

// ErrRedirectLoop is returned when a redirect chain revisits a URL.
var ErrRedirectLoop = errors.New("client: redirect loop detected")

// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("client: too many redirects")

// ErrNonGeminiRedirect is returned when a redirect target downgrades
// away from the gemini scheme. Cross-host redirects are allowed
// (spec.md leaves that unspecified and the original implementation's
// _fetch_with_redirects never checks host); only a scheme change is
// refused.
var ErrNonGeminiRedirect = errors.New("client: refusing redirect to a non-gemini scheme")

// Session is a configured Gemini/Titan client.
type Session struct {
	Timeout         time.Duration
	MaxRedirects    int
	TrustOnFirstUse bool
	Store           *tofu.Store
	ClientCert      *tls.Certificate
}

// New constructs a Session with the given TOFU store and defaults
// matching spec.md §4.10.
func New(store *tofu.Store) *Session {
	return &Session{
		Timeout:         30 * time.Second,
		MaxRedirects:    DefaultMaxRedirects,
		TrustOnFirstUse: true,
		Store:           store,
	}
}

func dial(ctx context.Context, network, addr string, cfg *tls.Config) (*tls.Conn, error) {
	d := &tls.Dialer{Config: cfg}
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return c.(*tls.Conn), nil
}

// Get fetches rawURL. If MaxRedirects is 0, redirects are not
// followed at all and the raw 3x response is returned to the caller;
// otherwise up to MaxRedirects redirects are followed before
// ErrTooManyRedirects.
func (s *Session) Get(ctx context.Context, rawURL string) (*geministatus.Response, error) {
	return s.fetchWithRedirects(ctx, rawURL, 0, map[string]struct{}{})
}

// Upload sends body to rawURL as a Titan upload with the given mime
// and token, returning the parsed Gemini response.
func (s *Session) Upload(ctx context.Context, rawURL string, body []byte, mimeType, token string) (*geministatus.Response, error) {
	req, err := geminiurl.Parse([]byte(rawURL+"\r\n"), "gemini", "titan")
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	titanLine := titanRequestLine(req, int64(len(body)), mimeType, token)
	return s.roundTrip(ctx, req.Host, req.Port, titanLine, body)
}

// Delete removes the resource at rawURL: a Titan upload with an empty
// body and size=0, per spec.md §4.10.
func (s *Session) Delete(ctx context.Context, rawURL string, token string) (*geministatus.Response, error) {
	req, err := geminiurl.Parse([]byte(rawURL+"\r\n"), "gemini", "titan")
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	titanLine := titanRequestLine(req, 0, "", token)
	return s.roundTrip(ctx, req.Host, req.Port, titanLine, nil)
}

func titanRequestLine(req *geminiurl.ParsedURL, size int64, mimeType, token string) string {
	line := fmt.Sprintf("titan://%s%s;size=%d", req.Host, req.Path, size)
	if mimeType != "" {
		line += ";mime=" + mimeType
	}
	if token != "" {
		line += ";token=" + token
	}
	return line + "\r\n"
}

func (s *Session) fetchWithRedirects(ctx context.Context, rawURL string, hop int, visited map[string]struct{}) (*geministatus.Response, error) {
	if _, seen := visited[rawURL]; seen {
		return nil, fmt.Errorf("%w: %s", ErrRedirectLoop, rawURL)
	}
	visited[rawURL] = struct{}{}

	req, err := geminiurl.Parse([]byte(rawURL+"\r\n"), "gemini")
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}

	resp, err := s.roundTrip(ctx, req.Host, req.Port, req.String()+"\r\n", nil)
	if err != nil {
		return nil, err
	}

	if geministatus.IsRedirect(resp.Status) && s.followRedirects() {
		if hop >= s.maxRedirects() {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRedirects, rawURL)
		}
		target := resp.Meta
		if !hasGeminiScheme(target) && hasSchemePrefix(target) {
			return nil, fmt.Errorf("%w: %s", ErrNonGeminiRedirect, target)
		}
		resolved := resolveRedirect(req, target)
		return s.fetchWithRedirects(ctx, resolved, hop+1, visited)
	}

	return resp, nil
}

func hasGeminiScheme(u string) bool {
	return len(u) >= 8 && u[:8] == "gemini:/"
}

func hasSchemePrefix(u string) bool {
	for i := 0; i < len(u); i++ {
		if u[i] == ':' {
			return i > 0
		}
		if !isSchemeChar(u[i]) {
			return false
		}
	}
	return false
}

func isSchemeChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '+' || b == '-' || b == '.'
}

func resolveRedirect(base *geminiurl.ParsedURL, target string) string {
	if hasSchemePrefix(target) {
		return target
	}
	if len(target) > 0 && target[0] == '/' {
		return fmt.Sprintf("gemini://%s%s", net.JoinHostPort(base.Host, strconv.Itoa(base.Port)), target)
	}
	dir := base.Path
	if idx := lastSlash(dir); idx >= 0 {
		dir = dir[:idx+1]
	}
	return fmt.Sprintf("gemini://%s%s%s", net.JoinHostPort(base.Host, strconv.Itoa(base.Port)), dir, target)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// followRedirects reports whether redirects should be followed at
// all. MaxRedirects == 0 means "disabled", matching curl's
// --max-redirs 0: the raw redirect response is returned rather than
// followed or treated as an error.
func (s *Session) followRedirects() bool {
	return s.MaxRedirects != 0
}

func (s *Session) maxRedirects() int {
	if s.MaxRedirects < 0 {
		return DefaultMaxRedirects
	}
	return s.MaxRedirects
}

// roundTrip dials host:port, performs TOFU verification, sends
// requestLine (and body, for Titan uploads), and parses the response.
func (s *Session) roundTrip(ctx context.Context, host string, port int, requestLine string, body []byte) (*geministatus.Response, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsCfg := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // TOFU replaces CA verification by design.
	if s.ClientCert != nil {
		tlsCfg.Certificates = []tls.Certificate{*s.ClientCert}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dial(dialCtx, "tcp", addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	der := tlsutil.PeerCertificateDER(conn.ConnectionState())
	if err := s.verifyTOFU(host, port, der); err != nil {
		return nil, err
	}

	if _, err := io.WriteString(conn, requestLine); err != nil {
		return nil, fmt.Errorf("client: write request: %w", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return nil, fmt.Errorf("client: write body: %w", err)
		}
	}

	data, err := io.ReadAll(conn)
	if err != nil && len(data) == 0 {
		return nil, fmt.Errorf("client: read response: %w", err)
	}

	status, meta, remainder, err := geministatus.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("client: malformed response header: %w", err)
	}

	resp := &geministatus.Response{Status: status, Meta: meta}
	if geministatus.IsSuccess(status) {
		resp.Body = remainder
	}
	return resp, nil
}

func (s *Session) verifyTOFU(host string, port int, der []byte) error {
	if s.Store == nil || der == nil {
		return nil
	}
	result, err := s.Store.Verify(host, port, der)
	if result == tofu.ResultChanged {
		// err is a *CertificateChangedError here; the client session
		// surfaces it verbatim rather than wrapping it, so callers can
		// errors.As it directly.
		return err
	}
	if err != nil {
		return fmt.Errorf("client: tofu verify: %w", err)
	}
	switch result {
	case tofu.ResultFirstUse:
		if !s.TrustOnFirstUse {
			return fmt.Errorf("%w: %s:%d", ErrTOFUFirstUseForbidden, host, port)
		}
		return s.Store.Trust(host, port, der)
	default:
		return nil
	}
}

// Package server implements the Gemini/Titan connection protocol of
// spec.md §4.9: the accept loop, the per-connection state machine, and
// the route/middleware dispatch that sits between them and the
// handlers in internal/handler.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
	"github.com/alanbato/nauyaca/internal/logging"
	"github.com/alanbato/nauyaca/internal/middleware"
)

// DefaultRequestTimeout bounds the time from TLS handshake completion
// to response flush, per spec.md §4.9.
const DefaultRequestTimeout = 30 * time.Second

// DefaultDrainTimeout bounds graceful shutdown's wait for in-flight
// connections before force-closing.
const DefaultDrainTimeout = 10 * time.Second

// DefaultEvictionInterval is how often Serve sweeps middleware state
// for idle entries, per spec.md §4.6/§9.
const DefaultEvictionInterval = time.Minute

// Handler serves a single Gemini request already routed to it. It
// never returns an error: every failure maps to a Gemini response, the
// same contract internal/handler's types honor.
type Handler interface {
	Serve(req *geminiurl.ParsedURL) *geministatus.Response
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req *geminiurl.ParsedURL) *geministatus.Response

// Serve implements Handler.
func (f HandlerFunc) Serve(req *geminiurl.ParsedURL) *geministatus.Response { return f(req) }

// TitanHandler serves a Titan upload once its declared body has been
// read off the wire, per spec.md §4.8.
type TitanHandler interface {
	Handle(ctx context.Context, req *geminiurl.ParsedURL, body io.Reader) *geministatus.Response
}

// Route binds a Handler to every request path beginning with Prefix.
// Routes are matched in order, first match wins — the same explicit,
// data-driven ordering internal/middleware.CertAuth uses, so an
// operator can carve exceptions out of a broader prefix by listing the
// narrower route first.
type Route struct {
	Prefix  string
	Handler Handler
}

// Server accepts TLS connections and drives spec.md §4.9's connection
// state machine over each one.
type Server struct {
	Addr         string
	TLSConfig    *tls.Config
	Middlewares  middleware.Chain
	Routes       []Route
	TitanEnabled bool
	TitanHandler TitanHandler

	RequestTimeout   time.Duration
	DrainTimeout     time.Duration
	EvictionInterval time.Duration

	Logger  logging.Logger
	HashIPs bool

	listener net.Listener
}

// ListenAndServe binds Addr and serves until ctx is cancelled, then
// drains in-flight connections up to DrainTimeout before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.Addr, s.TLSConfig)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop over an already-bound listener. Splitting
// this out from ListenAndServe mirrors the teacher's own
// Server.Serve(l net.Listener), and lets tests bind an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.DrainTimeout <= 0 {
		s.DrainTimeout = DefaultDrainTimeout
	}
	if s.Logger == nil {
		s.Logger = logging.NewDefault()
	}
	if s.EvictionInterval <= 0 {
		s.EvictionInterval = DefaultEvictionInterval
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-groupCtx.Done()
		return ln.Close()
	})

	group.Go(func() error {
		ticker := time.NewTicker(s.EvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				s.Middlewares.EvictIdle()
			}
		}
	})

	for {
		rw, err := ln.Accept()
		if err != nil {
			select {
			case <-groupCtx.Done():
				return waitDrain(group, s.DrainTimeout)
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		c := s.newConn(rw)
		group.Go(func() error {
			c.serve(groupCtx)
			return nil
		})
	}
}

func waitDrain(group *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return nil
	}
}

// routeFor returns the first route whose Prefix matches path, or nil.
func (s *Server) routeFor(path string) Handler {
	for _, r := range s.Routes {
		if hasPrefix(path, r.Prefix) {
			return r.Handler
		}
	}
	return nil
}

func hasPrefix(path, prefix string) bool {
	if len(prefix) > len(path) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func remoteIP(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Package middleware implements the three orthogonal request filters
// of spec.md §4.6 — access control, rate limiting, and certificate
// authorization — behind a small capability interface, plus the
// ordered Chain that runs them and short-circuits on first reject.
package middleware

import (
	"crypto/x509"
	"net"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
)

// Middleware decides whether a request may proceed. When it rejects,
// it supplies the exact response the connection layer should emit.
type Middleware interface {
	Process(req *geminiurl.ParsedURL, ip net.IP, peerCert *x509.Certificate) (allow bool, reject *geministatus.Response)
}

// Chain runs an ordered list of Middleware, short-circuiting on the
// first one that rejects. Order is explicit and data-driven: the
// caller decides which filters run and in what order, matching
// spec.md §9's "order is explicit and data-driven from configuration."
type Chain []Middleware

// Process runs every middleware in order. If all allow, it returns
// (true, nil). The first rejection short-circuits the chain.
func (c Chain) Process(req *geminiurl.ParsedURL, ip net.IP, peerCert *x509.Certificate) (bool, *geministatus.Response) {
	for _, m := range c {
		if allow, reject := m.Process(req, ip, peerCert); !allow {
			return false, reject
		}
	}
	return true, nil
}

// Evictor is implemented by any Middleware that accumulates per-key
// state needing periodic cleanup, such as RateLimiter's idle buckets.
type Evictor interface {
	EvictIdle()
}

// EvictIdle calls EvictIdle on every member of the chain that
// implements Evictor. Members that don't (CIDR access control,
// certificate authorization) are skipped.
func (c Chain) EvictIdle() {
	for _, m := range c {
		if e, ok := m.(Evictor); ok {
			e.EvictIdle()
		}
	}
}

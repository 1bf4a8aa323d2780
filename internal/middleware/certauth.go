package middleware

import (
	"crypto/x509"
	"net"
	"strings"

	"github.com/alanbato/nauyaca/internal/certutil"
	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
)

// PathRule is one entry in an ordered client-certificate policy list.
// The matcher is deliberately "first prefix match wins," not "most
// specific match wins" — this lets an operator carve a public hole out
// of an otherwise protected prefix by placing the more specific,
// unprotected rule first. See spec.md §9.
type PathRule struct {
	Prefix              string
	RequireCert         bool
	AllowedFingerprints map[string]struct{} // nil or empty means "any cert with RequireCert satisfied"
}

// CertAuth implements spec.md §4.6's path-scoped client-certificate
// authorization filter.
type CertAuth struct {
	Rules []PathRule
}

var _ Middleware = (*CertAuth)(nil)

var (
	certRequired     = &geministatus.Response{Status: geministatus.ClientCertificateRequired, Meta: "Certificate required"}
	certUnauthorised = &geministatus.Response{Status: geministatus.CertificateNotAuthorised, Meta: "Certificate not authorised"}
)

// Process implements Middleware.
func (c *CertAuth) Process(req *geminiurl.ParsedURL, _ net.IP, peerCert *x509.Certificate) (bool, *geministatus.Response) {
	rule, ok := c.matchRule(req.Path)
	if !ok {
		return true, nil
	}
	if !rule.RequireCert {
		return true, nil
	}
	if peerCert == nil {
		return false, certRequired
	}
	if len(rule.AllowedFingerprints) == 0 {
		return true, nil
	}
	fp := certutil.Fingerprint(peerCert.Raw)
	if _, ok := rule.AllowedFingerprints[fp]; !ok {
		return false, certUnauthorised
	}
	return true, nil
}

func (c *CertAuth) matchRule(path string) (PathRule, bool) {
	for _, r := range c.Rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return PathRule{}, false
}

package middleware

import (
	"crypto/x509"
	"net"

	"github.com/alanbato/nauyaca/internal/geministatus"
	"github.com/alanbato/nauyaca/internal/geminiurl"
)

// AccessControl implements spec.md §4.6's CIDR allow/deny filter.
// Processing order is fixed: deny_list always wins, then allow_list is
// consulted only if not denied, then DefaultAllow applies only if
// neither list matched.
type AccessControl struct {
	Enabled      bool
	AllowList    []*net.IPNet
	DenyList     []*net.IPNet
	DefaultAllow bool
}

var accessDenied = &geministatus.Response{Status: geministatus.ProxyRequestRefused, Meta: "Access denied"}

// Process implements Middleware.
func (a *AccessControl) Process(_ *geminiurl.ParsedURL, ip net.IP, _ *x509.Certificate) (bool, *geministatus.Response) {
	if !a.Enabled {
		return true, nil
	}

	if matchesAny(ip, a.DenyList) {
		return false, accessDenied
	}
	if len(a.AllowList) > 0 {
		if matchesAny(ip, a.AllowList) {
			return true, nil
		}
		return false, accessDenied
	}
	if a.DefaultAllow {
		return true, nil
	}
	return false, accessDenied
}

func matchesAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseCIDRList parses a slice of CIDR strings (IPv4 or IPv6) into
// *net.IPNet values, returning the first parse error encountered.
func ParseCIDRList(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

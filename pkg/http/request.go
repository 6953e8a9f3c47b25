package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownSource is returned when a request carries no usable peer address.
const UnknownSource = "unknown"

// IPConfig holds the proxy ranges whose forwarding headers are trusted.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies

	prefixes []netip.Prefix
	parsed   bool
}

// NewIPConfig parses the trusted proxy ranges once. Invalid ranges are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	c := &IPConfig{TrustedProxies: trustedProxies}
	c.prefixes = parsePrefixes(trustedProxies)
	c.parsed = true
	return c
}

func (c *IPConfig) trustedPrefixes() []netip.Prefix {
	if c == nil {
		return nil
	}
	if c.parsed {
		return c.prefixes
	}
	return parsePrefixes(c.TrustedProxies)
}

// ExtractClientIP returns the source address used to key attempt tracking
// and to bind sessions. Forwarding headers are honoured only when the peer
// sits inside a trusted proxy range; otherwise the peer address wins.
// Addresses are normalised so an IPv4-mapped IPv6 peer and its IPv4 form
// share a key.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote, ok := peerAddr(r)
	if !ok {
		if r.RemoteAddr == "" {
			return UnknownSource
		}
		return r.RemoteAddr
	}

	if trusted(remote, config.trustedPrefixes()) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
					return addr.Unmap().WithZone("").String()
				}
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			if addr, err := netip.ParseAddr(xri); err == nil {
				return addr.Unmap().WithZone("").String()
			}
		}
	}

	return remote.String()
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func trusted(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes
}

package relay

import (
	"net"
	"net/http"
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	// DefaultMobileProxyMarker matches user agents of compressing mobile
	// proxies that append their own hop to the forwarded chain.
	DefaultMobileProxyMarker = "mini"
	fallbackIP               = "127.0.0.1"
)

// forwardedHeaders are scanned in order; the first non-empty one wins.
var forwardedHeaders = []string{
	"X-Forwarded-For",
	"Forwarded-For",
	"X-Forwarded",
	"Forwarded",
	"Client-Ip",
	"Forwarded-For-Ip",
	"Cf-Connecting-Ip",
	"Proxy-Connection",
}

// IPResolver picks the visitor address out of proxy headers.
type IPResolver struct {
	marker *regexp2.Regexp
}

// DefaultIPResolver uses DefaultMobileProxyMarker.
var DefaultIPResolver = MustIPResolver(DefaultMobileProxyMarker)

// NewIPResolver compiles marker as a case-insensitive pattern. An empty marker
// disables the mobile proxy rule.
func NewIPResolver(marker string) (*IPResolver, error) {
	if marker == "" {
		return &IPResolver{}, nil
	}
	re, err := regexp2.Compile(marker, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexMatchTimeout
	return &IPResolver{marker: re}, nil
}

// MustIPResolver is like NewIPResolver but panics on a bad pattern.
func MustIPResolver(marker string) *IPResolver {
	r, err := NewIPResolver(marker)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *IPResolver) isMobileProxy(userAgent string) bool {
	if r == nil || r.marker == nil || userAgent == "" {
		return false
	}
	ok, err := r.marker.MatchString(userAgent)
	return err == nil && ok
}

// Resolve returns the visitor IP. The first element of the forwarded chain is
// used, except behind a mobile proxy where it is the second-from-last hop once
// the direct peer is counted, which is always the last forwarded hop: for
// "1.1.1.1, 2.2.2.2, 3.3.3.3" that is 3.3.3.3. Hops that are not IP addresses
// are ignored. Without proxy headers the peer address is used, then 127.0.0.1.
func (r *IPResolver) Resolve(header http.Header, remoteAddr string) string {
	for _, name := range forwardedHeaders {
		chain := splitChain(header.Get(name))
		if len(chain) == 0 {
			continue
		}
		if r.isMobileProxy(header.Get("User-Agent")) {
			hops := append(chain, peerHost(remoteAddr))
			return hops[len(hops)-2]
		}
		return chain[0]
	}
	if p := peerHost(remoteAddr); p != "" {
		return p
	}
	return fallbackIP
}

func splitChain(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var chain []string
	for _, part := range strings.Split(raw, ",") {
		if hop := normalizeHop(part); hop != "" {
			chain = append(chain, hop)
		}
	}
	return chain
}

// normalizeHop accepts bare addresses and RFC 7239 "for=" elements. Anything
// that does not parse as an IP yields "".
func normalizeHop(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && strings.EqualFold(k, "for") {
			s = v
			break
		}
	}
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end > 0 {
			s = s[1:end]
		}
	} else if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if net.ParseIP(s) == nil {
		return ""
	}
	return s
}

// PeerHost returns the host part of a connection's remote address.
func PeerHost(remoteAddr string) string {
	return peerHost(remoteAddr)
}

func peerHost(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

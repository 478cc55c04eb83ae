package storeguard

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/yourusername/storeguard/core"
)

const (
	// UnknownIP is the key used when no client address can be found
	UnknownIP = "unknown-ip"

	// SessionCookie is consulted by the user identifier
	SessionCookie = "session"

	// SessionIDCookie is consulted by the session identifier
	SessionIDCookie = "session-id"

	// tokenPrefixLen is how much of a bearer token becomes the user key
	tokenPrefixLen = 20
)

// KeyFunc derives a client key for the custom identifier.
// Returning false falls back to the client IP.
type KeyFunc func(*http.Request) (string, bool)

// Resolver maps a request to a stable client key.
// It never fails: missing data degrades to a coarser key.
type Resolver struct {
	trustForwarded bool
	trustedProxies []netip.Prefix
	custom         KeyFunc
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// TrustForwardedHeaders honours X-Forwarded-For and X-Real-IP from every peer.
// Only safe behind a proxy that overwrites those headers.
func TrustForwardedHeaders() ResolverOption {
	return func(r *Resolver) {
		r.trustForwarded = true
	}
}

// WithTrustedProxies honours forwarding headers only from these peers
func WithTrustedProxies(prefixes ...netip.Prefix) ResolverOption {
	return func(r *Resolver) {
		r.trustedProxies = append(r.trustedProxies, prefixes...)
	}
}

// WithCustomKey sets the KeyFunc used by the custom identifier
func WithCustomKey(fn KeyFunc) ResolverOption {
	return func(r *Resolver) {
		r.custom = fn
	}
}

// NewResolver creates a resolver. By default forwarding headers are ignored
// and the peer address is used.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseTrustedProxies parses CIDRs and bare IPs into prefixes
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: trusted proxy %q: %v", ErrInvalidConfig, entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy %q: %v", ErrInvalidConfig, entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Resolve returns the client key for the given identifier kind
func (res *Resolver) Resolve(r *http.Request, identifier core.Identifier) string {
	switch identifier {
	case core.IdentifierUser:
		if token := bearerToken(r); token != "" {
			if len(token) > tokenPrefixLen {
				token = token[:tokenPrefixLen]
			}
			return token
		}
		if value := cookieValue(r, SessionCookie); value != "" {
			return value
		}
	case core.IdentifierSession:
		if value := cookieValue(r, SessionIDCookie); value != "" {
			return value
		}
	case core.IdentifierCustom:
		if res.custom != nil {
			if key, ok := res.custom(r); ok && key != "" {
				return key
			}
		}
	}
	return res.ClientIP(r)
}

// ClientIP returns the client address. Forwarding headers are read only
// when the peer is trusted; then the first X-Forwarded-For entry wins,
// then X-Real-IP, then UnknownIP. Parseable addresses come back in
// canonical form so "2001:DB8::1" and "2001:db8::1" share one key.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := peerAddr(r)

	if res.trusts(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return canonicalIP(ip)
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return canonicalIP(xri)
		}
		return UnknownIP
	}

	if peer == "" {
		return UnknownIP
	}
	return canonicalIP(peer)
}

// canonicalIP formats ip the way netip does, or returns it unchanged
// when it does not parse
func canonicalIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	return addr.String()
}

func (res *Resolver) trusts(peer string) bool {
	if res.trustForwarded {
		return true
	}
	if len(res.trustedProxies) == 0 || peer == "" {
		return false
	}

	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range res.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr strips the port from RemoteAddr
func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port in some edge cases
		host = r.RemoteAddr
	}
	return strings.TrimSpace(host)
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

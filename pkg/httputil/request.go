package httputil

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/platinummonkey/billingportal/pkg/contextkeys"
)

// TrustedProxies is the set of hops allowed to report a client address in
// X-Forwarded-For or X-Real-IP. A nil set trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies parses IP addresses and CIDR ranges. Blank entries are
// skipped; no entries at all yields a nil set.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Trusts reports whether addr is a trusted hop
func (t *TrustedProxies) Trusts(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the originating client address. Forwarding headers are
// only read when the connection comes from a trusted hop; X-Forwarded-For is
// then walked right to left and the first untrusted entry wins.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	remote := remoteHost(r)
	if !t.Trusts(parseAddr(remote)) {
		return remote
	}

	if hops := forwardedFor(r); len(hops) > 0 {
		client := remote
		for i := len(hops) - 1; i >= 0; i-- {
			addr := parseAddr(hops[i])
			if !addr.IsValid() {
				break
			}
			client = addr.String()
			if !t.Trusts(addr) {
				break
			}
		}
		return client
	}

	if addr := parseAddr(r.Header.Get("X-Real-IP")); addr.IsValid() {
		return addr.String()
	}
	return remote
}

// ClientIP returns the connection's remote address. Forwarding headers are
// ignored; use TrustedProxies.ClientIP behind a proxy.
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

// RequestClientIP returns the client address stored by the request context
// middleware, or the remote address when there is none
func RequestClientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	return hops
}

func parseAddr(s string) netip.Addr {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

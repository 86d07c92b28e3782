// internal/config/proxy.go
//
// Reverse-proxy trust rule.
//
// Context
// -------
// In the compose deployment nginx terminates TLS and forwards to the app.
// Only requests whose direct peer is nginx may tell us the real client
// address through X-Forwarded-For.  The proxy's address is not known ahead
// of time, so it is resolved once at startup.
//
// Resolution is best-effort.  Any failure yields no rule, which makes the
// application ignore forwarded headers entirely; that is the safe default
// when running without the proxy (tests, local runs).
package config

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	defaultProxyHostname = "nginx"
	forwardedForHeader   = "X-Forwarded-For"
	proxyLookupTimeout   = 2 * time.Second
)

// Resolver is the subset of *net.Resolver used for proxy lookup.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ProxyRule lists the peers trusted to set Header.
type ProxyRule struct {
	Hostname string       `json:"hostname"`
	Header   string       `json:"header"`
	Addrs    []netip.Addr `json:"addrs"`
}

// Trusts reports whether addr is one of the proxy addresses.  A nil rule
// trusts nobody.
func (r *ProxyRule) Trusts(addr netip.Addr) bool {
	if r == nil {
		return false
	}
	addr = addr.Unmap()
	for _, a := range r.Addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// ResolveTrustedProxy looks up hostname and returns a rule for its
// addresses, or nil when the lookup fails or returns nothing.  It never
// returns an error.
func ResolveTrustedProxy(ctx context.Context, r Resolver, hostname string) *ProxyRule {
	if r == nil || hostname == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, proxyLookupTimeout)
	defer cancel()

	addrs, err := r.LookupNetIP(ctx, "ip", hostname)
	if err != nil || len(addrs) == 0 {
		return nil
	}

	out := make([]netip.Addr, 0, len(addrs))
	seen := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return &ProxyRule{Hostname: hostname, Header: forwardedForHeader, Addrs: out}
}

// parseNetworks parses a list of CIDR prefixes.  Bare addresses are
// accepted as single-host prefixes.
func parseNetworks(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, it := range items {
		if !strings.Contains(it, "/") {
			a, err := netip.ParseAddr(it)
			if err != nil {
				return nil, fmt.Errorf("network %q: %w", it, err)
			}
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(it)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", it, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

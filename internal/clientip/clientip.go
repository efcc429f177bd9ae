// Package clientip resolves the address of the caller behind an optional chain of trusted proxies.
package clientip

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Unknown is returned when no address can be determined.
const Unknown = "unknown"

// Proxies is the set of networks whose forwarding headers are believed. The zero value and a
// nil *Proxies trust nobody, so the peer address is always used.
type Proxies struct {
	prefixes []netip.Prefix
}

// ParseProxies parses a comma-separated list of CIDRs or bare addresses. Empty input trusts nobody.
func ParseProxies(list string) (*Proxies, error) {
	p := &Proxies{}
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			p.prefixes = append(p.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

// Trusts reports whether ip falls inside a trusted network.
func (p *Proxies) Trusts(ip string) bool {
	if p == nil || len(p.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the client address for a connection from peer carrying the given
// X-Forwarded-For and X-Real-IP values. The headers are only consulted when peer is trusted.
// X-Forwarded-For is walked from the right and the first hop outside the trusted networks wins,
// so a client cannot choose its address by prepending entries.
func (p *Proxies) Resolve(peer, forwardedFor, realIP string) string {
	host := HostOnly(peer)
	if !p.Trusts(host) {
		if host == "" {
			return Unknown
		}
		return host
	}
	if forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !p.Trusts(hop) {
				return hop
			}
		}
		if first := strings.TrimSpace(hops[0]); first != "" {
			if _, err := netip.ParseAddr(first); err == nil {
				return first
			}
		}
	}
	if ip := strings.TrimSpace(realIP); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return host
}

// HostOnly strips the port from addr when present.
func HostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

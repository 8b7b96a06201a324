package v1

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders are consulted after X-Forwarded-For, in order.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// clientIP returns the first public address the request carries, or "" when
// the visitor cannot be identified. Events without an address still count as
// traffic but never as unique visitors.
func clientIP(c *fiber.Ctx) string {
	if ip := preferredIP(strings.Split(c.Get(fiber.HeaderXForwardedFor), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := preferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := preferredIP(forwardedFor(forwarded)); ip != "" {
			return ip
		}
	}

	return preferredIP([]string{c.Context().RemoteAddr().String(), c.IP()})
}

// preferredIP picks the first public IPv4 address, falling back to the first
// public IPv6 one.
func preferredIP(values []string) string {
	var v6 string
	for _, raw := range values {
		addr, ok := parseAddr(raw)
		if !ok || !isPublic(addr) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if v6 == "" {
			v6 = addr.String()
		}
	}
	return v6
}

func isPublic(addr netip.Addr) bool {
	return addr.IsGlobalUnicast() && !addr.IsPrivate()
}

// parseAddr accepts bare addresses, host:port pairs, bracketed IPv6, quoted
// values and zoned link-local addresses.
func parseAddr(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return netip.Addr{}, false
	}
	if i := strings.IndexByte(clean, '%'); i != -1 {
		clean = clean[:i]
	}

	if ap, err := netip.ParseAddrPort(clean); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")); err == nil {
		return addr.Unmap(), true
	}
	if host, _, err := net.SplitHostPort(clean); err == nil {
		return parseAddr(host)
	}
	return netip.Addr{}, false
}

// forwardedFor extracts the for= values of an RFC 7239 Forwarded header.
func forwardedFor(header string) []string {
	var out []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if len(part) > 4 && strings.EqualFold(part[:4], "for=") {
				out = append(out, part[4:])
			}
		}
	}
	return out
}

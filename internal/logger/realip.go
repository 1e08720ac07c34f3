package logger

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// preParseTrustedProxies converts IP and CIDR strings into net types once, at
// logger construction.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, p := range proxyStrings {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			_, ipNet, err := net.ParseCIDR(p)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", p, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", p)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trusted parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, cidr := range trusted.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	for _, t := range trusted.ips {
		if t.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP returns the client address to log. When realIPHeaderName is
// set and present, its comma-separated chain is walked right to left and the
// first address that is not a trusted proxy wins. A malformed entry makes the
// chain unreliable, so the direct peer is used instead.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trusted parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	chain := strings.Split(headerValue, ",")
	for i := len(chain) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(chain[i])
		if candidate == "" {
			continue
		}
		ip := net.ParseIP(candidate)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trusted) {
			return candidate
		}
	}
	return peer
}

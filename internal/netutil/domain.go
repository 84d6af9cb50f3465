// Package netutil holds small host/domain helpers shared by the access
// filter and the proxy data paths.
package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegisteredDomain extracts the effective top-level-domain-plus-one (eTLD+1)
// from a target that may be a URL, host:port, or bare host.
//
// Examples:
//
//	"https://gist.github.com/u/x" -> "github.com"
//	"security.debian.org:443"     -> "debian.org"
//	"192.168.1.1:8080"            -> "192.168.1.1"
//	"localhost"                   -> "localhost"
func RegisteredDomain(target string) string {
	host := HostOf(target)
	// The Public Suffix List rejects IPs, localhost, and bare TLDs; fall
	// back to the host itself for those.
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

// HostOf extracts the bare hostname from a URL, host:port pair, or bracketed
// IPv6 literal. It never returns a port.
func HostOf(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}
	host := target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return host
}

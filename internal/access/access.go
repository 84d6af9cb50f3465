// Package access enforces the edge's admission rules: the path secret,
// domain block/allow lists, client IP and country allowances, trusted
// referers and administrator addresses.
package access

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/voltedge/voltedge/internal/netutil"
)

// CountryLookup resolves an IP to an ISO country code, "" when unknown.
type CountryLookup interface {
	Country(ip net.IP) string
	Enabled() bool
}

// DeniedError explains why a request was rejected.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "access denied: " + e.Reason }

// Config carries the admission rules. All lists are optional.
type Config struct {
	// Secret is the path password. Empty disables the password check.
	Secret string
	// Blacklist entries are matched as substrings of the target hostname.
	Blacklist []string
	// Whitelist, when non-empty, restricts targets to hostnames that
	// contain at least one entry as a substring.
	Whitelist []string
	// AllowIPs and AllowCountries, when either is non-empty, restrict
	// clients to listed IPs or countries. A client passes when it
	// matches either list.
	AllowIPs       []string
	AllowCountries []string
	// AdminIPs may issue administrative commands and skip the password.
	AdminIPs []string
	// TrustedReferers bypass the password. Entries containing "://" are
	// URL prefixes; others match the referer hostname exactly or as a
	// parent domain.
	TrustedReferers []string
}

// Filter evaluates admission rules. Safe for concurrent use.
type Filter struct {
	cfg       Config
	countries CountryLookup
}

// NewFilter builds a filter. lookup may be nil when no country rules are
// configured.
func NewFilter(cfg Config, lookup CountryLookup) *Filter {
	norm := make([]string, 0, len(cfg.AllowCountries))
	for _, c := range cfg.AllowCountries {
		norm = append(norm, strings.ToUpper(strings.TrimSpace(c)))
	}
	cfg.AllowCountries = norm
	return &Filter{cfg: cfg, countries: lookup}
}

// CheckSecret reports whether the supplied path segment matches the
// configured secret. Always true when no secret is set.
func (f *Filter) CheckSecret(got string) bool {
	return f.cfg.Secret == "" || got == f.cfg.Secret
}

// HasSecret reports whether a path password is configured.
func (f *Filter) HasSecret() bool { return f.cfg.Secret != "" }

// CheckDomain validates the target URL's hostname against the block and
// allow lists. Matching is case-insensitive substring containment.
func (f *Filter) CheckDomain(target string) error {
	host := strings.ToLower(netutil.HostOf(target))
	if host == "" {
		return &DeniedError{Reason: "target has no hostname"}
	}
	for _, b := range f.cfg.Blacklist {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" && strings.Contains(host, b) {
			return &DeniedError{Reason: "domain " + host + " is blocked"}
		}
	}
	if len(f.cfg.Whitelist) == 0 {
		return nil
	}
	for _, w := range f.cfg.Whitelist {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(host, w) {
			return nil
		}
	}
	return &DeniedError{Reason: "domain " + host + " is not in the allow list"}
}

// CheckClient validates the client address against the IP and country
// allow lists. With both lists empty every client passes. Loopback and
// private addresses skip the country check.
func (f *Filter) CheckClient(ip string) error {
	if len(f.cfg.AllowIPs) == 0 && len(f.cfg.AllowCountries) == 0 {
		return nil
	}
	for _, a := range f.cfg.AllowIPs {
		if strings.TrimSpace(a) == ip {
			return nil
		}
	}
	if len(f.cfg.AllowCountries) > 0 {
		parsed := net.ParseIP(ip)
		if parsed != nil && (parsed.IsLoopback() || parsed.IsPrivate()) {
			return nil
		}
		if f.countries != nil && parsed != nil {
			if code := f.countries.Country(parsed); code != "" {
				for _, c := range f.cfg.AllowCountries {
					if c == code {
						return nil
					}
				}
			}
		}
	}
	return &DeniedError{Reason: "client " + ip + " is not allowed"}
}

// IsAdmin reports whether ip is a configured administrator address.
func (f *Filter) IsAdmin(ip string) bool {
	for _, a := range f.cfg.AdminIPs {
		if strings.TrimSpace(a) == ip {
			return true
		}
	}
	return false
}

// Trusted reports whether the request may skip the path password, either
// because the client is an administrator or the referer matches a
// trusted rule.
func (f *Filter) Trusted(ip, referer string) bool {
	if f.IsAdmin(ip) {
		return true
	}
	return f.MatchReferer(referer)
}

// MatchReferer checks referer against the trusted rules. Rules with a
// scheme are URL prefixes; bare rules match the referer host exactly or
// as a parent domain, provided the rule covers the host's registrable
// domain.
func (f *Filter) MatchReferer(referer string) bool {
	if referer == "" || len(f.cfg.TrustedReferers) == 0 {
		return false
	}
	u, err := url.Parse(referer)
	host := ""
	if err == nil {
		host = strings.ToLower(u.Hostname())
	}
	for _, rule := range f.cfg.TrustedReferers {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if strings.Contains(rule, "://") {
			if strings.HasPrefix(referer, rule) {
				return true
			}
			continue
		}
		rule = strings.ToLower(rule)
		if host == rule {
			return true
		}
		// A parent-domain rule must reach the referer's registrable
		// domain. A bare public suffix like github.io would otherwise
		// trust every site hosted under it.
		if strings.HasSuffix(host, "."+rule) &&
			strings.HasSuffix("."+rule, "."+netutil.RegisteredDomain(host)) {
			return true
		}
	}
	return false
}

// ClientIP extracts the originating client address from a request,
// preferring edge-provided headers over the socket peer.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("CF-Connecting-IP"); v != "" {
		return canonicalIP(v)
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		return canonicalIP(strings.TrimSpace(first))
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return canonicalIP(r.RemoteAddr)
	}
	return canonicalIP(host)
}

// canonicalIP strips the IPv4-mapped IPv6 prefix.
func canonicalIP(s string) string {
	return strings.TrimPrefix(s, "::ffff:")
}

// Package httpx provides the header-manipulation primitives and the
// structured error responses shared by the proxy data paths. Header
// transformations are pure: they return a new header map and leave the
// input untouched, so every strip/override step stays testable in isolation.
package httpx

import (
	"net/http"
	"strings"
)

// identityHeaders disclose the proxy chain or the original client and are
// never forwarded upstream.
var identityHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Forwarded-Port",
	"X-Forwarded-Server",
	"Via",
	"X-Real-IP",
	"X-Client-IP",
	"True-Client-IP",
	"CF-Connecting-IP",
	"CF-Ray",
	"CF-Worker",
	"CF-Visitor",
	"CF-IPCountry",
	"CDN-Loop",
}

// hopHeaders are connection-scoped and must not be relayed between hops.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Upgrade",
}

// Clone returns a deep copy of h. A nil input yields an empty, usable map.
func Clone(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// WithOverride returns a copy of h with each key set to the single given
// value, replacing any existing values. Pairs are (key, value) sequences.
func WithOverride(h http.Header, pairs ...string) http.Header {
	out := Clone(h)
	for i := 0; i+1 < len(pairs); i += 2 {
		out.Set(pairs[i], pairs[i+1])
	}
	return out
}

// WithDefault returns a copy of h where each key is set only if absent.
func WithDefault(h http.Header, pairs ...string) http.Header {
	out := Clone(h)
	for i := 0; i+1 < len(pairs); i += 2 {
		if out.Get(pairs[i]) == "" {
			out.Set(pairs[i], pairs[i+1])
		}
	}
	return out
}

// WithoutKeys returns a copy of h with the given keys removed.
func WithoutKeys(h http.Header, keys ...string) http.Header {
	out := Clone(h)
	for _, k := range keys {
		out.Del(k)
	}
	return out
}

// WithoutIdentity returns a copy of h with all proxy-identity and
// hop-by-hop headers removed. This is the first step of every outbound
// header build.
func WithoutIdentity(h http.Header) http.Header {
	out := Clone(h)
	for _, k := range identityHeaders {
		out.Del(k)
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	return out
}

// CopyInto writes every value of src into dst, replacing dst's values for
// keys present in src. Used when relaying an upstream response.
func CopyInto(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
}

// RequestOrigin reconstructs the scheme and host the client used to
// reach this edge, honoring a fronting proxy's X-Forwarded-Proto.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		if first, _, _ := strings.Cut(proto, ","); strings.TrimSpace(first) != "" {
			scheme = strings.TrimSpace(first)
		}
	}
	return scheme + "://" + r.Host
}

// SetCORS applies the allow-all CORS headers every proxied response carries.
func SetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
	h.Set("Access-Control-Allow-Headers", "*")
}

// Package mirror accelerates Linux package repositories. A path prefix
// selects a distribution and the remainder is relayed against the
// official upstream, with Range passthrough for resumable downloads.
package mirror

import (
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/voltedge/voltedge/internal/httpx"
	"github.com/voltedge/voltedge/internal/netutil"
)

// defaultMirrors maps path prefixes to upstream base URLs.
var defaultMirrors = map[string]string{
	"ubuntu":          "http://archive.ubuntu.com/ubuntu",
	"ubuntu-security": "http://security.ubuntu.com/ubuntu",
	"debian":          "http://deb.debian.org/debian",
	"debian-security": "http://security.debian.org/debian-security",
	"centos":          "https://vault.centos.org",
	"centos-stream":   "http://mirror.stream.centos.org",
	"rockylinux":      "https://download.rockylinux.org/pub/rocky",
	"almalinux":       "https://repo.almalinux.org/almalinux",
	"fedora":          "https://download.fedoraproject.org/pub/fedora/linux",
	"alpine":          "http://dl-cdn.alpinelinux.org/alpine",
	"kali":            "http://http.kali.org/kali",
	"archlinux":       "https://geo.mirror.pkgbuild.com",
	"termux":          "https://packages.termux.org/apt/termux-main",
}

// Relay serves package mirror requests. Immutable after construction.
type Relay struct {
	mirrors map[string]string
	// byLength holds prefixes longest first so debian-security wins
	// over debian.
	byLength []string
	client   *http.Client
}

// NewRelay builds a relay. overrides, when non-nil, replaces the
// built-in mirror table entirely.
func NewRelay(overrides map[string]string, timeout time.Duration) *Relay {
	mirrors := defaultMirrors
	if overrides != nil {
		mirrors = overrides
	}
	byLength := make([]string, 0, len(mirrors))
	for k := range mirrors {
		byLength = append(byLength, k)
	}
	sort.Slice(byLength, func(i, j int) bool {
		if len(byLength[i]) != len(byLength[j]) {
			return len(byLength[i]) > len(byLength[j])
		}
		return byLength[i] < byLength[j]
	})
	return &Relay{
		mirrors:  mirrors,
		byLength: byLength,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   16,
			},
		},
	}
}

// Match returns the distribution prefix and the remaining path for
// subPath, or ok=false when no mirror prefix applies.
func (m *Relay) Match(subPath string) (distro, rest string, ok bool) {
	for _, k := range m.byLength {
		if subPath == k {
			return k, "", true
		}
		if strings.HasPrefix(subPath, k+"/") {
			return k, strings.TrimPrefix(subPath[len(k):], "/"), true
		}
	}
	return "", "", false
}

// Distributions lists the configured prefixes, longest first.
func (m *Relay) Distributions() []string {
	out := make([]string, len(m.byLength))
	copy(out, m.byLength)
	return out
}

// Serve relays one request for the given distribution and path.
func (m *Relay) Serve(w http.ResponseWriter, r *http.Request, distro, rest string) {
	base, ok := m.mirrors[distro]
	if !ok {
		httpx.WriteError(w, httpx.InvalidTarget(distro))
		return
	}
	target := base
	if rest != "" {
		if !strings.HasSuffix(target, "/") {
			target += "/"
		}
		target += rest
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
	if err != nil {
		httpx.WriteError(w, httpx.InvalidTarget(target))
		return
	}
	req.Header = httpx.WithoutIdentity(r.Header)
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("[mirror] %s %s: %v", distro, target, err)
		httpx.WriteError(w, httpx.UpstreamFailed(netutil.HostOf(target)))
		return
	}
	defer resp.Body.Close()

	httpx.CopyInto(w.Header(), httpx.WithoutKeys(resp.Header, "Transfer-Encoding"))
	httpx.SetCORS(w.Header())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("[mirror] stream %s: %v", target, err)
	}
}

// Package registry maps inbound container-registry paths onto their
// upstream hosts and completes Docker Hub's implicit "library/"
// namespace for official images.
package registry

import (
	"sort"
	"strings"
)

// Docker Hub defaults used when a path carries no known registry alias.
const (
	DefaultHost      = "registry-1.docker.io"
	DefaultAuthURL   = "https://auth.docker.io/token"
	DefaultService   = "registry.docker.io"
	DefaultUserAgent = "Docker-Client/24.0.5 (linux)"
)

// defaultAliases maps the first path segment to the upstream registry.
var defaultAliases = map[string]string{
	"ghcr.io":              "ghcr.io",
	"quay.io":              "quay.io",
	"gcr.io":               "gcr.io",
	"k8s.gcr.io":           "registry.k8s.io",
	"registry.k8s.io":      "registry.k8s.io",
	"docker.cloudsmith.io": "docker.cloudsmith.io",
	"nvcr.io":              "nvcr.io",
}

// reserved are API segments that can never be an image namespace.
var reserved = map[string]bool{
	"manifests": true,
	"blobs":     true,
	"tags":      true,
}

// Target is the resolved upstream for a registry request.
type Target struct {
	// Host is the upstream registry host.
	Host string
	// Path is the upstream request path, namespace-completed.
	Path string
	// Alias is the matched alias segment, "" for Docker Hub.
	Alias string
}

// Router resolves registry paths. Immutable after construction.
type Router struct {
	aliases map[string]string
	order   []string
}

// NewRouter builds a router. overrides, when non-nil, replaces the
// built-in alias table entirely.
func NewRouter(overrides map[string]string) *Router {
	aliases := defaultAliases
	if overrides != nil {
		aliases = overrides
	}
	order := make([]string, 0, len(aliases))
	for k := range aliases {
		order = append(order, k)
	}
	sort.Strings(order)
	return &Router{aliases: aliases, order: order}
}

// Resolve maps an inbound /v2/... path to its upstream target. The path
// must start with "/v2".
func (r *Router) Resolve(path string) Target {
	rest := strings.TrimPrefix(path, "/v2")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return Target{Host: DefaultHost, Path: "/v2/"}
	}

	segs := strings.Split(rest, "/")
	if upstream, ok := r.aliases[segs[0]]; ok {
		sub := strings.Join(segs[1:], "/")
		return Target{
			Host:  upstream,
			Path:  "/v2/" + sub,
			Alias: segs[0],
		}
	}

	return Target{Host: DefaultHost, Path: "/v2/" + completeLibrary(segs)}
}

// completeLibrary prepends "library/" for single-segment official image
// names: "nginx/manifests/latest" becomes "library/nginx/manifests/latest".
// Multi-segment names, API segments and digests pass through untouched.
func completeLibrary(segs []string) string {
	joined := strings.Join(segs, "/")
	if len(segs) < 2 {
		return joined
	}
	first, second := segs[0], segs[1]
	if strings.Contains(first, ".") || first == "library" {
		return joined
	}
	if reserved[first] || strings.HasPrefix(first, "sha256:") {
		return joined
	}
	if !reserved[second] {
		return joined
	}
	return "library/" + joined
}

// CompleteScope rewrites a token scope of the form
// "repository:<name>:<actions>" so single-segment names gain the
// "library/" namespace. Other scopes are returned unchanged.
func CompleteScope(scope string) string {
	parts := strings.Split(scope, ":")
	if len(parts) != 3 || parts[0] != "repository" {
		return scope
	}
	name := parts[1]
	if strings.Contains(name, "/") {
		return scope
	}
	return "repository:library/" + name + ":" + parts[2]
}

// AuthUpstream returns the token endpoint serving the given scope. A
// scope naming a known alias domain authenticates against that registry,
// anything else against Docker Hub.
func (r *Router) AuthUpstream(scope string) string {
	for _, alias := range r.order {
		if scope != "" && strings.Contains(scope, alias) {
			return "https://" + alias + "/token"
		}
	}
	return DefaultAuthURL
}

// Aliases returns the alias table in deterministic order, for logging
// and the status endpoint.
func (r *Router) Aliases() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Upstream returns the upstream host for an alias, "" when unknown.
func (r *Router) Upstream(alias string) string {
	return r.aliases[alias]
}

package server

import (
	"net/http"
	"strings"

	"github.com/voltedge/voltedge/internal/access"
	"github.com/voltedge/voltedge/internal/engine"
	"github.com/voltedge/voltedge/internal/httpx"
	"github.com/voltedge/voltedge/internal/quota"
)

// handleRegistry serves /v2/ requests, charging quota for pulls made by
// container tooling.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	ip := access.ClientIP(r)
	charge := quota.Chargeable(r) && !s.filter.IsAdmin(ip)
	if charge {
		ok, err := s.quota.Allow(ip)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if !ok {
			httpx.WriteError(w, httpx.QuotaExceeded(s.quota.Limit()))
			return
		}
	}

	rec := &statusRecorder{ResponseWriter: w}
	s.docker.ServeV2(rec, r)

	if charge && rec.status >= 200 && rec.status < 400 {
		go s.quota.Charge(ip, r.URL.Path, r.URL.RawQuery)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.tokens.ServeHTTP(w, r)
}

// handleProxy covers every path below the secret: the dashboard, admin
// commands, mirror relays and the general proxy.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	ip := access.ClientIP(r)
	trusted := s.filter.Trusted(ip, r.Referer())

	subPath, ok := s.splitSecret(r.URL.Path, trusted)
	if !ok {
		// Identical to an unknown route so the secret can't be probed.
		http.NotFound(w, r)
		return
	}

	switch {
	case subPath == "":
		s.handleDashboard(w, r)
		return
	case subPath == "usage":
		s.handleUsage(w, r, ip)
		return
	case subPath == "stats" || subPath == "reset-all" || strings.HasPrefix(subPath, "reset/"):
		s.handleAdmin(w, r, ip, subPath)
		return
	}

	if distro, rest, ok := s.mirrors.Match(subPath); ok {
		s.serveCharged(w, r, ip, func(w http.ResponseWriter) {
			s.mirrors.Serve(w, r, distro, rest)
		})
		return
	}

	mode := engine.ModeRaw
	target := subPath
	if strings.HasPrefix(subPath, "r/") {
		mode = engine.ModeRecursive
		target = subPath[len("r/"):]
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	origin := httpx.RequestOrigin(r)
	p := engine.Request{
		Target: target,
		Mode:   mode,
		Origin: origin,
		Prefix: s.recursivePrefix(origin),
	}
	s.serveCharged(w, r, ip, func(w http.ResponseWriter) {
		s.engine.Serve(w, r, p)
	})
}

// splitSecret strips the leading password segment from path. Trusted
// callers may omit it, in which case the whole path is the target.
func (s *Server) splitSecret(path string, trusted bool) (subPath string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if !s.filter.HasSecret() {
		return trimmed, true
	}
	first, rest, _ := strings.Cut(trimmed, "/")
	if s.filter.CheckSecret(first) {
		return rest, true
	}
	if trusted {
		return trimmed, true
	}
	return "", false
}

// recursivePrefix is the absolute URL rewritten links are rebased onto.
func (s *Server) recursivePrefix(origin string) string {
	if s.cfg.Password == "" {
		return origin + "/r/"
	}
	return origin + "/" + s.cfg.Password + "/r/"
}

// serveCharged runs serve with quota enforcement and post-response
// charging on success.
func (s *Server) serveCharged(w http.ResponseWriter, r *http.Request, ip string, serve func(http.ResponseWriter)) {
	charge := !s.filter.IsAdmin(ip)
	if charge {
		ok, err := s.quota.Allow(ip)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if !ok {
			httpx.WriteError(w, httpx.QuotaExceeded(s.quota.Limit()))
			return
		}
	}

	rec := &statusRecorder{ResponseWriter: w}
	serve(rec)

	if charge && rec.status >= 200 && rec.status < 400 {
		go s.quota.Charge(ip, r.URL.Path, r.URL.RawQuery)
	}
}

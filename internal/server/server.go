// Package server wires the HTTP surface: request dispatch across the
// registry, mirror and general proxy paths, plus the access, quota and
// rate-limit middleware around them.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/voltedge/voltedge/internal/access"
	"github.com/voltedge/voltedge/internal/config"
	"github.com/voltedge/voltedge/internal/docker"
	"github.com/voltedge/voltedge/internal/engine"
	"github.com/voltedge/voltedge/internal/mirror"
	"github.com/voltedge/voltedge/internal/quota"
)

// Deps carries the constructed subsystems the server dispatches to.
type Deps struct {
	Config  *config.EnvConfig
	Filter  *access.Filter
	Engine  *engine.Engine
	Docker  *docker.Adapter
	Tokens  *docker.TokenRelay
	Mirrors *mirror.Relay
	Quota   *quota.Manager
}

// Server is the edge's HTTP front end.
type Server struct {
	cfg        *config.EnvConfig
	filter     *access.Filter
	engine     *engine.Engine
	docker     *docker.Adapter
	tokens     *docker.TokenRelay
	mirrors    *mirror.Relay
	quota      *quota.Manager
	httpServer *http.Server
	handler    http.Handler
}

// New builds a server from its dependencies.
func New(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		filter:  deps.Filter,
		engine:  deps.Engine,
		docker:  deps.Docker,
		tokens:  deps.Tokens,
		mirrors: deps.Mirrors,
		quota:   deps.Quota,
	}

	// The dispatch deliberately avoids ServeMux: proxy targets embed
	// full URLs whose double slashes must reach the handler unredirected.
	var handler http.Handler = http.HandlerFunc(s.dispatch)
	handler = withClientCheck(s.filter, handler)
	if deps.Config.RequestsPerSecond > 0 {
		handler = withRateLimit(deps.Config.RequestsPerSecond, deps.Config.Burst, handler)
	}
	handler = withPreflight(handler)
	handler = withRequestLog(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(deps.Config.ListenAddress, strconv.Itoa(deps.Config.Port)),
		Handler: handler,
	}
	return s
}

// dispatch routes one request to the matching subsystem.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/robots.txt":
		s.handleRobots(w, r)
	case path == "/favicon.ico":
		s.handleFavicon(w, r)
	case path == "/token":
		s.handleToken(w, r)
	case path == "/v2" || strings.HasPrefix(path, "/v2/"):
		s.handleRegistry(w, r)
	default:
		s.handleProxy(w, r)
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

package server

import (
	"net/http"
	"strings"

	"github.com/voltedge/voltedge/internal/httpx"
)

type usageResponse struct {
	IP    string `json:"ip"`
	Date  string `json:"date"`
	Count int64  `json:"count"`
	Limit int64  `json:"limit"`
}

// handleUsage reports the caller's own quota consumption.
func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request, ip string) {
	count, limit, err := s.quota.Usage(ip)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, usageResponse{
		IP:    ip,
		Date:  s.quota.Today(),
		Count: count,
		Limit: limit,
	})
}

// handleAdmin executes quota management commands. These require an
// administrator address regardless of the secret.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, ip, command string) {
	if !s.filter.IsAdmin(ip) {
		httpx.WriteError(w, httpx.AccessDenied("administrative commands require an admin address"))
		return
	}

	switch {
	case command == "stats":
		stats, err := s.quota.Stats(50)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, stats)
	case command == "reset-all":
		if err := s.quota.ResetAll(); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case strings.HasPrefix(command, "reset/"):
		target := strings.TrimPrefix(command, "reset/")
		if target == "" {
			httpx.WriteError(w, httpx.InvalidTarget(command))
			return
		}
		if err := s.quota.Reset(target); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "ip": target})
	default:
		http.NotFound(w, r)
	}
}

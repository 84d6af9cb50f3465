package server

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"golang.org/x/time/rate"

	"github.com/voltedge/voltedge/internal/access"
	"github.com/voltedge/voltedge/internal/httpx"
)

// statusRecorder captures the status code written downstream so logging
// and post-response charging can see it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// withRequestLog tags each request with an ID and logs its outcome.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		w.Header().Set("X-Request-ID", rid)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("[server] %s %s %s %d %s %s",
			rid[:8], r.Method, r.URL.Path, status, time.Since(start).Round(time.Millisecond), access.ClientIP(r))
	})
}

// withPreflight short-circuits CORS preflight requests.
func withPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			httpx.SetCORS(w.Header())
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withClientCheck rejects clients outside the IP and country allowances.
func withClientCheck(filter *access.Filter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := access.ClientIP(r)
		if err := filter.CheckClient(ip); err != nil {
			httpx.WriteError(w, httpx.AccessDenied("%v", err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a per-client token bucket. Limiters expire after
// an idle hour so the table stays bounded.
func withRateLimit(rps float64, burst int, next http.Handler) http.Handler {
	limiters, err := otter.MustBuilder[string, *rate.Limiter](65536).
		WithTTL(time.Hour).
		Build()
	if err != nil {
		log.Printf("[server] rate limiter cache: %v", err)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := access.ClientIP(r)
		limiter, ok := limiters.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters.Set(ip, limiter)
			// On a race the loser's limiter is dropped; both start full.
			if cached, ok := limiters.Get(ip); ok {
				limiter = cached
			}
		}
		if !limiter.Allow() {
			httpx.WriteError(w, &httpx.ProxyError{
				HTTPCode: http.StatusTooManyRequests,
				Code:     httpx.CodeQuotaExceeded,
				Message:  "request rate too high",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

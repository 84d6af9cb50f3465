package docker

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/voltedge/voltedge/internal/httpx"
	"github.com/voltedge/voltedge/internal/registry"
)

// TokenRelay forwards /token requests to the auth service of whichever
// registry the scope names. Docker Hub requests get the service
// parameter defaulted and single-segment repository scopes completed.
type TokenRelay struct {
	router *registry.Router
	// hubAuth overrides the Docker Hub auth endpoint, for tests.
	hubAuth string
	client  *http.Client
}

// NewTokenRelay builds a relay over the given route table.
func NewTokenRelay(router *registry.Router, timeout time.Duration) *TokenRelay {
	return &TokenRelay{
		router:  router,
		hubAuth: registry.DefaultAuthURL,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
	}
}

func (t *TokenRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := q.Get("scope")

	upstream := t.router.AuthUpstream(scope)
	if upstream == registry.DefaultAuthURL {
		upstream = t.hubAuth
		q.Set("service", registry.DefaultService)
		if scope != "" {
			q.Set("scope", registry.CompleteScope(scope))
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream+"?"+q.Encode(), r.Body)
	if err != nil {
		httpx.WriteError(w, httpx.UpstreamFailed(upstream))
		return
	}
	req.ContentLength = r.ContentLength
	req.Header = httpx.WithoutIdentity(r.Header)
	req.Header.Set("User-Agent", registry.DefaultUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("[docker] token fetch: %v", err)
		httpx.WriteError(w, httpx.UpstreamFailed(upstream))
		return
	}
	defer resp.Body.Close()

	httpx.CopyInto(w.Header(), httpx.WithoutKeys(resp.Header, "Transfer-Encoding"))
	httpx.SetCORS(w.Header())
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

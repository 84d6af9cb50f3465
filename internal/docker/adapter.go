// Package docker adapts the Registry V2 protocol for re-exposure through
// the edge host: it forwards API calls upstream, rewrites auth challenges
// so clients fetch tokens from the edge, and resolves blob redirects
// server side so clients never talk to an origin CDN directly.
package docker

import (
	"io"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/voltedge/voltedge/internal/httpx"
	"github.com/voltedge/voltedge/internal/registry"
)

const apiVersionHeader = "registry/2.0"

var realmPattern = regexp.MustCompile(`realm="([^"]+)"`)

// Adapter serves /v2/ requests against upstream registries.
type Adapter struct {
	router *registry.Router
	scheme string
	// probe never follows redirects so Location can be handled here.
	probe *http.Client
	// follow resolves blob redirects, chasing further hops itself.
	follow *http.Client
}

// NewAdapter builds an adapter over the given route table.
func NewAdapter(router *registry.Router, timeout time.Duration) *Adapter {
	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   16,
	}
	return &Adapter{
		router: router,
		scheme: "https",
		probe: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow: &http.Client{Transport: transport},
	}
}

// ServeV2 handles one Registry V2 API request.
func (a *Adapter) ServeV2(w http.ResponseWriter, r *http.Request) {
	target := a.router.Resolve(r.URL.Path)

	upstreamURL := a.scheme + "://" + target.Host + target.Path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	// The root path is the client's connectivity probe; always GET it.
	method := r.Method
	if target.Path == "/v2/" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(r.Context(), method, upstreamURL, r.Body)
	if err != nil {
		httpx.WriteError(w, httpx.InvalidTarget(upstreamURL))
		return
	}
	req.ContentLength = r.ContentLength
	req.Header = httpx.WithoutIdentity(r.Header)
	req.Header.Del("Accept-Encoding")
	req.Header.Set("User-Agent", registry.DefaultUserAgent)
	req.Host = target.Host

	resp, err := a.probe.Do(req)
	if err != nil {
		log.Printf("[docker] %s %s: %v", r.Method, upstreamURL, err)
		httpx.WriteError(w, httpx.UpstreamFailed(target.Host))
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && resp.Header.Get("Www-Authenticate") != "":
		a.writeChallenge(w, r, resp)
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "":
		a.relayRedirect(w, r, resp)
	default:
		writeFinal(w, resp)
	}
}

// writeChallenge relays a 401 with the auth realm pointed at this edge,
// keeping service and scope parameters intact.
func (a *Adapter) writeChallenge(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	headers := httpx.Clone(resp.Header)
	challenge := headers.Get("Www-Authenticate")
	rewritten := realmPattern.ReplaceAllString(challenge, `realm="`+httpx.RequestOrigin(r)+`/token"`)
	headers.Set("Www-Authenticate", rewritten)

	httpx.CopyInto(w.Header(), headers)
	decorate(w.Header())
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// relayRedirect fetches the redirect target itself and streams the blob
// back, forwarding the client's Range request.
func (a *Adapter) relayRedirect(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	location := resp.Header.Get("Location")
	if ref, err := resp.Request.URL.Parse(location); err == nil {
		location = ref.String()
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, location, nil)
	if err != nil {
		httpx.WriteError(w, httpx.UpstreamFailed(location))
		return
	}
	req.Header.Set("User-Agent", registry.DefaultUserAgent)
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	blob, err := a.follow.Do(req)
	if err != nil {
		log.Printf("[docker] blob fetch %s: %v", location, err)
		httpx.WriteError(w, httpx.UpstreamFailed(location))
		return
	}
	defer blob.Body.Close()

	headers := httpx.WithoutKeys(blob.Header, "Content-Encoding", "Transfer-Encoding")
	httpx.CopyInto(w.Header(), headers)
	decorate(w.Header())
	w.WriteHeader(blob.StatusCode)
	io.Copy(w, blob.Body)
}

func writeFinal(w http.ResponseWriter, resp *http.Response) {
	httpx.CopyInto(w.Header(), httpx.WithoutKeys(resp.Header, "Transfer-Encoding"))
	decorate(w.Header())
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func decorate(h http.Header) {
	httpx.SetCORS(h)
	h.Set("Docker-Distribution-API-Version", apiVersionHeader)
}

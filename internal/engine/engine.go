// Package engine implements the general proxy: it resolves an arbitrary
// target URL, follows redirects itself with a per-hop domain check, and
// serves the result either as a raw stream or as rewritten text whose
// embedded links point back through the edge.
package engine

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/voltedge/voltedge/internal/httpx"
	"github.com/voltedge/voltedge/internal/netutil"
	"github.com/voltedge/voltedge/internal/urlx"
)

// Mode selects how a proxied response is delivered.
type Mode string

const (
	// ModeRaw streams the upstream body untouched.
	ModeRaw Mode = "raw"
	// ModeRecursive reads the body as text and rebases its links.
	ModeRecursive Mode = "recursive"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DomainChecker validates a target URL's hostname before each hop.
type DomainChecker interface {
	CheckDomain(target string) error
}

// Request carries the per-call parameters of a proxy invocation.
type Request struct {
	// Target is the raw destination, possibly scheme-collapsed.
	Target string
	Mode   Mode
	// Origin is this edge's scheme://host as the client reached it.
	Origin string
	// Prefix is the recursive entry point URLs are rebased onto.
	Prefix string
}

// Engine executes general proxy requests.
type Engine struct {
	domains      DomainChecker
	cache        *ResponseCache
	maxRedirects int
	client       *http.Client
}

// New builds an engine. cache may be nil to disable recursive-mode
// caching.
func New(domains DomainChecker, cache *ResponseCache, maxRedirects int, timeout time.Duration) *Engine {
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	return &Engine{
		domains:      domains,
		cache:        cache,
		maxRedirects: maxRedirects,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   16,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Serve proxies one request to p.Target and writes the result.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, p Request) {
	current, err := urlx.Normalize(p.Target)
	if err != nil {
		httpx.WriteError(w, httpx.InvalidTarget(p.Target))
		return
	}

	requestURL := p.Origin + r.URL.RequestURI()
	if p.Mode == ModeRecursive && e.cache != nil {
		if entry, ok := e.cache.Get(requestURL); ok {
			httpx.CopyInto(w.Header(), entry.Header)
			w.Header().Set("X-Proxy-Cache", "HIT")
			w.WriteHeader(entry.Status)
			w.Write(entry.Body)
			return
		}
	}

	// Buffer the inbound body so it can be re-sent across redirects.
	var inBody []byte
	if r.Body != nil {
		inBody, err = io.ReadAll(r.Body)
		if err != nil {
			httpx.WriteError(w, httpx.InvalidTarget(p.Target))
			return
		}
	}

	resp, err := e.fetch(r, current, inBody, p)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	headers := httpx.WithoutKeys(resp.Header,
		"Content-Security-Policy",
		"Content-Security-Policy-Report-Only",
		"Clear-Site-Data",
		"Transfer-Encoding")
	httpx.SetCORS(headers)

	if p.Mode == ModeRaw {
		headers.Set("X-Proxy-Mode", "Raw-Passthrough")
		httpx.CopyInto(w.Header(), headers)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Printf("[engine] stream %s: %v", current, err)
		}
		return
	}

	// Recursive: materialize the body, rebase its links, and drop the
	// headers invalidated by the edit.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		httpx.WriteError(w, httpx.UpstreamFailed(netutil.HostOf(current)))
		return
	}
	headers = httpx.WithoutKeys(headers,
		"Content-Encoding", "Content-Length", "Content-Disposition")
	headers.Set("X-Proxy-Mode", "Recursive-Force-Text")

	rewritten := []byte(NewRewriter(p.Origin, p.Prefix).Rewrite(string(body)))

	httpx.CopyInto(w.Header(), headers)
	w.WriteHeader(resp.StatusCode)
	w.Write(rewritten)

	if e.cache != nil && resp.StatusCode == http.StatusOK {
		entry := &cachedResponse{Status: resp.StatusCode, Header: headers, Body: rewritten}
		go e.cache.Set(requestURL, entry)
	}
}

// fetch follows redirects manually, re-checking the domain rules on
// every hop. The final non-redirect response is returned unread.
func (e *Engine) fetch(r *http.Request, target string, body []byte, p Request) (*http.Response, error) {
	ownHost := netutil.HostOf(p.Origin)
	current := target
	for hop := 0; hop < e.maxRedirects; hop++ {
		if err := e.domains.CheckDomain(current); err != nil {
			return nil, httpx.AccessDenied("%v", err)
		}
		// Loop guard: a target on this edge's own host would recurse
		// through the proxy until the redirect limit is exhausted.
		// Siblings under the same parent domain are legitimate targets.
		if ownHost != "" && strings.EqualFold(netutil.HostOf(current), ownHost) {
			return nil, httpx.AccessDenied("target %s points back at this edge", current)
		}

		req, err := http.NewRequestWithContext(r.Context(), r.Method, current, bytes.NewReader(body))
		if err != nil {
			return nil, httpx.InvalidTarget(current)
		}
		req.Header = e.outboundHeaders(r, req, p.Mode)
		req.Host = req.URL.Host

		resp, err := e.client.Do(req)
		if err != nil {
			log.Printf("[engine] %s %s: %v", r.Method, current, err)
			return nil, httpx.UpstreamFailed(netutil.HostOf(current))
		}

		if isRedirect(resp.StatusCode) {
			if location := resp.Header.Get("Location"); location != "" {
				next, err := resp.Request.URL.Parse(location)
				resp.Body.Close()
				if err != nil {
					return nil, httpx.InvalidTarget(location)
				}
				current = next.String()
				continue
			}
		}
		return resp, nil
	}
	return nil, &httpx.ProxyError{
		HTTPCode: http.StatusBadGateway,
		Code:     httpx.CodeTooManyRedirects,
		Message:  "redirect limit reached after " + current,
	}
}

func (e *Engine) outboundHeaders(r *http.Request, out *http.Request, mode Mode) http.Header {
	h := httpx.WithoutIdentity(r.Header)
	h.Del("Cookie")
	targetOrigin := out.URL.Scheme + "://" + out.URL.Host
	h.Set("Referer", targetOrigin+"/")
	h.Set("Origin", targetOrigin)
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", defaultUserAgent)
	}
	if mode == ModeRecursive {
		// Let the transport negotiate and transparently undo
		// compression so the body can be edited.
		h.Del("Accept-Encoding")
	}
	return h
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

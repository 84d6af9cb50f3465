package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voltedge/voltedge/internal/access"
	"github.com/voltedge/voltedge/internal/config"
	"github.com/voltedge/voltedge/internal/docker"
	"github.com/voltedge/voltedge/internal/engine"
	"github.com/voltedge/voltedge/internal/mirror"
	"github.com/voltedge/voltedge/internal/quota"
	"github.com/voltedge/voltedge/internal/registry"
)

type testEnv struct {
	server *Server
	quota  *quota.Manager
}

func newTestEnv(t *testing.T, mutate func(cfg *config.EnvConfig, accessCfg *access.Config)) *testEnv {
	t.Helper()
	cfg := &config.EnvConfig{
		ListenAddress:   "127.0.0.1",
		Port:            8080,
		Password:        "s3cret",
		MaxRedirects:    5,
		UpstreamTimeout: 5 * time.Second,
	}
	accessCfg := &access.Config{
		Secret:   "s3cret",
		AdminIPs: []string{"203.0.113.100"},
	}
	if mutate != nil {
		mutate(cfg, accessCfg)
	}

	filter := access.NewFilter(*accessCfg, nil)
	router := registry.NewRouter(nil)
	manager := quota.NewManager(quota.NewMemoryStore(), nil, quota.ManagerConfig{Limit: cfg.DailyLimit})
	srv := New(Deps{
		Config:  cfg,
		Filter:  filter,
		Engine:  engine.New(filter, nil, cfg.MaxRedirects, cfg.UpstreamTimeout),
		Docker:  docker.NewAdapter(router, cfg.UpstreamTimeout),
		Tokens:  docker.NewTokenRelay(router, cfg.UpstreamTimeout),
		Mirrors: mirror.NewRelay(nil, cfg.UpstreamTimeout),
		Quota:   manager,
	})
	return &testEnv{server: srv, quota: manager}
}

func (env *testEnv) do(method, target, clientIP string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = clientIP + ":40000"
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWrongSecretLooksLikeUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	wrong := env.do(http.MethodGet, "/guess/https://example.com/a", "198.51.100.9")
	missing := env.do(http.MethodGet, "/no-such-page", "198.51.100.9")

	if wrong.Code != http.StatusNotFound {
		t.Fatalf("wrong secret status = %d", wrong.Code)
	}
	if wrong.Code != missing.Code || wrong.Body.String() != missing.Body.String() {
		t.Error("wrong-secret response differs from unknown-route response")
	}
}

func TestRawProxyThroughSecret(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "tag=v1" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		io.WriteString(w, "artifact")
	}))
	defer upstream.Close()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/s3cret/"+upstream.URL+"?tag=v1", "198.51.100.9")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "artifact" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Proxy-Mode") != "Raw-Passthrough" {
		t.Errorf("X-Proxy-Mode = %q", rec.Header().Get("X-Proxy-Mode"))
	}
}

func TestRecursiveProxyRewrites(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "get https://files.example.net/tool.sh here")
	}))
	defer upstream.Close()

	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/s3cret/r/"+upstream.URL, "198.51.100.9")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/s3cret/r/https://files.example.net/tool.sh") {
		t.Errorf("link not rewritten: %s", rec.Body.String())
	}
}

func TestMirrorPrefixBeatsGeneralProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Package: apt\n")
	}))
	defer upstream.Close()

	env := newTestEnv(t, nil)
	// swap in a relay whose ubuntu upstream is the test server
	env.server.mirrors = mirror.NewRelay(map[string]string{"ubuntu": upstream.URL}, 5*time.Second)

	rec := env.do(http.MethodGet, "/s3cret/ubuntu/dists/noble/Release", "198.51.100.9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "Package: apt\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestQuotaExhaustionReturns429(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	env := newTestEnv(t, func(cfg *config.EnvConfig, _ *access.Config) {
		cfg.DailyLimit = 1
	})

	first := env.do(http.MethodGet, "/s3cret/"+upstream.URL, "198.51.100.9")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	// charging happens off the request path
	deadline := time.Now().Add(2 * time.Second)
	for {
		if count, _, _ := env.quota.Usage("198.51.100.9"); count >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("charge never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := env.do(http.MethodGet, "/s3cret/"+upstream.URL, "198.51.100.9")
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}

	admin := env.do(http.MethodGet, "/s3cret/"+upstream.URL, "203.0.113.100")
	if admin.Code != http.StatusOK {
		t.Errorf("admin status = %d, want quota bypass", admin.Code)
	}
}

func TestAdminCommandsRequireAdminIP(t *testing.T) {
	env := newTestEnv(t, nil)

	denied := env.do(http.MethodGet, "/s3cret/stats", "198.51.100.9")
	if denied.Code != http.StatusForbidden {
		t.Fatalf("non-admin stats status = %d", denied.Code)
	}

	allowed := env.do(http.MethodGet, "/s3cret/stats", "203.0.113.100")
	if allowed.Code != http.StatusOK {
		t.Fatalf("admin stats status = %d", allowed.Code)
	}
	var stats quota.Stats
	if err := json.Unmarshal(allowed.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	reset := env.do(http.MethodGet, "/s3cret/reset-all", "203.0.113.100")
	if reset.Code != http.StatusOK {
		t.Errorf("reset-all status = %d", reset.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.EnvConfig, _ *access.Config) {
		cfg.DailyLimit = 100
	})
	rec := env.do(http.MethodGet, "/s3cret/usage", "198.51.100.9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var usage usageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if usage.IP != "198.51.100.9" || usage.Limit != 100 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestTrustedRefererSkipsSecret(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	env := newTestEnv(t, func(_ *config.EnvConfig, accessCfg *access.Config) {
		accessCfg.TrustedReferers = []string{"partner.example"}
	})

	req := httptest.NewRequest(http.MethodGet, "/"+upstream.URL, nil)
	req.RemoteAddr = "198.51.100.9:40000"
	req.Header.Set("Referer", "https://partner.example/tools")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodOptions, "/v2/", "198.51.100.9")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	if rec.Header().Get("Docker-Distribution-API-Version") != "registry/2.0" {
		t.Error("missing API version header")
	}
}

func TestClientCountryGateApplies(t *testing.T) {
	env := newTestEnv(t, func(_ *config.EnvConfig, accessCfg *access.Config) {
		accessCfg.AllowIPs = []string{"203.0.113.7"}
	})
	rec := env.do(http.MethodGet, "/s3cret/usage", "198.51.100.9")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRobotsAndFavicon(t *testing.T) {
	env := newTestEnv(t, nil)

	robots := env.do(http.MethodGet, "/robots.txt", "198.51.100.9")
	if robots.Code != http.StatusOK || !strings.Contains(robots.Body.String(), "Disallow: /") {
		t.Errorf("robots = %d %q", robots.Code, robots.Body.String())
	}

	favicon := env.do(http.MethodGet, "/favicon.ico", "198.51.100.9")
	if favicon.Code != http.StatusOK || favicon.Header().Get("Content-Type") != "image/svg+xml" {
		t.Errorf("favicon = %d %q", favicon.Code, favicon.Header().Get("Content-Type"))
	}
}

func TestDashboardServed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/s3cret", "198.51.100.9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VoltEdge") {
		t.Error("dashboard content missing")
	}
}

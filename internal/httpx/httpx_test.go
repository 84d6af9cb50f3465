package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithoutIdentity(t *testing.T) {
	in := http.Header{}
	in.Set("X-Forwarded-For", "10.0.0.1")
	in.Set("CF-Connecting-IP", "10.0.0.1")
	in.Set("Via", "1.1 edge")
	in.Set("Connection", "keep-alive")
	in.Set("Accept", "application/json")

	out := WithoutIdentity(in)

	for _, k := range []string{"X-Forwarded-For", "CF-Connecting-IP", "Via", "Connection"} {
		if out.Get(k) != "" {
			t.Errorf("%s survived the strip", k)
		}
	}
	if out.Get("Accept") != "application/json" {
		t.Errorf("Accept lost: %q", out.Get("Accept"))
	}
	if in.Get("X-Forwarded-For") != "10.0.0.1" {
		t.Error("input header mutated")
	}
}

func TestWithOverrideAndDefault(t *testing.T) {
	in := http.Header{}
	in.Set("Host", "edge.example.com")
	in.Set("User-Agent", "curl/8.0")

	out := WithOverride(in, "Host", "registry-1.docker.io", "Referer", "https://registry-1.docker.io/")
	if got := out.Get("Host"); got != "registry-1.docker.io" {
		t.Errorf("Host = %q", got)
	}
	if got := out.Get("Referer"); got != "https://registry-1.docker.io/" {
		t.Errorf("Referer = %q", got)
	}

	out = WithDefault(out, "User-Agent", "Mozilla/5.0")
	if got := out.Get("User-Agent"); got != "curl/8.0" {
		t.Errorf("existing User-Agent replaced: %q", got)
	}
	out = WithDefault(WithoutKeys(out, "User-Agent"), "User-Agent", "Mozilla/5.0")
	if got := out.Get("User-Agent"); got != "Mozilla/5.0" {
		t.Errorf("default User-Agent not applied: %q", got)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"access denied", AccessDenied("domain %s blocked", "evil.example"), http.StatusForbidden, CodeAccessDenied},
		{"quota", QuotaExceeded(200), http.StatusTooManyRequests, CodeQuotaExceeded},
		{"invalid target", InvalidTarget("http:/%"), http.StatusBadRequest, CodeInvalidTarget},
		{"upstream", UpstreamFailed("mirrors.example.org"), http.StatusBadGateway, CodeUpstreamFailed},
		{"unknown", http.ErrAbortHandler, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

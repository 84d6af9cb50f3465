package access

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubCountries struct {
	byIP map[string]string
}

func (s *stubCountries) Country(ip net.IP) string { return s.byIP[ip.String()] }
func (s *stubCountries) Enabled() bool            { return true }

func TestCheckDomain(t *testing.T) {
	tests := []struct {
		name      string
		blacklist []string
		whitelist []string
		target    string
		wantDeny  bool
	}{
		{"no lists", nil, nil, "https://example.com/a", false},
		{"blacklist substring hit", []string{"evil"}, nil, "https://cdn.evil.example/a", true},
		{"blacklist miss", []string{"evil"}, nil, "https://example.com/a", false},
		{"whitelist hit", nil, []string{"docker.io"}, "https://registry-1.docker.io/v2/", false},
		{"whitelist miss", nil, []string{"docker.io"}, "https://example.com/a", true},
		{"blacklist wins over whitelist", []string{"docker"}, []string{"docker.io"}, "https://registry-1.docker.io/v2/", true},
		{"case insensitive", []string{"EVIL"}, nil, "https://Evil.example/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(Config{Blacklist: tt.blacklist, Whitelist: tt.whitelist}, nil)
			err := f.CheckDomain(tt.target)
			if (err != nil) != tt.wantDeny {
				t.Errorf("CheckDomain(%q) error = %v, want deny %v", tt.target, err, tt.wantDeny)
			}
		})
	}
}

func TestCheckClient(t *testing.T) {
	countries := &stubCountries{byIP: map[string]string{
		"203.0.113.7":  "DE",
		"198.51.100.9": "CN",
	}}
	tests := []struct {
		name     string
		cfg      Config
		ip       string
		wantDeny bool
	}{
		{"open", Config{}, "203.0.113.7", false},
		{"ip allowed", Config{AllowIPs: []string{"203.0.113.7"}}, "203.0.113.7", false},
		{"ip denied", Config{AllowIPs: []string{"203.0.113.7"}}, "198.51.100.9", true},
		{"country allowed", Config{AllowCountries: []string{"de"}}, "203.0.113.7", false},
		{"country denied", Config{AllowCountries: []string{"DE"}}, "198.51.100.9", true},
		{"ip or country", Config{AllowIPs: []string{"198.51.100.9"}, AllowCountries: []string{"DE"}}, "198.51.100.9", false},
		{"private skips country", Config{AllowCountries: []string{"DE"}}, "192.168.1.5", false},
		{"loopback skips country", Config{AllowCountries: []string{"DE"}}, "127.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.cfg, countries)
			err := f.CheckClient(tt.ip)
			if (err != nil) != tt.wantDeny {
				t.Errorf("CheckClient(%q) error = %v, want deny %v", tt.ip, err, tt.wantDeny)
			}
		})
	}
}

func TestMatchReferer(t *testing.T) {
	f := NewFilter(Config{TrustedReferers: []string{
		"https://dash.example.com/tools/",
		"partner.example",
		"github.io",
	}}, nil)

	tests := []struct {
		referer string
		want    bool
	}{
		{"https://dash.example.com/tools/proxy", true},
		{"https://dash.example.com/other", false},
		{"https://partner.example/page", true},
		{"https://www.partner.example/page", true},
		{"https://notpartner.example/page", false},
		{"https://partner.example.evil.com/page", false},
		{"https://github.io/page", true},
		{"https://somebody.github.io/page", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.MatchReferer(tt.referer); got != tt.want {
			t.Errorf("MatchReferer(%q) = %v, want %v", tt.referer, got, tt.want)
		}
	}
}

func TestTrustedAdminIP(t *testing.T) {
	f := NewFilter(Config{Secret: "s3cret", AdminIPs: []string{"203.0.113.7"}}, nil)
	if !f.Trusted("203.0.113.7", "") {
		t.Error("admin IP not trusted")
	}
	if f.Trusted("198.51.100.9", "") {
		t.Error("unknown IP trusted")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		remote string
		want   string
	}{
		{"cf header", func(r *http.Request) { r.Header.Set("CF-Connecting-IP", "203.0.113.7") }, "10.0.0.1:1234", "203.0.113.7"},
		{"xff first", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2") }, "10.0.0.1:1234", "203.0.113.7"},
		{"remote addr", func(r *http.Request) {}, "198.51.100.9:40022", "198.51.100.9"},
		{"mapped v6", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "::ffff:203.0.113.7") }, "10.0.0.1:1234", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			tt.setup(r)
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

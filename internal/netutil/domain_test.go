package netutil

import "testing"

func TestRegisteredDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://gist.github.com/u/x", "github.com"},
		{"security.debian.org:443", "debian.org"},
		{"www.google.co.uk", "google.co.uk"},
		{"192.168.1.1:8080", "192.168.1.1"},
		{"localhost", "localhost"},
		{"[::1]:80", "::1"},
	}
	for _, tc := range cases {
		if got := RegisteredDomain(tc.in); got != tc.want {
			t.Errorf("RegisteredDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHostOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com:8443/path", "example.com"},
		{"example.com:80", "example.com"},
		{"example.com", "example.com"},
		{"[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tc := range cases {
		if got := HostOf(tc.in); got != tc.want {
			t.Errorf("HostOf(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

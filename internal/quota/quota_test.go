package quota

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func TestDayKeyUsesUTCPlus8(t *testing.T) {
	// 2026-03-01 18:30 UTC is already 2026-03-02 02:30 in UTC+8.
	late := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	if got := DayKey(late); got != "2026-03-02" {
		t.Errorf("DayKey = %q, want 2026-03-02", got)
	}
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := DayKey(early); got != "2026-03-01" {
		t.Errorf("DayKey = %q, want 2026-03-01", got)
	}
}

func storesUnderTest(t *testing.T) map[string]CounterStore {
	t.Helper()
	sqlStore, err := OpenSQLStore(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]CounterStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestCounterStores(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			date := "2026-08-29"

			if got, err := store.Get("203.0.113.7", date); err != nil || got != 0 {
				t.Fatalf("initial Get = (%d, %v)", got, err)
			}
			for i := int64(1); i <= 3; i++ {
				got, err := store.Increment("203.0.113.7", date)
				if err != nil || got != i {
					t.Fatalf("Increment #%d = (%d, %v)", i, got, err)
				}
			}
			if _, err := store.Increment("198.51.100.9", date); err != nil {
				t.Fatal(err)
			}

			top, err := store.ListTop(date, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(top) != 2 || top[0].IP != "203.0.113.7" || top[0].Count != 3 {
				t.Errorf("ListTop = %+v", top)
			}

			requests, ips, err := store.Totals(date)
			if err != nil || requests != 4 || ips != 2 {
				t.Errorf("Totals = (%d, %d, %v)", requests, ips, err)
			}

			if err := store.Reset("203.0.113.7"); err != nil {
				t.Fatal(err)
			}
			if got, _ := store.Get("203.0.113.7", date); got != 0 {
				t.Errorf("count after Reset = %d", got)
			}

			if _, err := store.Increment("198.51.100.9", "2026-08-01"); err != nil {
				t.Fatal(err)
			}
			if err := store.CleanupBefore("2026-08-15"); err != nil {
				t.Fatal(err)
			}
			if got, _ := store.Get("198.51.100.9", "2026-08-01"); got != 0 {
				t.Errorf("old row survived cleanup: %d", got)
			}
			if got, _ := store.Get("198.51.100.9", date); got != 1 {
				t.Errorf("current row lost in cleanup: %d", got)
			}

			if err := store.ResetAll(); err != nil {
				t.Fatal(err)
			}
			if requests, _, _ := store.Totals(date); requests != 0 {
				t.Errorf("requests after ResetAll = %d", requests)
			}
		})
	}
}

func TestManagerAllowBoundary(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, ManagerConfig{Limit: 2})
	ip := "203.0.113.7"

	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ip)
		if err != nil || !ok {
			t.Fatalf("Allow #%d = (%v, %v)", i, ok, err)
		}
		m.Charge(ip, "/v2/library/nginx/manifests/latest", "")
	}
	ok, err := m.Allow(ip)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Allow passed over the limit")
	}

	if err := m.Reset(ip); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.Allow(ip); !ok {
		t.Error("Allow still denied after reset")
	}
}

func TestManagerExempt(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, ManagerConfig{Limit: 1, ExemptIPs: []string{"203.0.113.7"}})
	m.Charge("203.0.113.7", "/a", "")
	m.Charge("203.0.113.7", "/b", "")
	if ok, _ := m.Allow("203.0.113.7"); !ok {
		t.Error("exempt IP denied")
	}
	if count, _, _ := m.Usage("203.0.113.7"); count != 0 {
		t.Errorf("exempt IP charged: %d", count)
	}
}

func TestDeduperSuppressesDoubleCharge(t *testing.T) {
	d, err := NewDeduper(ScopePath, time.Minute, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	m := NewManager(NewMemoryStore(), d, ManagerConfig{Limit: 100})
	ip := "203.0.113.7"

	m.Charge(ip, "/v2/library/nginx/blobs/sha256:abc", "")
	m.Charge(ip, "/v2/library/nginx/blobs/sha256:abc", "")
	m.Charge(ip, "/v2/library/nginx/blobs/sha256:def", "")

	if count, _, _ := m.Usage(ip); count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestDeduperScopeURL(t *testing.T) {
	d, err := NewDeduper(ScopeURL, time.Minute, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.Key("ip", "/p", "a=1") == d.Key("ip", "/p", "a=2") {
		t.Error("url scope ignored the query string")
	}
}

func TestChargeable(t *testing.T) {
	tests := []struct {
		ua     string
		method string
		path   string
		want   bool
	}{
		{"docker/24.0.5 go/go1.21", http.MethodGet, "/v2/library/nginx/manifests/latest", true},
		{"containerd/1.7.0", http.MethodGet, "/v2/library/nginx/blobs/sha256:abc", true},
		{"Go-http-client/1.1", http.MethodGet, "/v2/library/nginx/manifests/latest", true},
		{"Mozilla/5.0", http.MethodGet, "/v2/library/nginx/manifests/latest", false},
		{"docker/24.0.5", http.MethodHead, "/v2/library/nginx/manifests/latest", false},
		{"docker/24.0.5", http.MethodGet, "/v2/", false},
		{"docker/24.0.5", http.MethodGet, "/v2/library/nginx/tags/list", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		r.Header.Set("User-Agent", tt.ua)
		if got := Chargeable(r); got != tt.want {
			t.Errorf("Chargeable(%s %s %q) = %v, want %v", tt.method, tt.path, tt.ua, got, tt.want)
		}
	}
}

package quota

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// chargeableAgents are client User-Agent markers whose registry pulls
// count against the daily allowance.
var chargeableAgents = []string{"docker", "go-http", "containerd"}

// Manager applies the daily allowance on top of a CounterStore.
type Manager struct {
	store   CounterStore
	dedup   *Deduper
	limit   int64
	exempt  map[string]bool
	cron    *cron.Cron
	nowFunc func() time.Time
}

// ManagerConfig configures quota enforcement.
type ManagerConfig struct {
	// Limit is the daily request allowance per IP. Zero disables
	// enforcement.
	Limit int64
	// ExemptIPs never consume quota.
	ExemptIPs []string
	// CleanupSchedule is a cron expression for dropping stale counter
	// rows. Default "30 3 * * *".
	CleanupSchedule string
}

// NewManager builds a manager. dedup may be nil to charge every request.
func NewManager(store CounterStore, dedup *Deduper, cfg ManagerConfig) *Manager {
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "30 3 * * *"
	}
	exempt := make(map[string]bool, len(cfg.ExemptIPs))
	for _, ip := range cfg.ExemptIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			exempt[ip] = true
		}
	}
	m := &Manager{
		store:   store,
		dedup:   dedup,
		limit:   cfg.Limit,
		exempt:  exempt,
		cron:    cron.New(),
		nowFunc: time.Now,
	}
	if _, err := m.cron.AddFunc(cfg.CleanupSchedule, m.cleanup); err != nil {
		log.Printf("[quota] invalid cleanup schedule %q: %v", cfg.CleanupSchedule, err)
	}
	return m
}

// Start begins the periodic counter cleanup.
func (m *Manager) Start() { m.cron.Start() }

// Stop halts the cleanup scheduler.
func (m *Manager) Stop() { m.cron.Stop() }

// Enabled reports whether a limit is configured.
func (m *Manager) Enabled() bool { return m.limit > 0 }

// Limit returns the configured daily allowance.
func (m *Manager) Limit() int64 { return m.limit }

// Today returns the current accounting day key.
func (m *Manager) Today() string { return DayKey(m.nowFunc()) }

// Allow reports whether ip may issue another chargeable request today.
func (m *Manager) Allow(ip string) (bool, error) {
	if m.limit <= 0 || m.exempt[ip] {
		return true, nil
	}
	count, err := m.store.Get(ip, DayKey(m.nowFunc()))
	if err != nil {
		return false, err
	}
	return count < m.limit, nil
}

// Chargeable reports whether a registry request should consume quota.
// Only manifest and blob pulls from container tooling count; API probes,
// tag listings and HEAD checks are free.
func Chargeable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if !strings.Contains(r.URL.Path, "/manifests/") && !strings.Contains(r.URL.Path, "/blobs/") {
		return false
	}
	ua := strings.ToLower(r.UserAgent())
	for _, marker := range chargeableAgents {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Charge records one request for ip unless it is a duplicate inside the
// dedup window. Meant to run after the response, off the request path.
func (m *Manager) Charge(ip, path, rawQuery string) {
	if m.limit <= 0 || m.exempt[ip] {
		return
	}
	if m.dedup != nil && m.dedup.SeenAndMark(m.dedup.Key(ip, path, rawQuery)) {
		return
	}
	if _, err := m.store.Increment(ip, DayKey(m.nowFunc())); err != nil {
		log.Printf("[quota] charge %s: %v", ip, err)
	}
}

// Usage returns today's count and the limit for ip.
func (m *Manager) Usage(ip string) (count, limit int64, err error) {
	count, err = m.store.Get(ip, DayKey(m.nowFunc()))
	return count, m.limit, err
}

// Reset clears all counters for ip.
func (m *Manager) Reset(ip string) error { return m.store.Reset(ip) }

// ResetAll clears every counter.
func (m *Manager) ResetAll() error { return m.store.ResetAll() }

// Stats aggregates today's usage for the admin view.
type Stats struct {
	Date          string    `json:"date"`
	TotalRequests int64     `json:"total_requests"`
	UniqueIPs     int64     `json:"unique_ips"`
	Details       []IPCount `json:"details"`
}

// Stats returns today's aggregate usage with the top n clients.
func (m *Manager) Stats(n int) (*Stats, error) {
	date := DayKey(m.nowFunc())
	requests, ips, err := m.store.Totals(date)
	if err != nil {
		return nil, err
	}
	details, err := m.store.ListTop(date, n)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Date:          date,
		TotalRequests: requests,
		UniqueIPs:     ips,
		Details:       details,
	}, nil
}

// cleanup drops counters older than yesterday's accounting date.
func (m *Manager) cleanup() {
	cutoff := DayKey(m.nowFunc().Add(-24 * time.Hour))
	if err := m.store.CleanupBefore(cutoff); err != nil {
		log.Printf("[quota] cleanup: %v", err)
	}
}

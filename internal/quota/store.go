// Package quota tracks per-client daily usage and enforces the request
// allowance. Counters are keyed by (IP, accounting day) where the day
// boundary is UTC+8.
package quota

import "time"

// accountingZone fixes the day rollover to UTC+8 regardless of where
// the edge runs.
var accountingZone = time.FixedZone("UTC+8", 8*60*60)

// DayKey returns the accounting date for t, formatted YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(accountingZone).Format("2006-01-02")
}

// IPCount is one counter row.
type IPCount struct {
	IP    string
	Date  string
	Count int64
}

// CounterStore persists usage counters. Implementations must be safe
// for concurrent use.
type CounterStore interface {
	// Get returns the counter for (ip, date), zero when absent.
	Get(ip, date string) (int64, error)
	// Increment atomically adds one to (ip, date) and returns the new
	// value.
	Increment(ip, date string) (int64, error)
	// Reset clears all counters for ip.
	Reset(ip string) error
	// ResetAll clears every counter.
	ResetAll() error
	// ListTop returns up to n counters for date, highest first.
	ListTop(date string, n int) ([]IPCount, error)
	// Totals returns the request sum and distinct IP count for date.
	Totals(date string) (requests int64, ips int64, err error)
	// CleanupBefore removes counters older than date.
	CleanupBefore(date string) error
	Close() error
}

package quota

import (
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps counters in process memory. Counts reset on restart,
// which is an accepted weakening for deployments without a database.
type MemoryStore struct {
	counts *xsync.Map[string, int64]
}

// NewMemoryStore builds an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: xsync.NewMap[string, int64]()}
}

func memKey(ip, date string) string { return ip + "|" + date }

func (s *MemoryStore) Get(ip, date string) (int64, error) {
	v, _ := s.counts.Load(memKey(ip, date))
	return v, nil
}

func (s *MemoryStore) Increment(ip, date string) (int64, error) {
	v, _ := s.counts.Compute(memKey(ip, date), func(old int64, _ bool) (int64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	return v, nil
}

func (s *MemoryStore) Reset(ip string) error {
	prefix := ip + "|"
	s.counts.Range(func(k string, _ int64) bool {
		if strings.HasPrefix(k, prefix) {
			s.counts.Delete(k)
		}
		return true
	})
	return nil
}

func (s *MemoryStore) ResetAll() error {
	s.counts.Clear()
	return nil
}

func (s *MemoryStore) ListTop(date string, n int) ([]IPCount, error) {
	suffix := "|" + date
	var out []IPCount
	s.counts.Range(func(k string, v int64) bool {
		if strings.HasSuffix(k, suffix) {
			out = append(out, IPCount{
				IP:    strings.TrimSuffix(k, suffix),
				Date:  date,
				Count: v,
			})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) Totals(date string) (int64, int64, error) {
	suffix := "|" + date
	var requests, ips int64
	s.counts.Range(func(k string, v int64) bool {
		if strings.HasSuffix(k, suffix) {
			requests += v
			ips++
		}
		return true
	})
	return requests, ips, nil
}

func (s *MemoryStore) CleanupBefore(date string) error {
	s.counts.Range(func(k string, _ int64) bool {
		if _, d, ok := strings.Cut(k, "|"); ok && d < date {
			s.counts.Delete(k)
		}
		return true
	})
	return nil
}

func (s *MemoryStore) Close() error { return nil }

package quota

import (
	"time"

	"github.com/maypok86/otter"
)

// DedupScope selects what part of a request identifies a duplicate.
type DedupScope string

const (
	// ScopePath treats requests to the same path as duplicates.
	ScopePath DedupScope = "path"
	// ScopeURL requires the full URL including query to match.
	ScopeURL DedupScope = "url"
)

// Deduper suppresses double-charging when a client retries the same
// request within a short window. Markers expire on their own.
type Deduper struct {
	scope   DedupScope
	markers otter.Cache[string, struct{}]
}

// NewDeduper builds a deduper. ttl controls the duplicate window.
func NewDeduper(scope DedupScope, ttl time.Duration, capacity int) (*Deduper, error) {
	if scope != ScopeURL {
		scope = ScopePath
	}
	markers, err := otter.MustBuilder[string, struct{}](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &Deduper{scope: scope, markers: markers}, nil
}

// Key derives the dedup key for a client request.
func (d *Deduper) Key(ip, path, rawQuery string) string {
	if d.scope == ScopeURL && rawQuery != "" {
		return ip + "|" + path + "?" + rawQuery
	}
	return ip + "|" + path
}

// SeenAndMark reports whether key was already marked inside the window,
// marking it either way.
func (d *Deduper) SeenAndMark(key string) bool {
	if _, ok := d.markers.Get(key); ok {
		return true
	}
	d.markers.Set(key, struct{}{})
	return false
}

// Close releases the marker cache.
func (d *Deduper) Close() {
	d.markers.Close()
}

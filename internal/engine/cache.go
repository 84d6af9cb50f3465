package engine

import (
	"net/http"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
)

type cacheKey [16]byte

func keyFor(requestURL string) cacheKey {
	return cacheKey(xxh3.Hash128([]byte(requestURL)).Bytes())
}

// cachedResponse is a fully materialized recursive-mode response.
type cachedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// ResponseCache holds rewritten recursive-mode responses keyed by the
// exact inbound request URL. Entries are weighed by body size.
type ResponseCache struct {
	cache otter.Cache[cacheKey, *cachedResponse]
}

// NewResponseCache builds a cache bounded to roughly capacityBytes,
// expiring entries after ttl.
func NewResponseCache(capacityBytes int, ttl time.Duration) (*ResponseCache, error) {
	cache, err := otter.MustBuilder[cacheKey, *cachedResponse](capacityBytes).
		Cost(func(_ cacheKey, v *cachedResponse) uint32 {
			return uint32(len(v.Body)) + 512
		}).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &ResponseCache{cache: cache}, nil
}

func (c *ResponseCache) Get(requestURL string) (*cachedResponse, bool) {
	return c.cache.Get(keyFor(requestURL))
}

func (c *ResponseCache) Set(requestURL string, resp *cachedResponse) {
	c.cache.Set(keyFor(requestURL), resp)
}

// Close releases the cache's internal resources.
func (c *ResponseCache) Close() {
	c.cache.Close()
}

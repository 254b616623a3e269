package places

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dosmangos/internal/cache"
	"dosmangos/internal/core"
	"dosmangos/internal/search"
)

// CachedSearcher remembers recent answers of another searcher. Errors are
// not cached.
type CachedSearcher struct {
	next  search.Searcher
	cache cache.Cache[[]core.SearchResult]
}

// NewCachedSearcher wraps next with an LRU cache of size entries kept for ttl.
// The returned cache is exposed for registration with a cache.Manager.
func NewCachedSearcher(next search.Searcher, size int, ttl time.Duration) (*CachedSearcher, *cache.LRUCache[[]core.SearchResult]) {
	lru := cache.NewLRUCache[[]core.SearchResult](size, ttl)
	return &CachedSearcher{next: next, cache: lru}, lru
}

func (s *CachedSearcher) Search(ctx context.Context, query string, region core.Region) ([]core.SearchResult, error) {
	key := cacheKey(query, region)
	if results, ok := s.cache.Get(key); ok {
		return results, nil
	}
	results, err := s.next.Search(ctx, query, region)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, results)
	return results, nil
}

// cacheKey rounds the region to about a kilometre so small pans share
// entries.
func cacheKey(query string, r core.Region) string {
	return fmt.Sprintf("%s|%.2f|%.2f|%.2f|%.2f", strings.ToLower(strings.TrimSpace(query)),
		r.Center.Latitude, r.Center.Longitude, r.SpanLatitude, r.SpanLongitude)
}

package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/PauloHFS/llmcache/internal/llm"
	"github.com/PauloHFS/llmcache/internal/metrics"
)

const DefaultLRUSize = 1024

// LRUStore keeps the most recently used entries in memory, evicting the
// least recently used once size is reached.
type LRUStore struct {
	cache *lru.Cache[llm.Fingerprint, llm.Entry]
	size  int
}

func NewLRUStore(size int) (*LRUStore, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	c, err := lru.NewWithEvict(size, func(llm.Fingerprint, llm.Entry) {
		metrics.CacheEvictions.WithLabelValues(BackendLRU).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRUStore{cache: c, size: size}, nil
}

func (s *LRUStore) Get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observe(BackendLRU, "get", start, "error")
		return nil, false, err
	}
	e, ok := s.cache.Get(fp)
	observe(BackendLRU, "get", start, getResult(ok, nil))
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (s *LRUStore) Put(ctx context.Context, entry llm.Entry) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observe(BackendLRU, "put", start, "error")
		return err
	}
	s.cache.Add(entry.Fingerprint, entry)
	observe(BackendLRU, "put", start, "ok")
	metrics.CacheEntries.WithLabelValues(BackendLRU).Set(float64(s.cache.Len()))
	return nil
}

func (s *LRUStore) Len() int {
	return s.cache.Len()
}

func (s *LRUStore) Stats(ctx context.Context) (Stats, error) {
	var oldest, newest time.Time
	for _, e := range s.cache.Values() {
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
		if e.StoredAt.After(newest) {
			newest = e.StoredAt
		}
	}
	st := Stats{Backend: BackendLRU, Entries: s.cache.Len(), Capacity: s.size}
	st.Oldest, st.Newest = timeRange(oldest, newest)
	return st, ctx.Err()
}

func (s *LRUStore) Delete(ctx context.Context, fp llm.Fingerprint) error {
	s.cache.Remove(fp)
	return ctx.Err()
}

func (s *LRUStore) Purge(ctx context.Context) error {
	s.cache.Purge()
	metrics.CacheEntries.WithLabelValues(BackendLRU).Set(0)
	return ctx.Err()
}

func (s *LRUStore) Close() error {
	return nil
}

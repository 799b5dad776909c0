package cache

import (
	"context"
	"time"

	"github.com/PauloHFS/llmcache/internal/llm"
	"github.com/PauloHFS/llmcache/internal/metrics"
)

// MemoryStore adapts llm.MemoryStore to Backend.
type MemoryStore struct {
	*llm.MemoryStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryStore: llm.NewMemoryStore()}
}

func (s *MemoryStore) Get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	start := time.Now()
	e, ok, err := s.MemoryStore.Get(ctx, fp)
	observe(BackendMemory, "get", start, getResult(ok, err))
	return e, ok, err
}

func (s *MemoryStore) Put(ctx context.Context, entry llm.Entry) error {
	start := time.Now()
	err := s.MemoryStore.Put(ctx, entry)
	observe(BackendMemory, "put", start, putResult(err))
	metrics.CacheEntries.WithLabelValues(BackendMemory).Set(float64(s.Len()))
	return err
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: BackendMemory, Entries: s.Len()}
	var oldest, newest time.Time
	s.Range(func(e llm.Entry) bool {
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
		if e.StoredAt.After(newest) {
			newest = e.StoredAt
		}
		return true
	})
	st.Oldest, st.Newest = timeRange(oldest, newest)
	return st, ctx.Err()
}

func (s *MemoryStore) Delete(ctx context.Context, fp llm.Fingerprint) error {
	s.MemoryStore.Delete(fp)
	return ctx.Err()
}

func (s *MemoryStore) Purge(ctx context.Context) error {
	s.MemoryStore.Purge()
	metrics.CacheEntries.WithLabelValues(BackendMemory).Set(0)
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

package llm

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached exchange. The originating request is kept so a lookup
// can confirm it matches the request being served.
type Entry struct {
	Fingerprint Fingerprint   `json:"fingerprint"`
	Request     ChatRequest   `json:"request"`
	Response    *ChatResponse `json:"response"`
	StoredAt    time.Time     `json:"stored_at"`
}

// Store persists successful exchanges by fingerprint. Implementations must
// be safe for concurrent use and must never expose a partially written
// entry. Concurrent puts for the same fingerprint resolve last write wins.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (*Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
}

// MemoryStore is the default unbounded in-process store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Fingerprint]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Fingerprint]Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, fp Fingerprint) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	e, ok := s.entries[fp]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[entry.Fingerprint] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Purge drops every entry.
func (s *MemoryStore) Purge() {
	s.mu.Lock()
	s.entries = make(map[Fingerprint]Entry)
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(fp Fingerprint) {
	s.mu.Lock()
	delete(s.entries, fp)
	s.mu.Unlock()
}

// Range calls fn for each entry until fn returns false.
func (s *MemoryStore) Range(fn func(Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if !fn(e) {
			return
		}
	}
}

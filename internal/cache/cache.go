// Package cache provides persistent and bounded llm.Store backends.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PauloHFS/llmcache/internal/config"
	"github.com/PauloHFS/llmcache/internal/llm"
	"github.com/PauloHFS/llmcache/internal/metrics"
)

const (
	BackendMemory = "memory"
	BackendLRU    = "lru"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

var ErrUnknownBackend = errors.New("unknown cache backend")

// Backend is a Store that can also be inspected and maintained.
type Backend interface {
	llm.Store
	Stats(ctx context.Context) (Stats, error)
	Delete(ctx context.Context, fp llm.Fingerprint) error
	Purge(ctx context.Context) error
	Close() error
}

type Stats struct {
	Backend  string     `json:"backend" yaml:"backend"`
	Location string     `json:"location,omitempty" yaml:"location,omitempty"`
	Entries  int        `json:"entries" yaml:"entries"`
	Capacity int        `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Oldest   *time.Time `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty" yaml:"newest,omitempty"`
}

type Options struct {
	Backend     string
	Dir         string
	DatabaseURL string
	LRUSize     int
	SQLite      config.SQLiteConfig
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendLRU:
		return NewLRUStore(opts.LRUSize)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.DatabaseURL, opts.SQLite)
	case BackendFile:
		return NewFileStore(opts.Dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func observe(backend, op string, start time.Time, result string) {
	metrics.CacheOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	metrics.CacheOperations.WithLabelValues(backend, op, result).Inc()
}

func getResult(ok bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case ok:
		return "hit"
	default:
		return "miss"
	}
}

func putResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func timeRange(oldest, newest time.Time) (*time.Time, *time.Time) {
	if oldest.IsZero() || newest.IsZero() {
		return nil, nil
	}
	return &oldest, &newest
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PauloHFS/llmcache/internal/llm"
	"github.com/PauloHFS/llmcache/internal/metrics"
)

var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// FileStore keeps one JSON document per fingerprint in a directory. Each
// document holds the request and the response so a reader can check it
// is looking at the right exchange.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(fp llm.Fingerprint) (string, error) {
	if !fp.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFingerprint, fp)
	}
	return filepath.Join(s.dir, fp.String()+".json"), nil
}

func (s *FileStore) Get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	start := time.Now()
	e, ok, err := s.get(ctx, fp)
	observe(BackendFile, "get", start, getResult(ok, err))
	return e, ok, err
}

func (s *FileStore) get(ctx context.Context, fp llm.Fingerprint) (*llm.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p, err := s.path(fp)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read entry: %w", err)
	}

	var e llm.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode entry %s: %w", filepath.Base(p), err)
	}
	if e.Fingerprint != fp {
		return nil, false, fmt.Errorf("entry %s holds fingerprint %s", filepath.Base(p), e.Fingerprint.Short())
	}
	return &e, true, nil
}

func (s *FileStore) Put(ctx context.Context, entry llm.Entry) error {
	start := time.Now()
	err := s.put(ctx, entry)
	observe(BackendFile, "put", start, putResult(err))
	return err
}

// put writes to a temporary file and renames it into place, so readers
// see either the old document or the new one.
func (s *FileStore) put(ctx context.Context, entry llm.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(entry.Fingerprint)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close entry: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("failed to move entry into place: %w", err)
	}
	return nil
}

func (s *FileStore) entries() ([]fs.DirEntry, error) {
	all, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	out := all[:0]
	for _, de := range all {
		name := de.Name()
		if de.Type().IsRegular() && strings.HasSuffix(name, ".json") &&
			llm.Fingerprint(strings.TrimSuffix(name, ".json")).Valid() {
			out = append(out, de)
		}
	}
	return out, nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	des, err := s.entries()
	if err != nil {
		return Stats{}, err
	}

	var oldest, newest time.Time
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			continue
		}
		mt := info.ModTime().UTC()
		if oldest.IsZero() || mt.Before(oldest) {
			oldest = mt
		}
		if mt.After(newest) {
			newest = mt
		}
	}

	metrics.CacheEntries.WithLabelValues(BackendFile).Set(float64(len(des)))

	st := Stats{Backend: BackendFile, Location: s.dir, Entries: len(des)}
	st.Oldest, st.Newest = timeRange(oldest, newest)
	return st, ctx.Err()
}

func (s *FileStore) Delete(ctx context.Context, fp llm.Fingerprint) error {
	p, err := s.path(fp)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return ctx.Err()
}

func (s *FileStore) Purge(ctx context.Context) error {
	des, err := s.entries()
	if err != nil {
		return err
	}
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", de.Name(), err)
		}
	}
	metrics.CacheEntries.WithLabelValues(BackendFile).Set(0)
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PauloHFS/llmcache/internal/config"
	"github.com/PauloHFS/llmcache/internal/llm"
)

func testSQLiteConfig() config.SQLiteConfig {
	return config.SQLiteConfig{CacheSizeKB: 2048, WALMode: true, SyncLevel: "NORMAL", BusyTimeout: time.Second}
}

func newEntry(t *testing.T, prompt, answer string) llm.Entry {
	t.Helper()
	req := llm.NewChatRequest(llm.ModelGPT4oMini, llm.UserMessage(prompt))
	fp, err := llm.FingerprintOf(req)
	if err != nil {
		t.Errorf("FingerprintOf() error = %v", err)
	}
	return llm.Entry{
		Fingerprint: fp,
		Request:     req,
		Response: &llm.ChatResponse{
			ID:      "chatcmpl-" + prompt,
			Model:   "gpt-4o-mini",
			Choices: []llm.Choice{{Message: llm.AssistantMessage(answer), FinishReason: llm.FinishReasonStop}},
			Usage:   llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		},
		StoredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

type backendCase struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) Backend { return NewMemoryStore() }},
		{"lru", func(t *testing.T) Backend {
			s, err := NewLRUStore(64)
			if err != nil {
				t.Fatalf("NewLRUStore: %v", err)
			}
			return s
		}},
		{"sqlite", func(t *testing.T) Backend {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"), testSQLiteConfig())
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		}},
		{"file", func(t *testing.T) Backend {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			return s
		}},
	}
}

func TestBackends(t *testing.T) {
	ctx := context.Background()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Run("RoundTrip", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				want := newEntry(t, "hello", "hi")
				if err := s.Put(ctx, want); err != nil {
					t.Fatalf("Put: %v", err)
				}

				got, ok, err := s.Get(ctx, want.Fingerprint)
				if err != nil || !ok {
					t.Fatalf("Get = %v, %v; want hit", ok, err)
				}
				if got.Fingerprint != want.Fingerprint {
					t.Errorf("fingerprint = %s, want %s", got.Fingerprint, want.Fingerprint)
				}
				if !got.Request.Equal(want.Request) {
					t.Error("stored request differs from original")
				}
				if got.Response.Content() != "hi" {
					t.Errorf("content = %q, want hi", got.Response.Content())
				}
				if got.Response.Usage.TotalTokens != 5 {
					t.Errorf("usage = %+v", got.Response.Usage)
				}
				if !got.StoredAt.Equal(want.StoredAt) {
					t.Errorf("stored_at = %v, want %v", got.StoredAt, want.StoredAt)
				}
			})

			t.Run("Miss", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				_, ok, err := s.Get(ctx, newEntry(t, "absent", "").Fingerprint)
				if err != nil {
					t.Fatalf("Get: %v", err)
				}
				if ok {
					t.Error("expected a miss on an empty store")
				}
			})

			t.Run("Overwrite", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				first := newEntry(t, "q", "first")
				second := newEntry(t, "q", "second")
				if err := s.Put(ctx, first); err != nil {
					t.Fatalf("Put: %v", err)
				}
				if err := s.Put(ctx, second); err != nil {
					t.Fatalf("Put: %v", err)
				}

				got, ok, err := s.Get(ctx, first.Fingerprint)
				if err != nil || !ok {
					t.Fatalf("Get = %v, %v", ok, err)
				}
				if got.Response.Content() != "second" {
					t.Errorf("content = %q, want the last write", got.Response.Content())
				}

				st, err := s.Stats(ctx)
				if err != nil {
					t.Fatalf("Stats: %v", err)
				}
				if st.Entries != 1 {
					t.Errorf("entries = %d, want 1", st.Entries)
				}
			})

			t.Run("DeleteAndPurge", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				a, b := newEntry(t, "a", "1"), newEntry(t, "b", "2")
				for _, e := range []llm.Entry{a, b} {
					if err := s.Put(ctx, e); err != nil {
						t.Fatalf("Put: %v", err)
					}
				}

				if err := s.Delete(ctx, a.Fingerprint); err != nil {
					t.Fatalf("Delete: %v", err)
				}
				if _, ok, _ := s.Get(ctx, a.Fingerprint); ok {
					t.Error("deleted entry still present")
				}
				if _, ok, _ := s.Get(ctx, b.Fingerprint); !ok {
					t.Error("unrelated entry was deleted")
				}
				if err := s.Delete(ctx, a.Fingerprint); err != nil {
					t.Errorf("deleting a missing entry: %v", err)
				}

				if err := s.Purge(ctx); err != nil {
					t.Fatalf("Purge: %v", err)
				}
				st, err := s.Stats(ctx)
				if err != nil {
					t.Fatalf("Stats: %v", err)
				}
				if st.Entries != 0 || st.Oldest != nil {
					t.Errorf("stats after purge = %+v", st)
				}
			})

			t.Run("Stats", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				for i := range 3 {
					if err := s.Put(ctx, newEntry(t, fmt.Sprintf("p%d", i), "r")); err != nil {
						t.Fatalf("Put: %v", err)
					}
				}

				st, err := s.Stats(ctx)
				if err != nil {
					t.Fatalf("Stats: %v", err)
				}
				if st.Backend != bc.name {
					t.Errorf("backend = %q, want %q", st.Backend, bc.name)
				}
				if st.Entries != 3 {
					t.Errorf("entries = %d, want 3", st.Entries)
				}
				if st.Oldest == nil || st.Newest == nil || st.Newest.Before(*st.Oldest) {
					t.Errorf("time range = %v..%v", st.Oldest, st.Newest)
				}
			})

			t.Run("Concurrent", func(t *testing.T) {
				s := bc.open(t)
				defer s.Close()

				var wg sync.WaitGroup
				errs := make(chan error, 16)
				for i := range 8 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						e := newEntry(t, fmt.Sprintf("c%d", i%4), fmt.Sprintf("r%d", i))
						if err := s.Put(ctx, e); err != nil {
							errs <- err
							return
						}
						if _, _, err := s.Get(ctx, e.Fingerprint); err != nil {
							errs <- err
						}
					}()
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					t.Errorf("concurrent access: %v", err)
				}

				st, err := s.Stats(ctx)
				if err != nil {
					t.Fatalf("Stats: %v", err)
				}
				if st.Entries != 4 {
					t.Errorf("entries = %d, want 4", st.Entries)
				}
			})
		})
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	entry := newEntry(t, "persist", "kept")

	t.Run("SQLite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")

		s, err := OpenSQLite(ctx, path, testSQLiteConfig())
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put: %v", err)
		}
		s.Close()

		reopened, err := OpenSQLite(ctx, path, testSQLiteConfig())
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer reopened.Close()

		got, ok, err := reopened.Get(ctx, entry.Fingerprint)
		if err != nil || !ok {
			t.Fatalf("Get after reopen = %v, %v", ok, err)
		}
		if got.Response.Content() != "kept" {
			t.Errorf("content = %q", got.Response.Content())
		}
	})

	t.Run("File", func(t *testing.T) {
		dir := t.TempDir()

		s, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put: %v", err)
		}

		reopened, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		got, ok, err := reopened.Get(ctx, entry.Fingerprint)
		if err != nil || !ok {
			t.Fatalf("Get after reopen = %v, %v", ok, err)
		}
		if !got.Request.Equal(entry.Request) {
			t.Error("request changed across reopen")
		}
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("LayoutAndTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}

		e := newEntry(t, "layout", "x")
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}

		des, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(des) != 1 || des[0].Name() != e.Fingerprint.String()+".json" {
			names := make([]string, 0, len(des))
			for _, de := range des {
				names = append(names, de.Name())
			}
			t.Errorf("directory holds %v, want only %s.json", names, e.Fingerprint)
		}
	})

	t.Run("InvalidFingerprint", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		_, _, err = s.Get(ctx, llm.Fingerprint("../../etc/passwd"))
		if !errors.Is(err, ErrInvalidFingerprint) {
			t.Errorf("err = %v, want ErrInvalidFingerprint", err)
		}
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		e := newEntry(t, "corrupt", "x")
		if err := os.WriteFile(filepath.Join(dir, e.Fingerprint.String()+".json"), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, ok, err := s.Get(ctx, e.Fingerprint); err == nil || ok {
			t.Errorf("Get = %v, %v; want a decode error", ok, err)
		}
	})

	t.Run("IgnoresForeignFiles", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := s.Purge(ctx); err != nil {
			t.Fatalf("Purge: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "notes.json")); err != nil {
			t.Errorf("purge removed a file it does not own: %v", err)
		}
	})
}

func TestLRUStoreEvicts(t *testing.T) {
	ctx := context.Background()
	s, err := NewLRUStore(2)
	if err != nil {
		t.Fatalf("NewLRUStore: %v", err)
	}

	a, b, c := newEntry(t, "a", "1"), newEntry(t, "b", "2"), newEntry(t, "c", "3")
	for _, e := range []llm.Entry{a, b} {
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Touch a so b becomes the eviction candidate.
	if _, ok, _ := s.Get(ctx, a.Fingerprint); !ok {
		t.Fatal("expected a to be present")
	}
	if err := s.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := s.Get(ctx, b.Fingerprint); ok {
		t.Error("least recently used entry was not evicted")
	}
	for _, e := range []llm.Entry{a, c} {
		if _, ok, _ := s.Get(ctx, e.Fingerprint); !ok {
			t.Errorf("entry %s evicted", e.Fingerprint.Short())
		}
	}

	st, _ := s.Stats(ctx)
	if st.Capacity != 2 || st.Entries != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    Options
		backend string
	}{
		{"default", Options{}, BackendMemory},
		{"memory", Options{Backend: BackendMemory}, BackendMemory},
		{"lru", Options{Backend: BackendLRU, LRUSize: 8}, BackendLRU},
		{"sqlite", Options{Backend: BackendSQLite, DatabaseURL: filepath.Join(t.TempDir(), "c.db"), SQLite: testSQLiteConfig()}, BackendSQLite},
		{"file", Options{Backend: BackendFile, Dir: t.TempDir()}, BackendFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer b.Close()

			st, err := b.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if st.Backend != tt.backend {
				t.Errorf("backend = %q, want %q", st.Backend, tt.backend)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := Open(ctx, Options{Backend: "redis"}); !errors.Is(err, ErrUnknownBackend) {
			t.Errorf("err = %v, want ErrUnknownBackend", err)
		}
	})

	t.Run("sqlite without path", func(t *testing.T) {
		if _, err := Open(ctx, Options{Backend: BackendSQLite}); err == nil {
			t.Error("expected an error without a database path")
		}
	})
}

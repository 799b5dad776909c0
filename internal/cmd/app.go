package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/PauloHFS/llmcache/internal/cache"
	"github.com/PauloHFS/llmcache/internal/llm"
)

func (a *app) openCache(ctx context.Context) (cache.Backend, error) {
	c := a.cfg.Cache
	b, err := cache.Open(ctx, cache.Options{
		Backend:     c.Backend,
		Dir:         c.Dir,
		DatabaseURL: c.DatabaseURL,
		LRUSize:     c.LRUSize,
		SQLite:      c.SQLite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", c.Backend, err)
	}
	return b, nil
}

func (a *app) newClient(store llm.Store) (*llm.Client, error) {
	if err := a.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	c := a.cfg.LLM
	provider, err := llm.ProviderByName(c.Provider)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(
		llm.WithProvider(provider),
		llm.WithAPIKey(c.APIKey),
		llm.WithBaseURL(c.BaseURL),
		llm.WithModel(llm.ModelID(c.Model)),
		llm.WithEmbeddingModel(llm.ModelID(c.EmbeddingModel)),
		llm.WithTimeout(c.Timeout),
		llm.WithMaxRetries(c.MaxRetries),
		llm.WithRetryWaitRange(c.RetryWaitMin, c.RetryWaitMax),
		llm.WithRateLimit(c.RateLimit, c.RateBurst),
		llm.WithSingleFlight(c.SingleFlight),
		llm.WithStore(store),
		llm.WithLogger(a.logger),
	)
}

// writeOutput renders v as json or yaml. YAML goes through the JSON form
// so both outputs use the same field names.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrInputRequired = errors.New("input is required")

// Embed requests embeddings. Embeddings are never cached.
func (c *Client) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if req.Model == "" {
		req.Model = c.embeddingModel
	}
	if req.Model == "" {
		return nil, ErrModelRequired
	}
	if req.Input == nil {
		return nil, ErrInputRequired
	}
	if s, ok := req.Input.(string); ok && s == "" {
		return nil, ErrInputRequired
	}
	if req.EncodingFormat == "" {
		req.EncodingFormat = "float"
	}
	if c.provider.EmbeddingsPath() == "" {
		return nil, fmt.Errorf("%w: %s has no embeddings endpoint", ErrUnsupportedOperation, c.provider.Name())
	}

	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "llm.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model.String()),
		attribute.String("llm.request_id", requestID),
	)

	resp, attempts, err := c.embed(ctx, req, requestID)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordRequest("embed", req.Model, "error", duration)
		recordError("embed", req.Model, classifyError(err))
		c.logger.LogAttrs(ctx, slog.LevelError, "llm embedding failed",
			slog.String("request_id", requestID),
			slog.String("model", req.Model.String()),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	recordRequest("embed", req.Model, "success", duration)
	recordTokens("embed", req.Model, resp.Usage)
	c.logger.LogAttrs(ctx, slog.LevelInfo, "llm embedding completed",
		slog.String("request_id", requestID),
		slog.String("model", req.Model.String()),
		slog.Int("attempts", attempts),
		slog.Int("vectors", len(resp.Data)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return resp, nil
}

func (c *Client) embed(ctx context.Context, req EmbeddingRequest, requestID string) (*EmbeddingResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, attempts, err := c.doRequestWithRetry(ctx, http.MethodPost, c.provider.EmbeddingsPath(), body, requestID)
	if err != nil {
		return nil, attempts, err
	}

	resp, err := ParseEmbeddingResponse(data)
	return resp, attempts, err
}

// ParseEmbeddingResponse decodes an embeddings body, requiring at least one
// vector.
func ParseEmbeddingResponse(data []byte) (*EmbeddingResponse, error) {
	var resp EmbeddingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ParseError{Field: "data", Reason: "no embeddings returned"}
	}
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, &ParseError{Field: fmt.Sprintf("data[%d].embedding", i), Reason: "empty"}
		}
	}
	return &resp, nil
}

// MakeUncachedEmbeddingRequest embeds a single text with a throwaway client
// using the small embedding model. Extra options can point it elsewhere.
func MakeUncachedEmbeddingRequest(ctx context.Context, text, apiKey string, opts ...ClientOption) ([]float32, error) {
	if text == "" {
		return nil, ErrInputRequired
	}

	c, err := NewClient(append([]ClientOption{WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}

	resp, err := c.Embed(ctx, EmbeddingRequest{Model: EmbeddingModelSmall, Input: text})
	if err != nil {
		return nil, err
	}
	return resp.Data[0].Embedding, nil
}

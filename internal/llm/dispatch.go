package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PauloHFS/llmcache/internal/logging"
)

// MakeRequest returns the response for req and whether it was served from
// the client's cache. A cache miss goes to the network with retries; only
// responses that parse successfully are cached. Store failures are logged
// and otherwise ignored.
func (c *Client) MakeRequest(ctx context.Context, req ChatRequest) (*ChatResponse, bool, error) {
	if ctx == nil {
		return nil, false, ErrNilContext
	}

	if req.Model() == "" {
		req = req.WithModel(c.model)
	}
	if err := req.validate(); err != nil {
		recordError("chat", req.Model(), classifyError(err))
		return nil, false, err
	}

	fp, err := FingerprintOf(req)
	if err != nil {
		recordError("chat", req.Model(), classifyError(err))
		return nil, false, err
	}

	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "llm.MakeRequest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", req.Model().String()),
			attribute.String("llm.fingerprint", fp.String()),
			attribute.String("llm.request_id", requestID),
		),
	)
	defer span.End()

	ctx, event := logging.NewEventContext(ctx)
	event.Add(
		slog.String("request_id", requestID),
		slog.String("model", req.Model().String()),
		slog.String("fingerprint", fp.Short()),
		slog.Int("messages", len(req.messages)),
		slog.Int("tools", len(req.tools)),
	)

	resp, fromCache, err := c.dispatch(ctx, req, fp, requestID)

	duration := time.Since(start)
	span.SetAttributes(attribute.Bool("llm.cache_hit", fromCache))
	event.Add(
		slog.Bool("cache_hit", fromCache),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordRequest("chat", req.Model(), "error", duration)
		recordError("chat", req.Model(), classifyError(err))
		event.Add(
			slog.String("outcome", "error"),
			slog.String("error_type", classifyError(err)),
			slog.String("error", err.Error()),
		)
		c.logger.Log(ctx, slog.LevelError, "llm request failed", event.Attrs()...)
		return nil, false, err
	}

	status := "success"
	if fromCache {
		status = "cached"
	} else {
		recordTokens("chat", req.Model(), resp.Usage)
	}
	recordRequest("chat", req.Model(), status, duration)

	m, _ := resp.FirstMessage()
	event.Add(
		slog.String("outcome", "success"),
		slog.String("reply_kind", m.Kind().String()),
	)
	c.logger.Log(ctx, slog.LevelInfo, "llm request completed", event.Attrs()...)

	return resp, fromCache, nil
}

func (c *Client) dispatch(ctx context.Context, req ChatRequest, fp Fingerprint, requestID string) (*ChatResponse, bool, error) {
	if resp, ok := c.lookup(ctx, req, fp); ok {
		return resp, true, nil
	}

	if !c.singleFlight {
		resp, err := c.fetch(ctx, req, fp, requestID)
		return resp, false, err
	}

	// The shared fetch must outlive any one caller: it runs detached from
	// the leader's cancellation, bounded by the client's own retry budget.
	ch := c.inflight.DoChan(fp.String(), func() (any, error) {
		fetchCtx, cancel := c.detach(ctx)
		defer cancel()
		return c.fetch(fetchCtx, req, fp, requestID)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		resp := res.Val.(*ChatResponse)
		if res.Shared {
			logging.AddToEvent(ctx, slog.Bool("shared", true))
			resp = resp.Clone()
		}
		return resp, false, nil
	}
}

// detach keeps ctx's values (trace span, log event) but not its
// cancellation. The result is bounded by the longest a full retry sequence
// can take, or unbounded when attempts have no timeout.
func (c *Client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return context.WithCancel(detached)
	}
	retries := time.Duration(c.maxRetries)
	budget := (retries+1)*c.timeout + retries*c.backoff.MaxDelay
	return context.WithTimeout(detached, budget)
}

// lookup serves a cached response only when the stored request is the one
// being asked. Anything else counts as a miss.
func (c *Client) lookup(ctx context.Context, req ChatRequest, fp Fingerprint) (*ChatResponse, bool) {
	entry, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		recordCacheLookup(cacheError)
		c.cacheFailure(ctx, &CacheError{Op: "get", Fingerprint: fp, Err: err})
		return nil, false
	}
	if !ok || entry == nil {
		recordCacheLookup(cacheMiss)
		return nil, false
	}
	if entry.Response == nil || !entry.Request.Equal(req) {
		recordCacheLookup(cacheMismatch)
		c.cacheFailure(ctx, &CacheError{Op: "get", Fingerprint: fp, Err: ErrCacheMismatch})
		return nil, false
	}

	recordCacheLookup(cacheHit)
	return entry.Response.Clone(), true
}

func (c *Client) fetch(ctx context.Context, req ChatRequest, fp Fingerprint, requestID string) (*ChatResponse, error) {
	body, err := c.provider.EncodeChat(req)
	if err != nil {
		return nil, err
	}

	data, _, err := c.doRequestWithRetry(ctx, http.MethodPost, c.provider.ChatPath(), body, requestID)
	if err != nil {
		return nil, err
	}

	resp, err := c.provider.DecodeChat(data)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Fingerprint: fp,
		Request:     req,
		Response:    resp.Clone(),
		StoredAt:    time.Now().UTC(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.cacheFailure(ctx, &CacheError{Op: "put", Fingerprint: fp, Err: err})
	}

	return resp, nil
}

func (c *Client) cacheFailure(ctx context.Context, err *CacheError) {
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelDebug
	}
	logging.AddToEvent(ctx, slog.String("cache_error", err.Error()))
	c.logger.LogAttrs(ctx, level, "llm cache unavailable",
		slog.String("op", err.Op),
		slog.String("fingerprint", err.Fingerprint.Short()),
		slog.String("error", err.Err.Error()),
	)
}

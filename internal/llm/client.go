package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/PauloHFS/llmcache/internal/backoff"
	"github.com/PauloHFS/llmcache/internal/httpclient"
	"github.com/PauloHFS/llmcache/internal/logging"
)

const (
	tracerName = "github.com/PauloHFS/llmcache/internal/llm"

	DefaultModel          = ModelGPT4oMini
	DefaultEmbeddingModel = EmbeddingModelSmall

	chatCompletionsPath = "/v1/chat/completions"
	embeddingsPath      = "/v1/embeddings"
)

// maxResponseBytes caps how much of a response body is read.
var maxResponseBytes int64 = 32 << 20

// Client talks to an LLM service through a Provider, OpenAI-compatible by
// default. It owns its credential and its response cache, and is safe for
// concurrent use.
type Client struct {
	provider       Provider
	baseURL        string
	apiKey         string
	model          ModelID
	modelSet       bool
	embeddingModel ModelID
	baseHTTPClient *http.Client
	httpClient     *http.Client
	defaultHeaders map[string]string
	organization   string
	timeout        time.Duration
	maxRetries     int
	backoff        backoff.Config

	store        Store
	logger       *slog.Logger
	limiter      *rate.Limiter
	singleFlight bool
	inflight     singleflight.Group
	tracer       trace.Tracer
}

// WithDefaults builds a client for the public OpenAI endpoint with default
// settings and a private in-memory cache. It performs no network I/O.
func WithDefaults(apiKey string) (*Client, error) {
	return NewClient(WithAPIKey(apiKey))
}

func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		provider:       OpenAIProvider{},
		embeddingModel: DefaultEmbeddingModel,
		timeout:        60 * time.Second,
		maxRetries:     3,
		backoff:        backoff.Default,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.apiKey == "" {
		return nil, &ConfigurationError{Field: "api_key", Err: ErrNoAPIKey}
	}
	if c.baseURL == "" {
		c.baseURL = c.provider.BaseURL()
	}
	if !c.modelSet {
		c.model = c.provider.DefaultModel()
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.logger == nil {
		c.logger = logging.Get()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	cfg := httpclient.Config{Name: "llm", Timeout: c.timeout, Logger: c.logger}
	if c.baseHTTPClient != nil {
		cfg.Transport = c.baseHTTPClient.Transport
		if c.baseHTTPClient.Timeout > 0 {
			cfg.Timeout = c.baseHTTPClient.Timeout
		}
	}
	c.httpClient = httpclient.New(cfg, c.provider.Auth(c.apiKey)).Client

	return c, nil
}

func (c *Client) Model() ModelID {
	return c.model
}

func (c *Client) Store() Store {
	return c.store
}

func (c *Client) Provider() Provider {
	return c.provider
}

// LogValue keeps the credential out of log output.
func (c *Client) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.provider.Name()),
		slog.String("base_url", c.baseURL),
		slog.String("model", c.model.String()),
		slog.Int("max_retries", c.maxRetries),
	)
}

func (c *Client) buildURL(path string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	// Base URLs that already end in /v1 are accepted as well.
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1/") {
		path = strings.TrimPrefix(path, "/v1")
	}
	return base + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, requestID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}

	for key, value := range c.defaultHeaders {
		req.Header.Set(key, value)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// doRequest performs one attempt. Connection failures come back as
// *TransportError and non-2xx statuses as *ServiceError variants.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, requestID string) (data []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "llm.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := c.newRequest(ctx, method, path, body, requestID)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Attempts: 1, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &TransportError{Attempts: 1, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	oversized := int64(len(data)) > maxResponseBytes

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if oversized {
			data = data[:maxResponseBytes]
		}
		return nil, parseServiceError(resp.StatusCode, resp.Header, data)
	}
	if oversized {
		return nil, &ParseError{Reason: fmt.Sprintf("response exceeds %d bytes", maxResponseBytes)}
	}

	return data, nil
}

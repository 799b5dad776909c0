package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/PauloHFS/llmcache/internal/logging"
)

type Client struct {
	*http.Client
	name string
}

type Config struct {
	Name    string
	Timeout time.Duration
	// Transport is the underlying round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Logger receives the per-request log lines; the global logger when nil.
	Logger *slog.Logger
}

type Option func(*Client)

func New(cfg Config, opts ...Option) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Get()
	}

	c := &Client{
		Client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &loggingTransport{
				RoundTripper: base,
				name:         cfg.Name,
				logger:       logger,
			},
		},
		name: cfg.Name,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func Default() *Client {
	return New(Config{
		Name:    "default",
		Timeout: 30 * time.Second,
	})
}

func (c *Client) Name() string {
	return c.name
}

// loggingTransport logs method, URL and status of every round trip. Headers
// are never logged since they carry credentials.
type loggingTransport struct {
	http.RoundTripper
	name   string
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, event := logging.NewEventContext(r.Context())
	event.Add(
		slog.String("http_client", t.name),
		slog.String("method", r.Method),
		slog.String("url", redactURL(r)),
	)

	resp, err := t.RoundTripper.RoundTrip(r.WithContext(ctx))

	duration := time.Since(start)

	if err != nil {
		event.Add(
			slog.String("outcome", "error"),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		t.logger.Log(ctx, slog.LevelError, "http request failed", event.Attrs()...)
		return nil, err
	}

	event.Add(
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}

	t.logger.Log(ctx, level, "http request completed", event.Attrs()...)
	return resp, nil
}

func redactURL(r *http.Request) string {
	u := *r.URL
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

func WithAuth(authFunc func(*http.Request)) Option {
	return func(c *Client) {
		c.Transport = &authTransport{
			RoundTripper: c.Transport,
			authFunc:     authFunc,
		}
	}
}

// WithBearerToken sets the Authorization header on every request.
func WithBearerToken(token string) Option {
	return WithAuth(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
}

type authTransport struct {
	http.RoundTripper
	authFunc func(*http.Request)
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	t.authFunc(r)
	return t.RoundTripper.RoundTrip(r)
}

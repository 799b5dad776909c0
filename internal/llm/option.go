package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	URLOpenAI     = "https://api.openai.com"
	URLOpenRouter = "https://openrouter.ai/api"
)

type ClientOption func(*Client) error

func WithBaseURL(rawURL string) ClientOption {
	return func(c *Client) error {
		u, err := url.Parse(rawURL)
		if rawURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigurationError{Field: "base_url", Err: fmt.Errorf("%w: %q", ErrInvalidBaseURL, rawURL)}
		}
		c.baseURL = rawURL
		return nil
	}
}

func WithAPIKey(key string) ClientOption {
	return func(c *Client) error {
		if key == "" {
			return &ConfigurationError{Field: "api_key", Err: ErrNoAPIKey}
		}
		c.apiKey = key
		return nil
	}
}

// WithProvider selects the service API. Without it the client speaks the
// OpenAI chat completions API. The base URL and default model follow the
// provider unless set explicitly.
func WithProvider(p Provider) ClientOption {
	return func(c *Client) error {
		if p == nil {
			return &ConfigurationError{Field: "provider", Err: ErrUnknownProvider}
		}
		c.provider = p
		return nil
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(model ModelID) ClientOption {
	return func(c *Client) error {
		c.model = model
		c.modelSet = true
		return nil
	}
}

func WithEmbeddingModel(model ModelID) ClientOption {
	return func(c *Client) error {
		c.embeddingModel = model
		return nil
	}
}

// WithHTTPClient uses client's transport and timeout as the base for
// outbound calls. The client itself is not modified.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			client = http.DefaultClient
		}
		c.baseHTTPClient = client
		return nil
	}
}

func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(c *Client) error {
		c.defaultHeaders = make(map[string]string, len(headers))
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
		return nil
	}
}

func WithOrganization(org string) ClientOption {
	return func(c *Client) error {
		c.organization = org
		return nil
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout < 0 {
			return &ConfigurationError{Field: "timeout", Err: fmt.Errorf("negative timeout %v", timeout)}
		}
		c.timeout = timeout
		return nil
	}
}

// WithMaxRetries sets how many times a transient failure is retried. Zero
// disables retries.
func WithMaxRetries(retries int) ClientOption {
	return func(c *Client) error {
		if retries < 0 {
			retries = 0
		}
		c.maxRetries = retries
		return nil
	}
}

func WithRetryWaitRange(min, max time.Duration) ClientOption {
	return func(c *Client) error {
		if min <= 0 {
			min = 500 * time.Millisecond
		}
		if max <= 0 {
			max = 30 * time.Second
		}
		if min > max {
			min, max = max, min
		}
		c.backoff.BaseDelay = min
		c.backoff.MaxDelay = max
		return nil
	}
}

// WithStore replaces the client's private in-memory cache. Clients that
// share a Store share cached responses.
func WithStore(store Store) ClientOption {
	return func(c *Client) error {
		if store == nil {
			return &ConfigurationError{Field: "store", Err: fmt.Errorf("nil store")}
		}
		c.store = store
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithRateLimit caps outbound attempts per second, retries included.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) error {
		if perSecond <= 0 {
			c.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithSingleFlight collapses concurrent cache misses for the same
// fingerprint into one network call.
func WithSingleFlight(enabled bool) ClientOption {
	return func(c *Client) error {
		c.singleFlight = enabled
		return nil
	}
}

func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) error {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
		return nil
	}
}

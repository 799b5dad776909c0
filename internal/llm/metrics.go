package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_request_duration_seconds",
		Help:    "LLM request duration in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "model", "status"})

	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"method", "model"})

	llmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_errors_total",
		Help: "Total number of LLM errors",
	}, []string{"method", "model", "error_type"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Total number of tokens used",
	}, []string{"method", "model", "token_type"})

	llmCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cache_lookups_total",
		Help: "Response cache lookups by result",
	}, []string{"result"})

	llmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Retried LLM HTTP attempts",
	}, []string{"path"})
)

const (
	cacheHit      = "hit"
	cacheMiss     = "miss"
	cacheError    = "error"
	cacheMismatch = "mismatch"
)

func recordRequest(method string, model ModelID, status string, duration time.Duration) {
	llmRequestDuration.WithLabelValues(method, model.String(), status).Observe(duration.Seconds())
	llmRequestsTotal.WithLabelValues(method, model.String()).Inc()
}

func recordError(method string, model ModelID, errorType string) {
	llmErrorsTotal.WithLabelValues(method, model.String(), errorType).Inc()
}

func recordTokens(method string, model ModelID, usage Usage) {
	if usage.PromptTokens > 0 {
		llmTokensTotal.WithLabelValues(method, model.String(), "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		llmTokensTotal.WithLabelValues(method, model.String(), "completion").Add(float64(usage.CompletionTokens))
	}
	if usage.TotalTokens > 0 {
		llmTokensTotal.WithLabelValues(method, model.String(), "total").Add(float64(usage.TotalTokens))
	}
}

func recordCacheLookup(result string) {
	llmCacheLookupsTotal.WithLabelValues(result).Inc()
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case IsAuthError(err):
		return "auth"
	case IsRateLimitError(err):
		return "rate_limit"
	case IsTimeoutError(err):
		return "timeout"
	case IsParseError(err):
		return "parse"
	case IsTransportError(err):
		return "transport"
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) || errors.Is(err, ErrModelRequired) || errors.Is(err, ErrNoMessages) {
		return "config"
	}

	if errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrInvalidToolSchema) ||
		errors.Is(err, ErrUnencodableRequest) || errors.Is(err, ErrUnsupportedParameter) ||
		errors.Is(err, ErrUnsupportedOperation) {
		return "invalid_request"
	}

	if svcErr, ok := asServiceError(err); ok {
		if svcErr.StatusCode >= 400 && svcErr.StatusCode < 500 {
			return "client_error"
		}
		if svcErr.StatusCode >= 500 {
			return "server_error"
		}
	}

	return "unknown"
}

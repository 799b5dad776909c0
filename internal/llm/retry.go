package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PauloHFS/llmcache/internal/backoff"
	"github.com/PauloHFS/llmcache/internal/logging"
)

// doRequestWithRetry runs doRequest until it succeeds, fails with a
// non-retryable error, or maxRetries retries are spent. It returns the body
// of the successful response and the number of attempts made.
func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body []byte, requestID string) ([]byte, int, error) {
	var lastErr error
	attempts := 0

	defer func() {
		logging.AddToEvent(ctx, slog.Int("attempts", attempts))
	}()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryWait(attempt-1, lastErr)
			llmRetriesTotal.WithLabelValues(path).Inc()
			c.logger.LogAttrs(ctx, slog.LevelDebug, "retrying llm request",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.String("reason", lastErr.Error()),
			)
			if err := backoff.Sleep(ctx, wait); err != nil {
				return nil, attempts, err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, attempts, err
			}
		}

		attempts++
		data, err := c.doRequest(ctx, method, path, body, requestID)
		if err == nil {
			return data, attempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}

		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			transportErr.Attempts = attempts
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, attempts, err
		}
	}

	if attempts > 1 {
		return nil, attempts, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, attempts, lastErr
}

// retryWait is the backoff for the given retry, stretched to any delay the
// service asked for, but never past the configured maximum.
func (c *Client) retryWait(retry int, lastErr error) time.Duration {
	wait := backoff.FullJitter(retry, c.backoff)
	if ra := retryAfterOf(lastErr); ra > wait {
		wait = min(ra, c.backoff.MaxDelay)
	}
	return wait
}

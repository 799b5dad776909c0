package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoAPIKey       = errors.New("API key is required")
	ErrInvalidBaseURL = errors.New("invalid base URL")
	ErrNilContext     = errors.New("context cannot be nil")
	ErrRequestFailed  = errors.New("request failed")
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrCacheMismatch  = errors.New("cached request does not match")
)

// ConfigurationError reports a client that cannot be built as asked.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is a failure to get any HTTP response from the service,
// reported once all attempts are spent.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrRequestFailed, e.Err}
}

type serviceErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ServiceError is a non-success HTTP status returned by the service.
type ServiceError struct {
	StatusCode int
	Message    string
	Type       string
	Param      string
	Code       any
	RequestID  string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return ErrRequestFailed
}

type RateLimitError struct {
	ServiceError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Message)
}

func (e *RateLimitError) Unwrap() error {
	return &e.ServiceError
}

type AuthenticationError struct {
	ServiceError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return &e.ServiceError
}

type TimeoutError struct {
	ServiceError
	RetryAfter time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout (status %d): %s", e.StatusCode, e.Message)
}

func (e *TimeoutError) Unwrap() error {
	return &e.ServiceError
}

type InvalidRequestError struct {
	ServiceError
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request (status %d): %s", e.StatusCode, e.Message)
}

func (e *InvalidRequestError) Unwrap() error {
	return &e.ServiceError
}

// ParseError reports a response body that does not have the expected
// shape. Field is a JSON path such as "choices[0].message".
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse response"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CacheError is a store failure. The dispatcher logs it and carries on
// without the cache.
type CacheError struct {
	Op          string
	Fingerprint Fingerprint
	Err         error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Fingerprint.Short(), e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func parseServiceError(statusCode int, header http.Header, body []byte) error {
	svcErr := ServiceError{
		StatusCode: statusCode,
		RequestID:  header.Get("X-Request-Id"),
	}

	var resp serviceErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		svcErr.Message = strings.TrimSpace(string(body))
		if svcErr.Message == "" {
			svcErr.Message = http.StatusText(statusCode)
		}
	} else {
		svcErr.Message = resp.Error.Message
		svcErr.Type = resp.Error.Type
		svcErr.Param = resp.Error.Param
		svcErr.Code = resp.Error.Code
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{ServiceError: svcErr}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			ServiceError: svcErr,
			RetryAfter:   parseRetryAfter(header.Get("Retry-After"), time.Now()),
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &InvalidRequestError{ServiceError: svcErr}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return &TimeoutError{
			ServiceError: svcErr,
			RetryAfter:   parseRetryAfter(header.Get("Retry-After"), time.Now()),
		}
	default:
		return &svcErr
	}
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if n, err := strconv.Atoi(value); err == nil {
		if n <= 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}

	return 0
}

func asServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func IsRateLimitError(err error) bool {
	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsRetryableError reports whether err is a transient failure worth another
// attempt.
func IsRetryableError(err error) bool {
	if IsRateLimitError(err) || IsTimeoutError(err) || IsTransportError(err) {
		return true
	}

	if svcErr, ok := asServiceError(err); ok {
		return isRetryableStatus(svcErr.StatusCode)
	}

	return false
}

func isRetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code < 600:
		return code != http.StatusNotImplemented && code != http.StatusHTTPVersionNotSupported
	default:
		return false
	}
}

func retryAfterOf(err error) time.Duration {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.RetryAfter
	}
	return 0
}

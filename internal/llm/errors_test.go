package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseServiceError(t *testing.T) {
	body := []byte(`{"error":{"message":"bad things","type":"invalid_request_error","param":"messages","code":"x"}}`)

	tests := []struct {
		status    int
		check     func(error) bool
		retryable bool
	}{
		{http.StatusBadRequest, isInvalidRequest, false},
		{http.StatusUnprocessableEntity, isInvalidRequest, false},
		{http.StatusUnauthorized, IsAuthError, false},
		{http.StatusForbidden, IsAuthError, false},
		{http.StatusNotFound, isServiceError, false},
		{http.StatusRequestTimeout, IsTimeoutError, true},
		{http.StatusTooManyRequests, IsRateLimitError, true},
		{http.StatusInternalServerError, isServiceError, true},
		{http.StatusNotImplemented, isServiceError, false},
		{http.StatusBadGateway, isServiceError, true},
		{http.StatusGatewayTimeout, IsTimeoutError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := parseServiceError(tt.status, http.Header{}, body)
			if !tt.check(err) {
				t.Errorf("parseServiceError(%d) = %T", tt.status, err)
			}
			if IsRetryableError(err) != tt.retryable {
				t.Errorf("IsRetryableError = %v, want %v", !tt.retryable, tt.retryable)
			}
			if !errors.Is(err, ErrRequestFailed) {
				t.Error("error does not wrap ErrRequestFailed")
			}
			svcErr, ok := asServiceError(err)
			if !ok {
				t.Fatal("not a *ServiceError")
			}
			if svcErr.StatusCode != tt.status || svcErr.Message != "bad things" || svcErr.Param != "messages" {
				t.Errorf("ServiceError = %+v", svcErr)
			}
		})
	}
}

func isInvalidRequest(err error) bool {
	var e *InvalidRequestError
	return errors.As(err, &e)
}

func isServiceError(err error) bool {
	_, ok := asServiceError(err)
	return ok
}

func TestParseServiceError_PlainBody(t *testing.T) {
	err := parseServiceError(http.StatusBadGateway, http.Header{}, []byte("upstream down\n"))
	svcErr, ok := asServiceError(err)
	if !ok || svcErr.Message != "upstream down" {
		t.Errorf("error = %v", err)
	}

	err = parseServiceError(http.StatusServiceUnavailable, http.Header{}, nil)
	if svcErr, _ := asServiceError(err); svcErr.Message != "Service Unavailable" {
		t.Errorf("Message = %q", svcErr.Message)
	}
}

func TestParseServiceError_RetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	err := parseServiceError(http.StatusTooManyRequests, h, nil)
	if got := retryAfterOf(err); got != 3*time.Second {
		t.Errorf("retryAfterOf() = %v, want 3s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"-5", 0},
		{"12", 12 * time.Second},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransportError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Attempts: 3, Err: inner}

	if !errors.Is(err, inner) || !errors.Is(err, ErrRequestFailed) {
		t.Error("TransportError does not unwrap to its cause and ErrRequestFailed")
	}
	if !IsRetryableError(err) {
		t.Error("TransportError is not retryable")
	}
}

func TestConfigurationAndCacheErrors(t *testing.T) {
	cfgErr := &ConfigurationError{Field: "api_key", Err: ErrNoAPIKey}
	if !errors.Is(cfgErr, ErrNoAPIKey) || IsRetryableError(cfgErr) {
		t.Errorf("ConfigurationError = %v", cfgErr)
	}

	cacheErr := &CacheError{Op: "get", Fingerprint: "abcdef0123456789", Err: ErrCacheMismatch}
	if !errors.Is(cacheErr, ErrCacheMismatch) {
		t.Error("CacheError does not unwrap")
	}
	if got := cacheErr.Error(); got != "cache get abcdef012345: cached request does not match" {
		t.Errorf("Error() = %q", got)
	}

	if IsRetryableError(&ParseError{Reason: "x"}) {
		t.Error("ParseError must not be retryable")
	}
}

func TestClassifyError(t *testing.T) {
	tests := map[string]error{
		"auth":         &AuthenticationError{ServiceError{StatusCode: 401}},
		"rate_limit":   &RateLimitError{ServiceError: ServiceError{StatusCode: 429}},
		"timeout":      &TimeoutError{ServiceError: ServiceError{StatusCode: 504}},
		"parse":        &ParseError{Reason: "x"},
		"transport":    &TransportError{Err: errors.New("x")},
		"config":       &ConfigurationError{Field: "x", Err: errors.New("x")},
		"client_error": &ServiceError{StatusCode: 404},
		"server_error": &ServiceError{StatusCode: 500},
		"unknown":      errors.New("x"),
	}
	for want, err := range tests {
		if got := classifyError(err); got != want {
			t.Errorf("classifyError(%v) = %q, want %q", err, got, want)
		}
	}
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrQuotaExhausted is returned when no model identity has daily headroom
	// left. It ends the remaining batch.
	ErrQuotaExhausted = errors.New("quota exhausted: no model identity has headroom")

	// ErrNotConfigured is returned when the client has no provider.
	ErrNotConfigured = errors.New("extraction provider not configured")
)

// ErrorKind categorizes provider failures for the retry loop.
type ErrorKind int

const (
	// KindPermanent aborts the call immediately.
	KindPermanent ErrorKind = iota
	// KindTransient is retried with backoff.
	KindTransient
	// KindQuotaExceeded is the provider's own quota signal for the model.
	KindQuotaExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "permanent"
	}
}

// ProviderError is a classified failure from the AI provider.
type ProviderError struct {
	Kind ErrorKind
	Code int
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s error (HTTP %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify wraps err in a ProviderError. Errors that are already classified
// are returned unchanged.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	// The SDK has returned APIError both by value and by pointer.
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyAPIError(*apiErrPtr, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTransient, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: KindPermanent, Err: err}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case isQuotaMessage(errLower):
		return &ProviderError{Kind: KindQuotaExceeded, Err: err}
	case strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "unavailable") ||
		strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "too many requests") ||
		strings.Contains(errLower, "connection reset") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "eof"):
		return &ProviderError{Kind: KindTransient, Err: err}
	default:
		return &ProviderError{Kind: KindPermanent, Err: err}
	}
}

// classifyAPIError categorizes a Gemini API error by status code.
func classifyAPIError(apiErr genai.APIError, err error) *ProviderError {
	switch apiErr.Code {
	case 429:
		if isQuotaMessage(strings.ToLower(apiErr.Message)) || strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return &ProviderError{Kind: KindQuotaExceeded, Code: apiErr.Code, Err: err}
		}
		return &ProviderError{Kind: KindTransient, Code: apiErr.Code, Err: err}
	case 500, 502, 503, 504:
		return &ProviderError{Kind: KindTransient, Code: apiErr.Code, Err: err}
	default:
		return &ProviderError{Kind: KindPermanent, Code: apiErr.Code, Err: err}
	}
}

func isQuotaMessage(s string) bool {
	return strings.Contains(s, "quota") || strings.Contains(s, "resource exhausted") || strings.Contains(s, "resource_exhausted")
}

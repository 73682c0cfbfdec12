package auth

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/cinema-sync/internal/extract"
	"github.com/fpang/cinema-sync/internal/metrics"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	ErrTypeNoKey ValidationErrorType = iota
	ErrTypeInvalidKey
	ErrTypeNetworkError
	ErrTypeQuotaExceeded
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ModelGetter looks up model metadata. client.Models satisfies it.
type ModelGetter interface {
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// ValidateAPIKey checks the key with a metadata lookup of model, which
// consumes no generation quota.
func ValidateAPIKey(ctx context.Context, models ModelGetter, model string) error {
	log.Debug().Str("model", model).Msg("Validating Gemini API key")

	start := time.Now()
	info, err := models.Get(ctx, model, nil)
	elapsed := time.Since(start)

	var verr *ValidationError
	switch {
	case err != nil:
		verr = classifyError(err)
	case info == nil || info.Name == "":
		verr = &ValidationError{Type: ErrTypeUnknown, Message: "Gemini API returned an empty model description"}
	}

	result := "success"
	if verr != nil {
		result = verr.Type.String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if verr != nil {
		log.Error().Err(verr).Str("result", result).Msg("API key validation failed")
		return verr
	}
	log.Info().Str("model", info.Name).Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// classifyError maps a provider error onto a validation failure type.
func classifyError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	pe := extract.Classify(err)
	errLower := strings.ToLower(err.Error())

	switch {
	case pe.Code == 400:
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case pe.Code == 401 || pe.Code == 403 ||
		strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case pe.Kind == extract.KindQuotaExceeded || pe.Code == 429:
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}
	case pe.Kind == extract.KindTransient ||
		strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Network error - check your internet connection", Err: err}
	default:
		return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
	}
}

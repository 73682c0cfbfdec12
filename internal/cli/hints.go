package cli

import (
	"errors"

	"github.com/fpang/cinema-sync/internal/auth"
)

// ValidationHint returns the operator-facing message for a key check failure.
func ValidationHint(err error) string {
	var verr *auth.ValidationError
	if !errors.As(err, &verr) {
		return "Unexpected error during API key validation"
	}
	switch verr.Type {
	case auth.ErrTypeNoKey:
		return "No Gemini API key configured. Set GEMINI_API_KEY or store it in ~/.cinema-sync/gemini.gpg"
	case auth.ErrTypeInvalidKey:
		return "Invalid Gemini API key. Check the key and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Check your internet connection"
	case auth.ErrTypeQuotaExceeded:
		return "Gemini quota exceeded. Try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}

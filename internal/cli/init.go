package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/cinema-sync/internal/auth"
	"github.com/fpang/cinema-sync/internal/extract"
)

// InitGeminiClient resolves the Gemini key, creates a client, and checks the
// key against model. It exits fatally when any step fails.
func InitGeminiClient(ctx context.Context, model string) *genai.Client {
	apiKey, err := auth.GetAPIKey(auth.Gemini)
	if err != nil {
		HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no Gemini API key", Err: err})
	}

	client, err := extract.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	if err := auth.ValidateAPIKey(ctx, client.Models, model); err != nil {
		HandleValidationError(err)
	}

	log.Info().Str("model", model).Msg("Gemini client ready")
	return client
}

// HandleValidationError logs a validation failure with operator guidance
// and exits.
func HandleValidationError(err error) {
	log.Fatal().Err(err).Msg(ValidationHint(err))
}

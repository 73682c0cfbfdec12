package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Response is the provider output for one prompt.
type Response struct {
	Text string
	// TotalTokens is the provider-reported usage, or 0 when unknown.
	TotalTokens int64
}

// Generator sends one prompt to one model identity.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (Response, error)
}

// GeminiGenerator adapts a genai client to Generator.
type GeminiGenerator struct {
	client *genai.Client
	config *genai.GenerateContentConfig
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiGenerator wraps client. Generation runs at low temperature so
// repeated runs over the same listing return the same titles.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{
		client: client,
		config: &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.1),
		},
	}
}

// Generate calls Models.GenerateContent.
func (g *GeminiGenerator) Generate(ctx context.Context, model, prompt string) (Response, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), g.config)
	elapsed := time.Since(start)
	if err != nil {
		log.Debug().Err(err).Str("model", model).Dur("duration", elapsed).Msg("Gemini call failed")
		return Response{}, err
	}
	if resp == nil {
		return Response{}, fmt.Errorf("received empty response from Gemini API")
	}

	out := Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	log.Debug().
		Str("model", model).
		Int("response_length", len(out.Text)).
		Int64("tokens", out.TotalTokens).
		Dur("duration", elapsed).
		Msg("Gemini response received")
	return out, nil
}

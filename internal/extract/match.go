package extract

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/assets"
	"github.com/fpang/cinema-sync/internal/jsonutil"
)

// MaxCandidates bounds the candidate list placed in one matching prompt.
const MaxCandidates = 50

// Candidate is one catalog entry offered to the provider.
type Candidate struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	OriginalTitle string `json:"originalTitle,omitempty"`
	ReleaseDate   string `json:"releaseDate,omitempty"`
}

// matchPayload is the JSON shape the matching prompt asks for.
type matchPayload struct {
	ID *int `json:"id"`
}

// MatchTitleAgainstCandidates asks the provider which candidate is title.
// It returns ok=false for "no match", including unparsable answers and
// identifiers outside the candidate list. Errors are reserved for quota
// and provider failures.
func (c *Client) MatchTitleAgainstCandidates(ctx context.Context, title string, candidates []Candidate) (int, bool, error) {
	if !c.Configured() {
		return 0, false, ErrNotConfigured
	}
	if len(candidates) == 0 {
		return 0, false, nil
	}
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	list, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return 0, false, err
	}
	prompt := assets.RenderMatchTitlePrompt(assets.MatchTitleData{
		Title:      title,
		Candidates: string(list),
	})

	resp, err := c.call(ctx, "match", prompt)
	if err != nil {
		return 0, false, err
	}

	id, ok := parseMatch(resp.Text, candidates)
	log.Debug().Str("title", title).Bool("matched", ok).Int("id", id).Msg("AI candidate match")
	return id, ok, nil
}

func parseMatch(raw string, candidates []Candidate) (int, bool) {
	p, err := jsonutil.ParseJSON[matchPayload](raw)
	if err != nil {
		log.Warn().Err(err).Msg("Unparsable matching response, treating as no match")
		return 0, false
	}
	if p.ID == nil {
		return 0, false
	}
	for _, cand := range candidates {
		if cand.ID == *p.ID {
			return cand.ID, true
		}
	}
	log.Warn().Int("id", *p.ID).Msg("Matching response named an id outside the candidates")
	return 0, false
}

package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/assets"
	"github.com/fpang/cinema-sync/internal/jsonutil"
)

// titlesPayload is the JSON shape the extraction prompt asks for.
type titlesPayload struct {
	Movies []string `json:"movies"`
}

var leadingDigits = regexp.MustCompile(`^\d`)

// ExtractTitles asks the provider for the titles currently showing in text.
// The result is deduplicated, order-preserving, and capped.
func (c *Client) ExtractTitles(ctx context.Context, text, contextName string) ([]string, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		log.Info().Str("cinema", contextName).Msg("No listing content to extract from")
		return nil, nil
	}

	prompt := assets.RenderExtractTitlesPrompt(assets.ExtractTitlesData{
		CinemaName: contextName,
		Content:    text,
		MaxTitles:  c.maxTitles,
	})

	resp, err := c.call(ctx, "extract", prompt)
	if err != nil {
		return nil, err
	}

	titles := ParseTitles(resp.Text, c.maxTitles)
	log.Info().Str("cinema", contextName).Int("titles", len(titles)).Msg("Extracted listing titles")
	return titles, nil
}

// ParseTitles reads the title list from a provider response. When the
// response holds no usable JSON, a line scan of the raw text is used instead.
func ParseTitles(raw string, maxTitles int) []string {
	if p, err := jsonutil.ParseJSON[titlesPayload](raw); err == nil && p.Movies != nil {
		return Dedupe(p.Movies, maxTitles)
	}
	if list, err := jsonutil.ParseJSON[[]string](raw); err == nil {
		return Dedupe(list, maxTitles)
	}

	log.Warn().Int("response_length", len(raw)).Msg("Provider response is not valid JSON, scanning lines for titles")
	return Dedupe(titlesFromLines(raw, maxTitles), maxTitles)
}

// titlesFromLines keeps lines that plausibly hold a single title.
func titlesFromLines(raw string, maxTitles int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		t := strings.TrimSpace(line)
		n := len([]rune(t))
		if n < 3 || n > 99 {
			continue
		}
		if strings.HasPrefix(t, "-") || strings.HasPrefix(t, "*") || leadingDigits.MatchString(t) {
			continue
		}
		if strings.Contains(strings.ToLower(t), "http") {
			continue
		}
		if strings.ContainsAny(t, "{}[]") || strings.HasPrefix(t, "```") {
			continue
		}
		if !strings.ContainsFunc(t, unicode.IsLetter) {
			continue
		}
		out = append(out, t)
		if maxTitles > 0 && len(out) >= maxTitles {
			break
		}
	}
	return out
}

// Dedupe drops blank titles and repeats that differ only in case or
// spacing. The first rendering of each title is kept.
func Dedupe(titles []string, maxTitles int) []string {
	seen := make(map[string]bool, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := dedupeKey(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if maxTitles > 0 && len(out) >= maxTitles {
			break
		}
	}
	return out
}

func dedupeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

package assets

import (
	"strings"
	"testing"
)

func TestRenderExtractTitlesPrompt(t *testing.T) {
	got := RenderExtractTitlesPrompt(ExtractTitlesData{
		CinemaName: "Cines Verdi",
		Content:    "Cartelera: Dune",
		MaxTitles:  20,
	})
	for _, want := range []string{`llamado "Cines Verdi"`, "Cartelera: Dune", "como máximo 20", `"movies"`} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRenderExtractTitlesPromptWithoutName(t *testing.T) {
	got := RenderExtractTitlesPrompt(ExtractTitlesData{Content: "x", MaxTitles: 5})
	if strings.Contains(got, "llamado") {
		t.Error("expected no cinema name clause")
	}
}

func TestRenderMatchTitlePrompt(t *testing.T) {
	got := RenderMatchTitlePrompt(MatchTitleData{
		Title:      "La sociedad de la nieve",
		Candidates: `[{"id":906126,"title":"La sociedad de la nieve"}]`,
	})
	if !strings.Contains(got, `"La sociedad de la nieve"`) || !strings.Contains(got, "906126") {
		t.Errorf("unexpected prompt: %s", got)
	}
}

// Package assets provides the prompt templates sent to Gemini.
//
// Templates are stored as text files under prompts/ and embedded at compile
// time so prompt wording can change without touching Go code.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed prompts/extract-titles.txt
var extractTitlesTemplate string

//go:embed prompts/match-title.txt
var matchTitleTemplate string

var (
	extractTitlesTmpl = template.Must(template.New("extract-titles").Parse(extractTitlesTemplate))
	matchTitleTmpl    = template.Must(template.New("match-title").Parse(matchTitleTemplate))
)

// ExtractTitlesData is the input for the listing extraction prompt.
type ExtractTitlesData struct {
	CinemaName string
	Content    string
	MaxTitles  int
}

// MatchTitleData is the input for the candidate matching prompt.
// Candidates is a pre-rendered JSON list of {id, title, originalTitle, releaseDate}.
type MatchTitleData struct {
	Title      string
	Candidates string
}

// RenderExtractTitlesPrompt renders the prompt asking for current-listing titles.
func RenderExtractTitlesPrompt(data ExtractTitlesData) string {
	return render(extractTitlesTmpl, data)
}

// RenderMatchTitlePrompt renders the prompt asking for the best candidate id.
func RenderMatchTitlePrompt(data MatchTitleData) string {
	return render(matchTitleTmpl, data)
}

// render executes a pre-parsed template. Execution errors are not expected
// with these templates; whatever was rendered is returned.
func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

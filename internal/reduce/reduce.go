// Package reduce cuts a cinema web page down to the plain text most likely
// to hold its movie listing, bounded in size so the extraction prompt stays
// cheap.
package reduce

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// DefaultMaxChars bounds the reduced text.
const DefaultMaxChars = 15000

// DefaultKeywords are the Spanish and English terms for movie, showtimes
// and cinema that mark a listing section.
var DefaultKeywords = []string{
	"película", "pelicula", "cartelera", "cine", "horarios", "sesiones",
	"movie", "film", "showtimes",
}

// listingSelectors are the containers scanned for keywords, in order.
var listingSelectors = []string{
	"section",
	`div[class*="movie"]`,
	`div[class*="pelicula"]`,
	`div[class*="cartelera"]`,
	`div[class*="film"]`,
	"main",
	"article",
}

// strategy returns the HTML it selected, or "" to defer to the next one.
type strategy struct {
	name  string
	apply func(doc *goquery.Document) string
}

// Reducer is stateless after construction and safe for concurrent use.
type Reducer struct {
	maxChars   int
	keywords   []string
	strategies []strategy
}

// New creates a Reducer. maxChars <= 0 uses DefaultMaxChars.
func New(maxChars int) *Reducer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	r := &Reducer{maxChars: maxChars, keywords: DefaultKeywords}
	r.strategies = []strategy{
		{name: "keywords", apply: r.keywordSections},
		{name: "main", apply: firstHTML("main, [role='main']")},
		{name: "body", apply: firstHTML("body")},
	}
	return r
}

// MaxChars returns the output bound.
func (r *Reducer) MaxChars() int {
	return r.maxChars
}

// Reduce runs ExtractRelevantSection then Simplify.
func (r *Reducer) Reduce(rawHTML string) string {
	return Simplify(r.ExtractRelevantSection(rawHTML), r.maxChars)
}

// ExtractRelevantSection returns the HTML of the listing containers. It falls
// back to the main region, then the body, then the input itself.
func (r *Reducer) ExtractRelevantSection(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		log.Debug().Err(err).Msg("Unparsable HTML, using raw input")
		return rawHTML
	}
	for _, s := range r.strategies {
		if out := s.apply(doc); strings.TrimSpace(out) != "" {
			log.Debug().Str("strategy", s.name).Int("length", len(out)).Msg("Selected listing section")
			return out
		}
	}
	return rawHTML
}

// keywordSections concatenates every listing container whose text mentions
// a keyword. Containers nested in (or enclosing) one already taken are
// skipped so no text is repeated.
func (r *Reducer) keywordSections(doc *goquery.Document) string {
	var (
		taken []*html.Node
		b     strings.Builder
	)
	for _, sel := range listingSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			for _, t := range taken {
				if contains(t, node) || contains(node, t) {
					return
				}
			}
			if !r.mentionsKeyword(s.Text()) {
				return
			}
			h, err := s.Html()
			if err != nil || strings.TrimSpace(h) == "" {
				return
			}
			taken = append(taken, node)
			b.WriteString(h)
			b.WriteByte('\n')
		})
	}
	return b.String()
}

func (r *Reducer) mentionsKeyword(text string) bool {
	text = strings.ToLower(text)
	for _, k := range r.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func firstHTML(selector string) func(doc *goquery.Document) string {
	return func(doc *goquery.Document) string {
		h, err := doc.Find(selector).First().Html()
		if err != nil {
			return ""
		}
		return h
	}
}

// contains reports whether n is ancestor or equal to other.
func contains(n, other *html.Node) bool {
	for p := other; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

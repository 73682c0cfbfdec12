package reduce

import (
	"strings"
	"testing"
	"unicode/utf8"
)

const listingPage = `<!DOCTYPE html>
<html><head><title>Cine Sol</title><style>.a{color:red}</style></head>
<body>
  <nav>Inicio | Contacto | Aviso legal</nav>
  <section class="hero"><h1>Bienvenidos</h1></section>
  <section class="listing">
    <h2>Cartelera</h2>
    <div class="movie-card"><h3>Dune: Parte Dos</h3><span>18:00</span></div>
    <div class="movie-card"><h3>Wonka</h3><span>20:30</span></div>
  </section>
  <script>var tracking = "película";</script>
  <footer>© Cine Sol</footer>
</body></html>`

func TestExtractRelevantSectionPrefersKeywordContainers(t *testing.T) {
	r := New(0)
	got := r.ExtractRelevantSection(listingPage)

	if !strings.Contains(got, "Dune: Parte Dos") || !strings.Contains(got, "Wonka") {
		t.Fatalf("listing missing from section: %q", got)
	}
	if strings.Contains(got, "Bienvenidos") || strings.Contains(got, "Aviso legal") {
		t.Errorf("non-listing content selected: %q", got)
	}
	if n := strings.Count(got, "Wonka"); n != 1 {
		t.Errorf("nested containers must not repeat content, found %d copies", n)
	}
}

func TestExtractRelevantSectionFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains string
		excludes string
	}{
		{
			name:     "main region",
			in:       `<html><body><nav>Menú</nav><main><p>Estrenos</p></main></body></html>`,
			contains: "Estrenos",
			excludes: "Menú",
		},
		{
			name:     "body",
			in:       `<html><body><p>Solo texto</p></body></html>`,
			contains: "Solo texto",
		},
		{
			name:     "raw input",
			in:       ``,
			contains: "",
		},
	}
	r := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ExtractRelevantSection(tt.in)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, got)
			}
			if tt.excludes != "" && strings.Contains(got, tt.excludes) {
				t.Errorf("did not expect %q in %q", tt.excludes, got)
			}
		})
	}
}

func TestSimplify(t *testing.T) {
	in := `<div>Dune&nbsp;2 &amp; <b>Wonka</b><!-- oculto --><script>alert(1)</script>
	<style>p{}</style><noscript>Activa JS</noscript>   &quot;Oppenheimer&quot;</div>`
	got := Simplify(in, 1000)
	want := "Dune 2 & Wonka \"Oppenheimer\""
	if collapse(got) != collapse(want) {
		t.Errorf("got %q, want %q", got, want)
	}
	for _, bad := range []string{"oculto", "alert", "p{}", "Activa JS", "<", ">"} {
		if strings.Contains(got, bad) {
			t.Errorf("output contains %q: %q", bad, got)
		}
	}
}

func TestReduceBoundedAndDeterministic(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body><section><h2>Cartelera</h2>")
	for i := 0; i < 2000; i++ {
		b.WriteString("<p>Película número ñ ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("</p>")
	}
	b.WriteString("</section></body></html>")
	page := b.String()

	r := New(500)
	first := r.Reduce(page)
	if n := utf8.RuneCountInString(first); n > 500 {
		t.Fatalf("output has %d runes, cap 500", n)
	}
	for i := 0; i < 3; i++ {
		if again := r.Reduce(page); again != first {
			t.Fatalf("reduce is not deterministic")
		}
	}
	if twice := r.Reduce(first); twice != first {
		t.Errorf("reducing reduced text changed it:\n%q\n%q", first, twice)
	}
}

func TestReduceListingPage(t *testing.T) {
	got := New(0).Reduce(listingPage)
	want := "Cartelera Dune: Parte Dos 18:00 Wonka 20:30"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key", "")
	c.baseURL = srv.URL
	return c
}

func TestSearchByTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/movie" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("query") != "Dune: Parte Dos" || q.Get("api_key") != "test-key" || q.Get("language") != "es-ES" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`{"page":1,"results":[{"id":693134,"title":"Dune: Parte dos","original_title":"Dune: Part Two","release_date":"2024-02-27"}],"total_pages":1,"total_results":1}`))
	})

	movies, err := c.SearchByTitle(context.Background(), "Dune: Parte Dos")
	if err != nil {
		t.Fatalf("SearchByTitle: %v", err)
	}
	if len(movies) != 1 || movies[0].ID != 693134 || movies[0].OriginalTitle != "Dune: Part Two" {
		t.Errorf("unexpected movies %+v", movies)
	}
}

func TestListPopularPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/popular" || r.URL.Query().Get("page") != "2" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"page":2,"results":[{"id":1,"title":"A"},{"id":2,"title":"B"}]}`))
	})

	movies, err := c.ListPopular(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListPopular: %v", err)
	}
	if len(movies) != 2 {
		t.Errorf("expected 2 movies, got %d", len(movies))
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status_code":7,"status_message":"Invalid API key: You must be granted a valid key."}`))
	})

	_, err := c.SearchByTitle(context.Background(), "Wonka")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusUnauthorized || se.Message == "" {
		t.Errorf("unexpected error %+v", se)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient("", "")
	if _, err := c.ListPopular(context.Background(), 1); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

type countingSearcher struct {
	searches int
	pages    int
	err      error
}

func (c *countingSearcher) SearchByTitle(context.Context, string) ([]Movie, error) {
	c.searches++
	if c.err != nil {
		return nil, c.err
	}
	return []Movie{{ID: 1, Title: "Wonka"}}, nil
}

func (c *countingSearcher) ListPopular(context.Context, int) ([]Movie, error) {
	c.pages++
	if c.err != nil {
		return nil, c.err
	}
	return []Movie{{ID: 2, Title: "Oppenheimer"}}, nil
}

func TestCachedClientMemoizesNormalizedTitles(t *testing.T) {
	next := &countingSearcher{}
	c, err := NewCachedClient(next, 8)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, title := range []string{"Wonka", "  wonka ", "WONKA"} {
		if _, err := c.SearchByTitle(ctx, title); err != nil {
			t.Fatal(err)
		}
	}
	c.ListPopular(ctx, 1)
	c.ListPopular(ctx, 1)
	if next.searches != 1 || next.pages != 1 {
		t.Errorf("expected one upstream call each, got searches=%d pages=%d", next.searches, next.pages)
	}
}

func TestCachedClientDoesNotCacheErrors(t *testing.T) {
	next := &countingSearcher{err: errors.New("down")}
	c, _ := NewCachedClient(next, 8)
	c.SearchByTitle(context.Background(), "Wonka")
	c.SearchByTitle(context.Background(), "Wonka")
	if next.searches != 2 {
		t.Errorf("errors must not be cached, got %d upstream calls", next.searches)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &countingSearcher{err: errors.New("connection refused")}
	b := NewBreakerClient(next)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.SearchByTitle(ctx, "Wonka")
	}
	if next.searches != 5 {
		t.Fatalf("expected 5 upstream calls, got %d", next.searches)
	}
	if _, err := b.SearchByTitle(ctx, "Wonka"); err == nil {
		t.Fatal("expected open-circuit error")
	}
	if next.searches != 5 {
		t.Errorf("open circuit must not call upstream, got %d calls", next.searches)
	}
	if b.State() != "open" {
		t.Errorf("expected open state, got %s", b.State())
	}
}

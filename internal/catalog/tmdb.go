// Package catalog is a small client for The Movie Database (TMDB) API, the
// external catalog that extracted listing titles are resolved against.
//
// Only the two endpoints the sync needs are implemented: movie search and
// the popular-movies list used to build the AI matching candidate pool.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultBaseURL is the TMDB v3 API base URL.
	defaultBaseURL = "https://api.themoviedb.org/3"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 15 * time.Second

	// DefaultLanguage localizes titles for Spanish listings.
	DefaultLanguage = "es-ES"
)

// ErrNoAPIKey is returned when the client has no credentials.
var ErrNoAPIKey = errors.New("TMDB API key not configured")

// Movie is the subset of a TMDB movie result used for matching.
type Movie struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	ReleaseDate   string  `json:"release_date,omitempty"`
	Popularity    float64 `json:"popularity,omitempty"`
}

// StatusError is a non-2xx response from TMDB.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("TMDB %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("TMDB %s: HTTP %d", e.Endpoint, e.StatusCode)
}

// pageResponse is the paged result envelope shared by search and popular.
type pageResponse struct {
	Page         int     `json:"page"`
	Results      []Movie `json:"results"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
}

// errorResponse is the TMDB error body.
type errorResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// Client calls the TMDB v3 API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	language   string
	baseURL    string
}

// NewClient creates a TMDB client. language defaults to es-ES when empty.
func NewClient(apiKey, language string) *Client {
	if language == "" {
		language = DefaultLanguage
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiKey:     apiKey,
		language:   language,
		baseURL:    defaultBaseURL,
	}
}

// SearchByTitle returns the first page of search results, ranked by TMDB.
func (c *Client) SearchByTitle(ctx context.Context, title string) ([]Movie, error) {
	params := url.Values{
		"query": {title},
		"page":  {"1"},
	}
	resp, err := c.get(ctx, "/search/movie", params)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", title, err)
	}
	log.Debug().Str("title", title).Int("results", len(resp.Results)).Msg("TMDB search complete")
	return resp.Results, nil
}

// ListPopular returns one page (1-based) of currently popular movies.
func (c *Client) ListPopular(ctx context.Context, page int) ([]Movie, error) {
	if page < 1 {
		page = 1
	}
	resp, err := c.get(ctx, "/movie/popular", url.Values{"page": {strconv.Itoa(page)}})
	if err != nil {
		return nil, fmt.Errorf("popular page %d: %w", page, err)
	}
	log.Debug().Int("page", page).Int("results", len(resp.Results)).Msg("TMDB popular page loaded")
	return resp.Results, nil
}

// get performs an authenticated GET and decodes a paged response.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*pageResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	params.Set("api_key", c.apiKey)
	params.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		statusErr := &StatusError{Endpoint: endpoint, StatusCode: httpResp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil {
			statusErr.Message = apiErr.StatusMessage
		}
		return nil, statusErr
	}

	var out pageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

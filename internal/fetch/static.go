package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds a static download.
const maxBodyBytes = 10 << 20

// StaticRenderer fetches the server-rendered HTML with one GET.
type StaticRenderer struct {
	client *http.Client
}

var _ Renderer = (*StaticRenderer)(nil)

// NewStaticRenderer creates a StaticRenderer. Timeouts come from Options.
func NewStaticRenderer() *StaticRenderer {
	return &StaticRenderer{client: &http.Client{}}
}

// Render performs the GET with browser-like headers.
func (s *StaticRenderer) Render(ctx context.Context, url string, opts Options) (string, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Strategy: string(ModeStatic), Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", AcceptLanguage)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Strategy: string(ModeStatic), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: url, Strategy: string(ModeStatic), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &FetchError{URL: url, Strategy: string(ModeStatic), Cause: fmt.Errorf("read body: %w", err)}
	}
	return string(body), nil
}

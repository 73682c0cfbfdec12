// Package fetch retrieves cinema web pages, rendering them in a headless
// browser for script-heavy sites or with a plain HTTP GET otherwise.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout is the navigation timeout per page.
	DefaultTimeout = 30 * time.Second
	// DefaultSettle is the extra wait after the network goes idle.
	DefaultSettle = 2 * time.Second

	// UserAgent is sent by both strategies.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// AcceptLanguage prefers Spanish listings.
	AcceptLanguage = "es-ES,es;q=0.9,en;q=0.8"
)

// Mode selects the fetch strategy.
type Mode string

const (
	ModeBrowser Mode = "browser"
	ModeStatic  Mode = "static"
	// ModeAuto renders in the browser and falls back to a static GET.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode name. Empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeBrowser:
		return ModeBrowser, nil
	case ModeStatic:
		return ModeStatic, nil
	}
	return "", fmt.Errorf("unknown fetch mode %q: must be browser, static, or auto", s)
}

// Options tune one fetch.
type Options struct {
	Timeout time.Duration
	Settle  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	return o
}

// FetchError is a failed page retrieval. StatusCode is set for non-2xx
// responses; Cause holds the network or timeout error otherwise.
type FetchError struct {
	URL        string
	Strategy   string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): HTTP %d", e.URL, e.Strategy, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Strategy, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the fetch failed on its deadline.
func (e *FetchError) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

// Renderer returns the HTML document at url.
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (string, error)
}

// Fetcher dispatches to the configured strategy. It owns the browser
// session, which is started on first use and released by Close.
type Fetcher struct {
	mode     Mode
	defaults Options
	browser  Renderer
	static   Renderer
}

// Config configures New.
type Config struct {
	Mode       Mode
	Timeout    time.Duration
	Settle     time.Duration
	ChromePath string
}

// New creates a Fetcher with a lazily launched browser session.
func New(cfg Config) *Fetcher {
	return NewWithRenderers(cfg.Mode, NewBrowserSession(cfg.ChromePath), NewStaticRenderer(), Options{
		Timeout: cfg.Timeout,
		Settle:  cfg.Settle,
	})
}

// NewWithRenderers creates a Fetcher over explicit strategies.
func NewWithRenderers(mode Mode, browser, static Renderer, defaults Options) *Fetcher {
	if mode == "" {
		mode = ModeAuto
	}
	return &Fetcher{mode: mode, defaults: defaults.withDefaults(), browser: browser, static: static}
}

// Mode returns the configured strategy.
func (f *Fetcher) Mode() Mode {
	return f.mode
}

// Fetch returns the page HTML using the fetcher's default options.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.FetchWith(ctx, url, f.defaults)
}

// FetchWith returns the page HTML. An empty document is an error.
func (f *Fetcher) FetchWith(ctx context.Context, url string, opts Options) (string, error) {
	opts = opts.withDefaults()
	start := time.Now()

	var (
		html     string
		err      error
		strategy = string(f.mode)
	)
	switch f.mode {
	case ModeStatic:
		html, err = f.static.Render(ctx, url, opts)
	case ModeBrowser:
		html, err = f.browser.Render(ctx, url, opts)
	default:
		html, err = f.browser.Render(ctx, url, opts)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("url", url).Msg("Browser render failed, falling back to static fetch")
			strategy = string(ModeStatic)
			html, err = f.static.Render(ctx, url, opts)
		}
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(html) == "" {
		return "", &FetchError{URL: url, Strategy: strategy, Cause: errors.New("empty document")}
	}

	log.Debug().
		Str("url", url).
		Str("strategy", strategy).
		Int("length", len(html)).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")
	return html, nil
}

// Close releases the browser session. The fetcher can be reused; the next
// browser fetch starts a new session.
func (f *Fetcher) Close() error {
	if c, ok := f.browser.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

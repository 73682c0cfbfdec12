package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// idleWindow is how long the network must stay quiet to count as settled.
const idleWindow = 500 * time.Millisecond

// BrowserSession is one headless Chromium shared by every page of a batch.
// It is launched on first Render and released by Close. Pages are closed
// on every exit path.
type BrowserSession struct {
	mu         sync.Mutex
	chromePath string
	launcher   *launcher.Launcher
	browser    *rod.Browser
}

var _ Renderer = (*BrowserSession)(nil)

// NewBrowserSession creates an idle session. chromePath may be empty to use
// the browser rod finds or downloads.
func NewBrowserSession(chromePath string) *BrowserSession {
	return &BrowserSession{chromePath: chromePath}
}

// Active reports whether a browser process is running.
func (s *BrowserSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

func (s *BrowserSession) acquire() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return s.browser, nil
	}

	l := launcher.New()
	if s.chromePath != "" {
		l = l.Bin(s.chromePath)
	}
	l = l.
		Headless(true).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("window-size", "1920,1080").
		Set("lang", "es-ES")

	start := time.Now()
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	s.launcher = l
	s.browser = browser
	log.Info().Dur("duration", time.Since(start)).Msg("Headless browser launched")
	return browser, nil
}

// Render navigates a fresh page to url, waits for the network to settle
// plus opts.Settle, and returns the serialized DOM.
func (s *BrowserSession) Render(ctx context.Context, url string, opts Options) (string, error) {
	opts = opts.withDefaults()
	fail := func(err error) (string, error) {
		return "", &FetchError{URL: url, Strategy: string(ModeBrowser), Cause: err}
	}

	browser, err := s.acquire()
	if err != nil {
		return fail(err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fail(fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Str("url", url).Msg("Failed to close page")
		}
	}()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Debug().Err(err).Msg("Failed to set viewport")
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      UserAgent,
		AcceptLanguage: AcceptLanguage,
	}); err != nil {
		log.Debug().Err(err).Msg("Failed to set user agent")
	}

	p := page.Context(ctx).Timeout(opts.Timeout)

	doc := &documentStatus{frame: page.FrameID}
	waitDoc := p.EachEvent(doc.observe)
	docSeen := make(chan struct{})
	go func() {
		waitDoc()
		close(docSeen)
	}()

	waitIdle := p.WaitRequestIdle(idleWindow, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return fail(fmt.Errorf("navigate: %w", err))
	}
	if err := p.WaitLoad(); err != nil {
		return fail(fmt.Errorf("wait load: %w", err))
	}
	waitIdle()

	select {
	case <-docSeen:
	case <-time.After(idleWindow):
		log.Debug().Str("url", url).Msg("No document response observed")
	}
	if code := doc.Code(); !successStatus(code) {
		return "", &FetchError{URL: url, Strategy: string(ModeBrowser), StatusCode: code}
	}

	if opts.Settle > 0 {
		t := time.NewTimer(opts.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(ctx.Err())
		case <-t.C:
		}
	}

	html, err := p.HTML()
	if err != nil {
		return fail(fmt.Errorf("read document: %w", err))
	}
	return html, nil
}

// documentStatus records the HTTP status of a page's main document.
type documentStatus struct {
	frame proto.PageFrameID

	mu   sync.Mutex
	code int
}

// observe takes the first document response of the page's own frame and
// returns true to end the subscription. Subframe documents are ignored.
func (d *documentStatus) observe(e *proto.NetworkResponseReceived) bool {
	if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
		return false
	}
	if d.frame != "" && e.FrameID != "" && e.FrameID != d.frame {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.code = e.Response.Status
	return true
}

// Code is the observed status, or 0 when none was seen.
func (d *documentStatus) Code() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

// successStatus accepts 2xx and an unknown (0) status.
func successStatus(code int) bool {
	return code == 0 || (code >= 200 && code < 300)
}

// Close shuts the browser down and removes its profile directory. It is
// safe to call on an idle session and more than once.
func (s *BrowserSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}

	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
		s.launcher.Kill()
	}
	s.launcher.Cleanup()

	s.browser = nil
	s.launcher = nil
	log.Info().Msg("Headless browser released")
	return errors.Join(errs...)
}

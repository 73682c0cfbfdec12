// Package extract turns reduced listing text into movie titles, and picks
// catalog candidates for unresolved titles, using a generative AI provider.
//
// Every provider call goes through the quota gate: the client waits out
// per-minute throttling, advances the model identity when one runs out of
// daily budget, and retries transient failures with exponential backoff.
// Calls are serialized, so a check and its matching record are never
// interleaved with another caller's.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/metrics"
	"github.com/fpang/cinema-sync/internal/quota"
)

const (
	// DefaultMaxRetries bounds retries of transient failures.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the first backoff delay; it doubles each attempt.
	DefaultBaseDelay = time.Second
	// DefaultMaxTitles caps the titles returned per listing.
	DefaultMaxTitles = 20
)

// Gate is the quota contract the client needs. *quota.Governor implements it.
type Gate interface {
	CanProceed() quota.Decision
	RecordCall(tokensUsed int64)
	SwitchIdentity() bool
}

var _ Gate = (*quota.Governor)(nil)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client is safe for concurrent use; provider calls are serialized.
type Client struct {
	gen  Generator
	gate Gate

	// mu serializes gate check, dispatch and record.
	mu sync.Mutex

	maxRetries int
	baseDelay  time.Duration
	maxTitles  int
	sleep      Sleeper
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry overrides the retry bound and base backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithMaxTitles overrides the per-listing title cap.
func WithMaxTitles(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTitles = n
		}
	}
}

// WithSleeper replaces the context-aware sleep, for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// New creates a Client. gen may be nil when no provider is configured; every
// call then fails with ErrNotConfigured.
func New(gen Generator, gate Gate, opts ...Option) *Client {
	c := &Client{
		gen:        gen,
		gate:       gate,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxTitles:  DefaultMaxTitles,
		sleep:      Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a provider is attached.
func (c *Client) Configured() bool {
	return c != nil && c.gen != nil
}

// attemptState is the retry loop state for one logical call.
type attemptState struct {
	attempt  int
	lastErr  error
	identity string
	// switchOnQuota is consumed by the first provider quota signal.
	switchOnQuota bool
}

// call runs prompt through the gate and the provider with retries.
func (c *Client) call(ctx context.Context, operation, prompt string) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := attemptState{switchOnQuota: true}
	for {
		identity, err := c.acquire(ctx)
		if err != nil {
			return Response{}, err
		}
		st.identity = identity

		start := time.Now()
		resp, err := c.gen.Generate(ctx, identity, prompt)
		elapsed := time.Since(start)

		if err == nil {
			tokens := resp.TotalTokens
			if tokens <= 0 {
				tokens = estimateTokens(prompt) + estimateTokens(resp.Text)
			}
			c.gate.RecordCall(tokens)

			metrics.New(metrics.Namespace).
				Dimension("Operation", operation).
				Dimension("Model", identity).
				Metric("GeminiCallMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
				Metric("GeminiTokens", float64(tokens), metrics.UnitCount).
				Count("GeminiCalls").
				Flush()
			return resp, nil
		}

		pe := Classify(err)
		st.lastErr = pe

		if pe.Kind == KindQuotaExceeded && st.attempt == 0 && st.switchOnQuota {
			st.switchOnQuota = false
			if c.gate.SwitchIdentity() {
				log.Warn().Str("model", identity).Str("operation", operation).Msg("Provider quota exceeded, switched model identity")
				continue
			}
			return Response{}, fmt.Errorf("%w: provider reported quota exceeded on %s: %v", ErrQuotaExhausted, identity, pe)
		}

		if pe.Kind == KindPermanent {
			log.Error().Err(err).Str("model", identity).Str("operation", operation).Msg("Provider call failed")
			return Response{}, pe
		}

		if st.attempt >= c.maxRetries {
			log.Error().Err(err).Str("model", identity).Int("attempts", st.attempt+1).Msg("Provider call failed after retries")
			return Response{}, fmt.Errorf("giving up after %d attempts: %w", st.attempt+1, st.lastErr)
		}

		delay := c.baseDelay << st.attempt
		st.attempt++
		log.Warn().
			Err(err).
			Str("model", identity).
			Str("kind", pe.Kind.String()).
			Int("attempt", st.attempt).
			Dur("backoff", delay).
			Msg("Transient provider error, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
}

// acquire blocks until the gate allows a call and returns the identity to
// use. Daily refusals advance the identity until one has headroom.
func (c *Client) acquire(ctx context.Context) (string, error) {
	for {
		d := c.gate.CanProceed()
		if d.Allowed {
			return d.Identity, nil
		}

		switch {
		case d.Reason == quota.ReasonRPM:
			wait := d.Wait
			if wait <= 0 {
				wait = time.Second
			}
			log.Info().Str("model", d.Identity).Int("waitSeconds", d.WaitSeconds()).Msg("Per-minute limit reached, waiting")
			if err := c.sleep(ctx, wait); err != nil {
				return "", err
			}

		case d.Reason.IsDaily():
			if d.Reason != quota.ReasonNoIdentity && c.gate.SwitchIdentity() {
				log.Info().Str("model", d.Identity).Str("reason", string(d.Reason)).Msg("Daily limit reached, switched model identity")
				continue
			}
			return "", fmt.Errorf("%w (last reason %s)", ErrQuotaExhausted, d.Reason)

		default:
			return "", fmt.Errorf("quota gate refused call: %s", d.Reason)
		}
	}
}

// estimateTokens approximates one token per four characters.
func estimateTokens(s string) int64 {
	return int64((len(s) + 3) / 4)
}

// Sleep blocks for d or until ctx is done. It is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsQuotaExhausted reports whether err ends the remaining batch.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

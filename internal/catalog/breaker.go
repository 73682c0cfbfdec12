package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Searcher is the catalog contract consumed by the matcher.
type Searcher interface {
	SearchByTitle(ctx context.Context, title string) ([]Movie, error)
	ListPopular(ctx context.Context, page int) ([]Movie, error)
}

// Compile-time interface checks.
var (
	_ Searcher = (*Client)(nil)
	_ Searcher = (*BreakerClient)(nil)
)

// BreakerClient wraps a Searcher with a circuit breaker so an unavailable
// TMDB fails fast for the rest of a batch instead of timing out per title.
type BreakerClient struct {
	next Searcher
	cb   *gobreaker.CircuitBreaker[[]Movie]
}

// NewBreakerClient wraps next. The circuit opens after 5 consecutive
// failures and probes again after 30 seconds.
func NewBreakerClient(next Searcher) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[[]Movie](gobreaker.Settings{
		Name:        "tmdb-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A cancelled batch says nothing about TMDB health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Catalog circuit breaker state change")
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// SearchByTitle calls the wrapped client through the breaker.
func (b *BreakerClient) SearchByTitle(ctx context.Context, title string) ([]Movie, error) {
	return b.cb.Execute(func() ([]Movie, error) {
		return b.next.SearchByTitle(ctx, title)
	})
}

// ListPopular calls the wrapped client through the breaker.
func (b *BreakerClient) ListPopular(ctx context.Context, page int) ([]Movie, error) {
	return b.cb.Execute(func() ([]Movie, error) {
		return b.next.ListPopular(ctx, page)
	})
}

// State reports the breaker state, for status output.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

// Package app assembles the sync pipeline from a resolved configuration.
// The CLI and the Lambda share it so both run the same stack.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/catalog"
	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/extract"
	"github.com/fpang/cinema-sync/internal/fetch"
	"github.com/fpang/cinema-sync/internal/match"
	"github.com/fpang/cinema-sync/internal/pipeline"
	"github.com/fpang/cinema-sync/internal/quota"
	"github.com/fpang/cinema-sync/internal/reduce"
	"github.com/fpang/cinema-sync/internal/store"
)

// App holds the long-lived components of one process.
type App struct {
	Config       *config.Config
	Governor     *quota.Governor
	Extractor    *extract.Client
	Orchestrator *pipeline.Orchestrator

	catalogCache *catalog.CachedClient
}

// Options override components, for tests.
type Options struct {
	// Generator replaces the Gemini generator built from the API key.
	Generator extract.Generator
	// Catalog replaces the TMDB client. It is still cached and breaker-wrapped.
	Catalog catalog.Searcher
	// Fetcher replaces the page fetcher.
	Fetcher pipeline.Fetcher
	// Pipeline options are passed to pipeline.New.
	Pipeline []pipeline.Option
}

// Build wires the pipeline over cinemas. Missing credentials do not fail the
// build; operations that need them report config.ErrMissingConfiguration.
func Build(ctx context.Context, cfg *config.Config, cinemas store.CinemaStore, opts Options) (*App, error) {
	gov, err := quota.New(cfg.Quota, cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("create quota governor: %w", err)
	}

	gen := opts.Generator
	if gen == nil && cfg.GeminiAPIKey != "" {
		client, err := extract.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		gen = extract.NewGeminiGenerator(client)
	}
	extractor := extract.New(gen, gov)

	base := opts.Catalog
	catalogConfigured := base != nil || cfg.TMDBAPIKey != ""
	if base == nil {
		base = catalog.NewClient(cfg.TMDBAPIKey, cfg.TMDBLanguage)
	}
	cached, err := catalog.NewCachedClient(base, catalog.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	searcher := catalog.NewBreakerClient(cached)

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(cfg.Fetch)
	}

	orch := pipeline.New(pipeline.Deps{
		Store:     cinemas,
		Fetcher:   fetcher,
		Reducer:   reduce.New(cfg.ReduceMaxChars),
		Extractor: extractor,
		Matcher:   match.New(searcher, extractor, cfg.Match),
		Quota:     gov,
	}, pipeline.Config{
		Filter:            store.Filter{Country: cfg.CountryPattern},
		RequestsPerCinema: cfg.RequestsPerCinema,
		TokensPerCinema:   cfg.TokensPerCinema,
		Delay:             cfg.BatchDelay,
		CatalogConfigured: catalogConfigured,
	}, opts.Pipeline...)

	log.Debug().
		Strs("models", cfg.Models).
		Bool("gemini", extractor.Configured()).
		Bool("catalog", catalogConfigured).
		Str("fetchMode", string(cfg.Fetch.Mode)).
		Msg("Pipeline assembled")

	return &App{
		Config:       cfg,
		Governor:     gov,
		Extractor:    extractor,
		Orchestrator: orch,
		catalogCache: cached,
	}, nil
}

// ResetCaches drops cached catalog lookups. A warm process calls it before
// each scheduled run so the popular list reflects the current day.
func (a *App) ResetCaches() {
	if a.catalogCache != nil {
		a.catalogCache.Purge()
		log.Debug().Msg("Catalog cache purged")
	}
}

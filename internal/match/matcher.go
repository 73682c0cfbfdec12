// Package match resolves extracted listing titles to catalog identifiers.
//
// The first pass searches the catalog for each title and accepts the top
// result when its title or original title is similar enough. Titles left
// over are offered to the AI provider together with a pool of currently
// popular catalog entries, loaded once per batch.
package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/cinema-sync/internal/catalog"
	"github.com/fpang/cinema-sync/internal/extract"
)

const (
	DefaultThreshold     = 0.7
	DefaultPopularPages  = 2
	DefaultMaxCandidates = extract.MaxCandidates
)

// Assistant picks a candidate for a title. *extract.Client implements it.
type Assistant interface {
	Configured() bool
	MatchTitleAgainstCandidates(ctx context.Context, title string, candidates []extract.Candidate) (int, bool, error)
}

var _ Assistant = (*extract.Client)(nil)

// Config tunes a Matcher. Zero values use the defaults.
type Config struct {
	Threshold     float64
	PopularPages  int
	MaxCandidates int
}

// Result is the outcome of matching one listing.
type Result struct {
	// IDs are the distinct resolved identifiers in title order.
	IDs []int
	// Unmatched are titles neither pass could resolve.
	Unmatched []string

	DirectMatches int
	AIMatches     int
}

// Matcher is safe for concurrent use if its collaborators are.
type Matcher struct {
	catalog catalog.Searcher
	ai      Assistant
	cfg     Config
}

// New creates a Matcher. ai may be nil to disable the second pass.
func New(searcher catalog.Searcher, ai Assistant, cfg Config) *Matcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PopularPages <= 0 {
		cfg.PopularPages = DefaultPopularPages
	}
	if cfg.MaxCandidates <= 0 || cfg.MaxCandidates > extract.MaxCandidates {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Matcher{catalog: searcher, ai: ai, cfg: cfg}
}

// NewPool returns an empty candidate pool to share across one batch.
func (m *Matcher) NewPool() *CandidatePool {
	return &CandidatePool{catalog: m.catalog, pages: m.cfg.PopularPages, max: m.cfg.MaxCandidates}
}

// MatchAll resolves titles. pool may be nil, in which case a pool private
// to this call is used. Catalog and provider errors are returned; titles
// that simply have no confident match are reported in Result.Unmatched.
func (m *Matcher) MatchAll(ctx context.Context, titles []string, pool *CandidatePool) (Result, error) {
	var res Result
	if len(titles) == 0 {
		return res, nil
	}

	seen := make(map[int]bool, len(titles))
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			res.IDs = append(res.IDs, id)
		}
	}

	var unresolved []string
	for _, title := range titles {
		id, ok, err := m.searchDirect(ctx, title)
		if err != nil {
			return Result{}, err
		}
		if ok {
			res.DirectMatches++
			add(id)
			continue
		}
		unresolved = append(unresolved, title)
	}

	if len(unresolved) > 0 && m.ai != nil && m.ai.Configured() {
		if pool == nil {
			pool = m.NewPool()
		}
		candidates, err := pool.Load(ctx)
		if err != nil {
			return Result{}, err
		}

		var remaining []string
		for _, title := range unresolved {
			id, ok, err := m.ai.MatchTitleAgainstCandidates(ctx, title, candidates)
			if err != nil {
				return Result{}, fmt.Errorf("match %q: %w", title, err)
			}
			if ok {
				res.AIMatches++
				add(id)
				log.Debug().Str("title", title).Int("id", id).Msg("Title resolved by AI match")
				continue
			}
			remaining = append(remaining, title)
		}
		unresolved = remaining
	}

	res.Unmatched = unresolved
	log.Info().
		Int("titles", len(titles)).
		Int("matched", len(res.IDs)).
		Int("direct", res.DirectMatches).
		Int("ai", res.AIMatches).
		Int("unmatched", len(res.Unmatched)).
		Msg("Titles matched against catalog")
	return res, nil
}

// searchDirect accepts the top search result when it is similar enough.
func (m *Matcher) searchDirect(ctx context.Context, title string) (int, bool, error) {
	movies, err := m.catalog.SearchByTitle(ctx, title)
	if err != nil {
		return 0, false, fmt.Errorf("catalog search %q: %w", title, err)
	}
	if len(movies) == 0 {
		return 0, false, nil
	}

	top := movies[0]
	score := Similarity(title, top.Title)
	if top.OriginalTitle != "" {
		score = max(score, Similarity(title, top.OriginalTitle))
	}
	log.Debug().Str("title", title).Str("candidate", top.Title).Float64("similarity", score).Msg("Direct search scored")
	if score > m.cfg.Threshold {
		return top.ID, true, nil
	}
	return 0, false, nil
}

// CandidatePool is the popular-movie list offered to the AI pass. It is
// fetched at most once successfully and then reused.
type CandidatePool struct {
	catalog catalog.Searcher
	pages   int
	max     int

	mu         sync.Mutex
	loaded     bool
	candidates []extract.Candidate
}

// Load returns the pool, fetching its pages concurrently on first use.
func (p *CandidatePool) Load(ctx context.Context) ([]extract.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.candidates, nil
	}

	pages := make([][]catalog.Movie, p.pages)
	g, gctx := errgroup.WithContext(ctx)
	for i := range pages {
		g.Go(func() error {
			movies, err := p.catalog.ListPopular(gctx, i+1)
			if err != nil {
				return fmt.Errorf("load candidate pool: %w", err)
			}
			pages[i] = movies
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	var out []extract.Candidate
	for _, movies := range pages {
		for _, mv := range movies {
			if seen[mv.ID] || len(out) >= p.max {
				continue
			}
			seen[mv.ID] = true
			out = append(out, extract.Candidate{
				ID:            mv.ID,
				Title:         mv.Title,
				OriginalTitle: mv.OriginalTitle,
				ReleaseDate:   mv.ReleaseDate,
			})
		}
	}

	p.candidates = out
	p.loaded = true
	log.Info().Int("candidates", len(out)).Int("pages", p.pages).Msg("Candidate pool loaded")
	return out, nil
}

// Loaded reports whether the pool has been fetched.
func (p *CandidatePool) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

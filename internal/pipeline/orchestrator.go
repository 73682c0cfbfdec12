// Package pipeline runs the listing sync for one cinema or a batch.
//
// Per cinema the stages are fetch, reduce, extract, match and save. A
// cinema's failure is recorded in the report and never aborts a batch.
// Quota exhaustion is the one condition that ends a batch early; the
// cinemas it did not reach are reported as not attempted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/extract"
	"github.com/fpang/cinema-sync/internal/fetch"
	"github.com/fpang/cinema-sync/internal/match"
	"github.com/fpang/cinema-sync/internal/metrics"
	"github.com/fpang/cinema-sync/internal/quota"
	"github.com/fpang/cinema-sync/internal/reduce"
	"github.com/fpang/cinema-sync/internal/store"
)

// Fetcher loads a listing page. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// Reducer shrinks a page to the listing text. *reduce.Reducer implements it.
type Reducer interface {
	Reduce(rawHTML string) string
}

// Extractor pulls titles out of listing text. *extract.Client implements it.
type Extractor interface {
	Configured() bool
	ExtractTitles(ctx context.Context, text, contextName string) ([]string, error)
}

// Matcher resolves titles to catalog IDs. *match.Matcher implements it.
type Matcher interface {
	NewPool() *match.CandidatePool
	MatchAll(ctx context.Context, titles []string, pool *match.CandidatePool) (match.Result, error)
}

// Quota is the governor view the orchestrator plans with.
type Quota interface {
	CanProceed() quota.Decision
	SwitchIdentity() bool
	Headroom() quota.Headroom
	Snapshot() quota.Snapshot
	Limits() quota.Limits
}

var (
	_ Fetcher   = (*fetch.Fetcher)(nil)
	_ Reducer   = (*reduce.Reducer)(nil)
	_ Extractor = (*extract.Client)(nil)
	_ Matcher   = (*match.Matcher)(nil)
	_ Quota     = (*quota.Governor)(nil)
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     store.CinemaStore
	Fetcher   Fetcher
	Reducer   Reducer
	Extractor Extractor
	Matcher   Matcher
	Quota     Quota
}

// Config tunes batch planning.
type Config struct {
	// Filter selects eligible cinemas. UpdateAll also requires a URL.
	Filter store.Filter

	RequestsPerCinema int
	TokensPerCinema   int64
	// Delay is the minimum pause between cinemas.
	Delay time.Duration

	CatalogConfigured bool
}

// Orchestrator is not safe for concurrent batches; run one at a time.
type Orchestrator struct {
	deps Deps
	cfg  Config

	now   func() time.Time
	sleep extract.Sleeper
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now and the context-aware sleep, for tests.
func WithClock(now func() time.Time, sleep extract.Sleeper) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.sleep = sleep
	}
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	if cfg.RequestsPerCinema <= 0 {
		cfg.RequestsPerCinema = config.DefaultRequestsPerCinema
	}
	if cfg.TokensPerCinema <= 0 {
		cfg.TokensPerCinema = config.DefaultTokensPerCinema
	}
	o := &Orchestrator{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		sleep: extract.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Delay <= 0 {
		o.cfg.Delay = config.BatchDelay(0, deps.Quota.Limits().RPM)
	}
	return o
}

func (o *Orchestrator) checkConfigured() error {
	var missing []string
	if o.deps.Extractor == nil || !o.deps.Extractor.Configured() {
		missing = append(missing, "gemini")
	}
	if !o.cfg.CatalogConfigured {
		missing = append(missing, "catalog")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", config.ErrMissingConfiguration, missing)
	}
	return nil
}

// UpdateOne syncs a single cinema and releases the browser afterwards.
// Quota exhaustion is reported as a failure here, since there is no batch
// to stop.
func (o *Orchestrator) UpdateOne(ctx context.Context, cinemaID string) Outcome {
	defer o.closeFetcher()

	c, err := o.deps.Store.GetCinema(ctx, cinemaID)
	if err != nil {
		log.Error().Err(err).Str("cinemaId", cinemaID).Msg("Failed to load cinema")
		return Outcome{CinemaID: cinemaID, Status: StatusFailed, Error: err.Error()}
	}
	if !c.HasURL() {
		return o.skipped(c)
	}
	if err := o.checkConfigured(); err != nil {
		return Outcome{CinemaID: c.ID, Name: c.Name, Status: StatusFailed, Error: err.Error()}
	}

	out, _ := o.process(ctx, c, nil)
	return out
}

// UpdateAll syncs the eligible cinemas up to what today's quota allows.
// An error is returned only when the run cannot start at all.
func (o *Orchestrator) UpdateAll(ctx context.Context) (*Report, error) {
	// The browser is released on every exit path, including panics.
	defer o.closeFetcher()

	if err := o.checkConfigured(); err != nil {
		return nil, err
	}

	filter := o.cfg.Filter
	filter.RequireURL = true
	cinemas, err := o.deps.Store.ListCinemas(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list eligible cinemas: %w", err)
	}

	start := o.now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: start,
		Eligible:  len(cinemas),
		Outcomes:  make([]Outcome, 0, len(cinemas)),
	}
	report.Cap = o.batchCap(len(cinemas))
	logger := log.With().Str("runId", report.RunID).Logger()

	logger.Info().
		Int("eligible", report.Eligible).
		Int("cap", report.Cap).
		Dur("delay", o.cfg.Delay).
		Msg("Starting listing sync batch")

	pool := o.deps.Matcher.NewPool()
	pacer := rate.NewLimiter(rate.Every(o.cfg.Delay), 1)

	i := 0
	for ; i < report.Cap; i++ {
		c := cinemas[i]

		if err := o.pace(ctx, pacer); err != nil {
			logger.Warn().Err(err).Msg("Batch interrupted")
			break
		}
		reason, ok, err := o.ready(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Batch interrupted")
			break
		}
		if !ok {
			report.StopReason = reason
			logger.Warn().Str("reason", string(reason)).Int("remaining", report.Cap-i).Msg("Quota exhausted, stopping batch early")
			break
		}

		out, stop := o.process(ctx, c, pool)
		if stop {
			out.Status = StatusNotAttempted
			report.add(out)
			report.StopReason = o.deps.Quota.CanProceed().Reason
			if report.StopReason == quota.ReasonNone {
				report.StopReason = quota.ReasonNoIdentity
			}
			logger.Warn().Str("cinemaId", c.ID).Msg("Quota exhausted mid-cinema, stopping batch early")
			i++
			break
		}
		report.add(out)
	}
	for ; i < len(cinemas); i++ {
		report.add(Outcome{CinemaID: cinemas[i].ID, Name: cinemas[i].Name, Status: StatusNotAttempted})
	}

	report.DurationMs = o.now().Sub(start).Milliseconds()
	report.Quota = o.deps.Quota.Snapshot()
	o.emitMetrics(report)

	logger.Info().
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("notAttempted", report.NotAttempted).
		Int("moviesMatched", report.MoviesMatched).
		Str("stopReason", string(report.StopReason)).
		Msg("Listing sync batch complete")
	return report, nil
}

// batchCap is min(eligible, quota headroom in cinemas, RPM).
func (o *Orchestrator) batchCap(eligible int) int {
	h := o.deps.Quota.Headroom()
	byRequests := h.Requests / o.cfg.RequestsPerCinema
	byTokens := int(h.Tokens / o.cfg.TokensPerCinema)
	return max(0, min(eligible, byRequests, byTokens, o.deps.Quota.Limits().RPM))
}

// pace waits until the next cinema may start. The first call never waits.
func (o *Orchestrator) pace(ctx context.Context, limiter *rate.Limiter) error {
	now := o.now()
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("pacing limiter refused reservation")
	}
	if d := r.DelayFrom(now); d > 0 {
		return o.sleep(ctx, d)
	}
	return nil
}

// ready waits out RPM refusals and advances identities on daily ones. It
// returns false with the last reason when no identity can take a call, or
// the context error when the wait is interrupted.
func (o *Orchestrator) ready(ctx context.Context) (quota.Reason, bool, error) {
	for {
		d := o.deps.Quota.CanProceed()
		switch {
		case d.Allowed:
			return quota.ReasonNone, true, nil
		case d.Reason == quota.ReasonRPM:
			wait := max(d.Wait, time.Second)
			log.Info().Str("model", d.Identity).Int("waitSeconds", int(wait.Seconds())).Msg("Per-minute limit reached, waiting before next cinema")
			if err := o.sleep(ctx, wait); err != nil {
				return quota.ReasonNone, false, err
			}
		case d.Reason.IsDaily():
			if !o.deps.Quota.SwitchIdentity() {
				return d.Reason, false, nil
			}
		default:
			return d.Reason, false, nil
		}
	}
}

// process runs the stages for a cinema with a URL. stop reports that quota
// ran out during the cinema; its record is then left untouched.
func (o *Orchestrator) process(ctx context.Context, c *store.Cinema, pool *match.CandidatePool) (out Outcome, stop bool) {
	start := o.now()
	out = Outcome{CinemaID: c.ID, Name: c.Name}
	logger := log.With().Str("cinemaId", c.ID).Str("cinema", c.Name).Logger()

	defer func() {
		out.DurationMs = o.now().Sub(start).Milliseconds()
	}()

	err := o.sync(ctx, c, pool, &out)
	if err == nil {
		out.Status = StatusSuccess
		logger.Info().
			Int("found", out.MoviesFound).
			Int("matched", out.MoviesMatched).
			Strs("unmatched", out.Unmatched).
			Msg("Cinema listing updated")
		return out, false
	}

	out.Status = StatusFailed
	out.Error = err.Error()
	if extract.IsQuotaExhausted(err) {
		logger.Warn().Err(err).Msg("Quota exhausted while syncing cinema")
		return out, true
	}
	logger.Error().Err(err).Msg("Cinema listing sync failed")
	return out, false
}

func (o *Orchestrator) sync(ctx context.Context, c *store.Cinema, pool *match.CandidatePool, out *Outcome) error {
	raw, err := o.deps.Fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return err
	}

	text := o.deps.Reducer.Reduce(raw)
	titles, err := o.deps.Extractor.ExtractTitles(ctx, text, c.Name)
	if err != nil {
		return fmt.Errorf("extract titles: %w", err)
	}
	out.MoviesFound = len(titles)

	res, err := o.deps.Matcher.MatchAll(ctx, titles, pool)
	if err != nil {
		return fmt.Errorf("match titles: %w", err)
	}
	out.MoviesMatched = len(res.IDs)
	out.MovieIDs = res.IDs
	out.Unmatched = res.Unmatched

	if err := o.deps.Store.SaveMovieIDs(ctx, c.ID, res.IDs); err != nil {
		return fmt.Errorf("save movie ids: %w", err)
	}
	return nil
}

func (o *Orchestrator) skipped(c *store.Cinema) Outcome {
	log.Info().Str("cinemaId", c.ID).Str("cinema", c.Name).Msg("Cinema has no listing URL, skipping")
	return Outcome{CinemaID: c.ID, Name: c.Name, Status: StatusSkippedNoURL}
}

func (o *Orchestrator) closeFetcher() {
	if o.deps.Fetcher == nil {
		return
	}
	if err := o.deps.Fetcher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to release page fetcher")
	}
}

// Status summarises eligibility, credentials and quota without making any
// provider call.
func (o *Orchestrator) Status(ctx context.Context) (*Overview, error) {
	cinemas, err := o.deps.Store.ListCinemas(ctx, o.cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("list cinemas: %w", err)
	}

	ov := &Overview{
		GeminiConfigured:  o.deps.Extractor != nil && o.deps.Extractor.Configured(),
		CatalogConfigured: o.cfg.CatalogConfigured,
		Quota:             o.deps.Quota.Snapshot(),
	}
	for _, c := range cinemas {
		if c.HasURL() {
			ov.WithURL++
		} else {
			ov.WithoutURL++
		}
	}
	ov.Eligible = ov.WithURL
	ov.BatchCap = o.batchCap(ov.Eligible)
	return ov, nil
}

func (o *Orchestrator) emitMetrics(r *Report) {
	m := metrics.New(metrics.Namespace).
		Metric("CinemasProcessed", float64(r.Processed), metrics.UnitCount).
		Metric("CinemasFailed", float64(r.Failed), metrics.UnitCount).
		Metric("CinemasNotAttempted", float64(r.NotAttempted), metrics.UnitCount).
		Metric("MoviesMatched", float64(r.MoviesMatched), metrics.UnitCount).
		Metric("BatchDurationMs", float64(r.DurationMs), metrics.UnitMilliseconds).
		Property("runId", r.RunID)
	if u, ok := r.Quota.CurrentUsage(); ok {
		m.Metric("DailyRequestsUsed", float64(u.RequestsUsed), metrics.UnitCount).
			Metric("DailyTokensUsed", float64(u.TokensUsed), metrics.UnitCount).
			Property("model", u.Identity)
	}
	if r.StopReason != quota.ReasonNone {
		m.Property("stopReason", string(r.StopReason))
	}
	m.Flush()
}

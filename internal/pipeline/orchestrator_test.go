package pipeline

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/fpang/cinema-sync/internal/config"
	"github.com/fpang/cinema-sync/internal/extract"
	"github.com/fpang/cinema-sync/internal/fetch"
	"github.com/fpang/cinema-sync/internal/match"
	"github.com/fpang/cinema-sync/internal/quota"
	"github.com/fpang/cinema-sync/internal/store"
)

type memoryStore struct {
	cinemas map[string]*store.Cinema
	saves   map[string][]int
}

func newMemoryStore(cinemas ...store.Cinema) *memoryStore {
	s := &memoryStore{cinemas: map[string]*store.Cinema{}, saves: map[string][]int{}}
	for i := range cinemas {
		c := cinemas[i]
		s.cinemas[c.ID] = &c
	}
	return s
}

func (s *memoryStore) GetCinema(_ context.Context, id string) (*store.Cinema, error) {
	c, ok := s.cinemas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) SaveMovieIDs(_ context.Context, id string, ids []int) error {
	s.saves[id] = ids
	s.cinemas[id].MovieIDs = ids
	return nil
}

func (s *memoryStore) ListCinemas(_ context.Context, f store.Filter) ([]*store.Cinema, error) {
	var out []*store.Cinema
	for _, c := range s.cinemas {
		if f.Match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeFetcher struct {
	pages   map[string]string
	err     error
	fetches []string
	closes  int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.fetches = append(f.fetches, url)
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

func (f *fakeFetcher) Close() error {
	f.closes++
	return nil
}

// fakeExtractor splits the text on "|". It records callsPerCinema
// provider calls on gov, like the real client.
type fakeExtractor struct {
	gov            *quota.Governor
	callsPerCinema int
	failFor        map[string]error
	calls          []string
}

func (f *fakeExtractor) Configured() bool { return true }

func (f *fakeExtractor) ExtractTitles(_ context.Context, text, name string) ([]string, error) {
	f.calls = append(f.calls, name)
	if err := f.failFor[name]; err != nil {
		return nil, err
	}
	for i := 0; i < f.callsPerCinema; i++ {
		f.gov.RecordCall(1000)
	}
	var titles []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			titles = append(titles, part)
		}
	}
	return titles, nil
}

type fakeMatcher struct {
	ids   map[string]int
	err   error
	pools []*match.CandidatePool
}

func (f *fakeMatcher) NewPool() *match.CandidatePool { return &match.CandidatePool{} }

func (f *fakeMatcher) MatchAll(_ context.Context, titles []string, pool *match.CandidatePool) (match.Result, error) {
	f.pools = append(f.pools, pool)
	if f.err != nil {
		return match.Result{}, f.err
	}
	var res match.Result
	for _, t := range titles {
		if id, ok := f.ids[t]; ok {
			res.IDs = append(res.IDs, id)
		} else {
			res.Unmatched = append(res.Unmatched, t)
		}
	}
	return res, nil
}

// passReducer returns the page unchanged.
type passReducer struct{}

func (passReducer) Reduce(raw string) string { return raw }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type harness struct {
	store     *memoryStore
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	matcher   *fakeMatcher
	gov       *quota.Governor
	clock     *fakeClock
	sleeps    []time.Duration
	sleepErr  error
	orch      *Orchestrator
}

func newHarness(t *testing.T, limits quota.Limits, cfg Config, cinemas ...store.Cinema) *harness {
	t.Helper()
	h := &harness{
		store:   newMemoryStore(cinemas...),
		fetcher: &fakeFetcher{pages: map[string]string{}},
		matcher: &fakeMatcher{ids: map[string]int{"Wonka": 787699, "Dune: Parte Dos": 693134}},
		clock:   &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	gov, err := quota.New(limits, []string{"gemini-2.5-flash"}, quota.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	h.gov = gov
	h.extractor = &fakeExtractor{gov: gov}
	for _, c := range cinemas {
		if c.URL != "" {
			h.fetcher.pages[c.URL] = "Wonka | Dune: Parte Dos | Sesión golfa"
		}
	}
	cfg.CatalogConfigured = true
	h.orch = New(Deps{
		Store:     h.store,
		Fetcher:   h.fetcher,
		Reducer:   passReducer{},
		Extractor: h.extractor,
		Matcher:   h.matcher,
		Quota:     gov,
	}, cfg, WithClock(h.clock.Now, func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if h.sleepErr != nil {
			return h.sleepErr
		}
		h.clock.t = h.clock.t.Add(d)
		return nil
	}))
	return h
}

func testLimits() quota.Limits {
	l := quota.DefaultLimits()
	l.SafetyMargin = 1
	return l
}

func spanish(id, url string) store.Cinema {
	return store.Cinema{ID: id, Name: "Cine " + id, URL: url, Address: store.Address{Country: "España"}, MovieIDs: []int{1}}
}

func statuses(r *Report) []Status {
	var out []Status
	for _, o := range r.Outcomes {
		out = append(out, o.Status)
	}
	return out
}

func TestUpdateOneSkipsCinemaWithoutURL(t *testing.T) {
	h := newHarness(t, testLimits(), Config{}, spanish("a", ""))

	out := h.orch.UpdateOne(context.Background(), "a")
	if out.Status != StatusSkippedNoURL || out.Error != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.fetcher.fetches) != 0 || len(h.extractor.calls) != 0 || len(h.matcher.pools) != 0 {
		t.Errorf("no external calls expected: fetches=%v extracts=%v", h.fetcher.fetches, h.extractor.calls)
	}
	if len(h.store.saves) != 0 || !reflect.DeepEqual(h.store.cinemas["a"].MovieIDs, []int{1}) {
		t.Errorf("record must be unchanged, saves=%v", h.store.saves)
	}
}

func TestUpdateOneReplacesMovieList(t *testing.T) {
	h := newHarness(t, testLimits(), Config{}, spanish("a", "https://a.es"))

	out := h.orch.UpdateOne(context.Background(), "a")
	if out.Status != StatusSuccess {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.MoviesFound != 3 || out.MoviesMatched != 2 {
		t.Errorf("found=%d matched=%d", out.MoviesFound, out.MoviesMatched)
	}
	if !reflect.DeepEqual(out.Unmatched, []string{"Sesión golfa"}) {
		t.Errorf("unmatched %v", out.Unmatched)
	}
	if got := h.store.cinemas["a"].MovieIDs; !reflect.DeepEqual(got, []int{787699, 693134}) {
		t.Errorf("stored ids %v, previous list must be replaced", got)
	}
	if h.fetcher.closes != 1 {
		t.Errorf("expected fetcher released once, got %d", h.fetcher.closes)
	}
}

func TestUpdateOneFailures(t *testing.T) {
	fetchErr := &fetch.FetchError{URL: "https://a.es", Strategy: "static", StatusCode: 503}
	tests := []struct {
		name    string
		id      string
		setup   func(h *harness)
		wantErr string
	}{
		{"missing cinema", "nope", func(*harness) {}, "cinema not found"},
		{"fetch error", "a", func(h *harness) { h.fetcher.err = fetchErr }, "503"},
		{"quota exhausted", "a", func(h *harness) {
			h.extractor.failFor = map[string]error{"Cine a": extract.ErrQuotaExhausted}
		}, "quota"},
		{"catalog error", "a", func(h *harness) { h.matcher.err = errors.New("catalog unavailable") }, "catalog unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testLimits(), Config{}, spanish("a", "https://a.es"))
			tt.setup(h)

			out := h.orch.UpdateOne(context.Background(), tt.id)
			if out.Status != StatusFailed {
				t.Fatalf("expected failed, got %+v", out)
			}
			if !strings.Contains(out.Error, tt.wantErr) {
				t.Errorf("error %q does not mention %q", out.Error, tt.wantErr)
			}
			if len(h.store.saves) != 0 {
				t.Errorf("failed cinema must not be written, saves=%v", h.store.saves)
			}
			if h.fetcher.closes != 1 {
				t.Errorf("fetcher must be released, closes=%d", h.fetcher.closes)
			}
		})
	}
}

func TestUpdateOneMissingConfiguration(t *testing.T) {
	h := newHarness(t, testLimits(), Config{}, spanish("a", "https://a.es"))
	h.orch.cfg.CatalogConfigured = false

	out := h.orch.UpdateOne(context.Background(), "a")
	if out.Status != StatusFailed || !strings.Contains(out.Error, config.ErrMissingConfiguration.Error()) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.fetcher.fetches) != 0 {
		t.Error("nothing should be fetched without credentials")
	}
}

func TestUpdateAllCapsToQuotaHeadroom(t *testing.T) {
	limits := testLimits()
	limits.DailyRequests = 4
	h := newHarness(t, limits, Config{},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"),
		spanish("d", "https://d.es"), spanish("e", "https://e.es"))

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if report.Eligible != 5 || report.Cap != 2 {
		t.Errorf("eligible=%d cap=%d, want 5 and 2", report.Eligible, report.Cap)
	}
	want := []Status{StatusSuccess, StatusSuccess, StatusNotAttempted, StatusNotAttempted, StatusNotAttempted}
	if got := statuses(report); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses %v, want %v", got, want)
	}
	if report.Processed != 2 || report.NotAttempted != 3 || report.Failed != 0 {
		t.Errorf("counts processed=%d notAttempted=%d failed=%d", report.Processed, report.NotAttempted, report.Failed)
	}
	if h.fetcher.closes != 1 {
		t.Errorf("browser must be released once, got %d", h.fetcher.closes)
	}
	if report.RunID == "" || report.Quota.Day == "" {
		t.Errorf("report missing run id or quota snapshot: %+v", report)
	}
}

func TestUpdateAllStopsOnDailyLimit(t *testing.T) {
	limits := testLimits()
	limits.DailyRequests = 4
	h := newHarness(t, limits, Config{RequestsPerCinema: 1},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"),
		spanish("d", "https://d.es"), spanish("e", "https://e.es"))
	h.extractor.callsPerCinema = 2

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Cap != 4 {
		t.Fatalf("cap %d, want 4", report.Cap)
	}
	want := []Status{StatusSuccess, StatusSuccess, StatusNotAttempted, StatusNotAttempted, StatusNotAttempted}
	if got := statuses(report); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses %v, want %v", got, want)
	}
	if report.StopReason != quota.ReasonDailyRequests {
		t.Errorf("stop reason %q", report.StopReason)
	}
	if len(h.extractor.calls) != 2 {
		t.Errorf("expected the loop to stop after 2 cinemas, extracted %v", h.extractor.calls)
	}
}

func TestUpdateAllQuotaExhaustedMidCinema(t *testing.T) {
	h := newHarness(t, testLimits(), Config{},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"))
	h.extractor.failFor = map[string]error{"Cine b": extract.ErrQuotaExhausted}

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []Status{StatusSuccess, StatusNotAttempted, StatusNotAttempted}
	if got := statuses(report); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses %v, want %v", got, want)
	}
	if report.Outcomes[1].Error == "" {
		t.Error("interrupted cinema should carry the error detail")
	}
	if _, saved := h.store.saves["b"]; saved {
		t.Error("interrupted cinema must not be written")
	}
	if report.StopReason == quota.ReasonNone {
		t.Error("expected a stop reason")
	}
}

func TestUpdateAllContinuesAfterCinemaFailure(t *testing.T) {
	h := newHarness(t, testLimits(), Config{},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"))
	h.extractor.failFor = map[string]error{"Cine b": errors.New("provider returned 400")}

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []Status{StatusSuccess, StatusFailed, StatusSuccess}
	if got := statuses(report); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses %v, want %v", got, want)
	}
	if report.StopReason != quota.ReasonNone {
		t.Errorf("unexpected stop reason %q", report.StopReason)
	}
	if report.MoviesMatched != 4 {
		t.Errorf("movies matched %d, want 4", report.MoviesMatched)
	}
	if len(h.matcher.pools) != 2 || h.matcher.pools[0] != h.matcher.pools[1] {
		t.Error("the candidate pool must be shared across the batch")
	}
}

func TestUpdateAllInterruptedDuringRPMWait(t *testing.T) {
	limits := testLimits()
	limits.RPM = 2
	h := newHarness(t, limits, Config{},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"))
	h.gov.RecordCall(100)
	h.gov.RecordCall(100)
	h.sleepErr = context.Canceled

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.StopReason != quota.ReasonNone {
		t.Errorf("an interrupted wait is not a quota stop, got %q", report.StopReason)
	}
	want := []Status{StatusNotAttempted, StatusNotAttempted, StatusNotAttempted}
	if got := statuses(report); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses %v, want %v", got, want)
	}
	if len(h.sleeps) != 1 || len(h.extractor.calls) != 0 {
		t.Errorf("expected one interrupted wait and no extraction, sleeps=%v calls=%v", h.sleeps, h.extractor.calls)
	}
}

func TestUpdateAllPacesCinemas(t *testing.T) {
	h := newHarness(t, testLimits(), Config{Delay: 4 * time.Second},
		spanish("a", "https://a.es"), spanish("b", "https://b.es"), spanish("c", "https://c.es"))

	if _, err := h.orch.UpdateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{4 * time.Second, 4 * time.Second}
	if !reflect.DeepEqual(h.sleeps, want) {
		t.Errorf("sleeps %v, want %v", h.sleeps, want)
	}
}

func TestUpdateAllSelectsByCountryAndURL(t *testing.T) {
	cfg := Config{Filter: store.Filter{Country: regexp.MustCompile(`(?i)^(españa|spain|es)$`)}}
	portugal := store.Cinema{ID: "p", Name: "Cinema Ideal", URL: "https://ideal.pt", Address: store.Address{Country: "Portugal"}}
	h := newHarness(t, testLimits(), cfg, spanish("a", "https://a.es"), spanish("b", ""), portugal)

	report, err := h.orch.UpdateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Eligible != 1 || len(report.Outcomes) != 1 || report.Outcomes[0].CinemaID != "a" {
		t.Errorf("unexpected selection %+v", report.Outcomes)
	}
}

func TestUpdateAllMissingConfiguration(t *testing.T) {
	h := newHarness(t, testLimits(), Config{}, spanish("a", "https://a.es"))
	h.orch.cfg.CatalogConfigured = false

	if _, err := h.orch.UpdateAll(context.Background()); !errors.Is(err, config.ErrMissingConfiguration) {
		t.Fatalf("expected ErrMissingConfiguration, got %v", err)
	}
	if h.fetcher.closes != 1 {
		t.Error("fetcher must be released on early return")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, testLimits(), Config{},
		spanish("a", "https://a.es"), spanish("b", ""), spanish("c", "https://c.es"))

	ov, err := h.orch.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ov.Eligible != 2 || ov.WithURL != 2 || ov.WithoutURL != 1 {
		t.Errorf("unexpected counts %+v", ov)
	}
	if !ov.GeminiConfigured || !ov.CatalogConfigured || ov.BatchCap != 2 {
		t.Errorf("unexpected flags %+v", ov)
	}
	if len(ov.Quota.Identities) != 1 || len(h.extractor.calls) != 0 {
		t.Errorf("status must not call the provider: %+v", ov.Quota)
	}
}

package quota

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// identityState holds the counters for one model identity.
type identityState struct {
	window        []time.Time
	dailyRequests int
	dailyTokens   int64
}

// Governor is safe for concurrent use; each method is atomic on its own.
// Callers that need check-then-record to be a single unit must serialize
// around the whole sequence (the extraction client does this).
type Governor struct {
	mu         sync.Mutex
	limits     Limits
	identities []string
	cursor     int
	states     map[string]*identityState
	dayKey     string
	now        func() time.Time
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// New creates a Governor over an ordered list of model identities.
// The cursor starts at the first identity and only ever moves forward.
func New(limits Limits, identities []string, opts ...Option) (*Governor, error) {
	if len(identities) == 0 {
		return nil, ErrNoIdentities
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	if limits.ReferenceTimezone == nil {
		limits.ReferenceTimezone = time.UTC
	}

	g := &Governor{
		limits:     limits,
		identities: append([]string(nil), identities...),
		states:     make(map[string]*identityState, len(identities)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, id := range g.identities {
		g.states[id] = &identityState{}
	}
	g.dayKey = g.dayKeyAt(g.now())
	return g, nil
}

// Limits returns the configured limits.
func (g *Governor) Limits() Limits {
	return g.limits
}

// CurrentIdentity returns the active model identity, or "" once the
// cursor has moved past the last one.
func (g *Governor) CurrentIdentity() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked()
}

func (g *Governor) currentLocked() string {
	if g.cursor >= len(g.identities) {
		return ""
	}
	return g.identities[g.cursor]
}

// CanProceed reports whether a new call may be dispatched under the current
// identity. Checks run in a fixed order and the first failing one wins.
func (g *Governor) CanProceed() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	id := g.currentLocked()
	if id == "" {
		return Decision{Reason: ReasonNoIdentity}
	}
	st := g.states[id]
	g.pruneLocked(st, now)

	if len(st.window) >= g.limits.RPM {
		wait := st.window[0].Add(g.limits.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Decision{Reason: ReasonRPM, Identity: id, Wait: wait}
	}
	if st.dailyRequests >= g.limits.SafeRequests() {
		return Decision{Reason: ReasonDailyRequests, Identity: id}
	}
	if st.dailyRequests >= g.limits.DailyRequests {
		return Decision{Reason: ReasonDailyRequestsHard, Identity: id}
	}
	projected := st.dailyTokens + g.limits.TokensPerCall
	if projected > g.limits.SafeTokens() {
		return Decision{Reason: ReasonDailyTokens, Identity: id}
	}
	if projected > g.limits.DailyTokens {
		return Decision{Reason: ReasonDailyTokensHard, Identity: id}
	}
	return Decision{Allowed: true, Identity: id}
}

// RecordCall accounts for one completed provider call under the current
// identity. tokensUsed <= 0 means unknown and the per-call estimate is used.
func (g *Governor) RecordCall(tokensUsed int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	id := g.currentLocked()
	if id == "" {
		log.Warn().Msg("RecordCall with no model identity left; call not attributed")
		return
	}
	if tokensUsed <= 0 {
		tokensUsed = g.limits.TokensPerCall
	}

	st := g.states[id]
	g.pruneLocked(st, now)
	st.window = append(st.window, now)
	st.dailyRequests++
	st.dailyTokens += tokensUsed

	log.Info().
		Str("model", id).
		Int64("tokensUsed", tokensUsed).
		Int("dailyRequests", st.dailyRequests).
		Int("dailyRequestsLimit", g.limits.DailyRequests).
		Int64("dailyTokens", st.dailyTokens).
		Int64("dailyTokenLimit", g.limits.DailyTokens).
		Int("currentRPM", len(st.window)).
		Int("rpmLimit", g.limits.RPM).
		Msg("Recorded Gemini call")
}

// SwitchIdentity advances the cursor to the next identity. It never wraps
// and never resets counters. It returns false when no identity remains.
func (g *Governor) SwitchIdentity() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cursor >= len(g.identities) {
		return false
	}
	prev := g.identities[g.cursor]
	g.cursor++
	if g.cursor >= len(g.identities) {
		log.Warn().Str("previous", prev).Msg("No model identities remain")
		return false
	}
	log.Info().Str("previous", prev).Str("model", g.identities[g.cursor]).Msg("Switched model identity")
	return true
}

// rolloverLocked resets every identity's daily counters on a day change.
// The cursor also rewinds, since yesterday's exhaustion no longer applies.
func (g *Governor) rolloverLocked(now time.Time) {
	key := g.dayKeyAt(now)
	if key == g.dayKey {
		return
	}
	for id, st := range g.states {
		log.Info().
			Str("model", id).
			Str("previousDay", g.dayKey).
			Int("previousRequests", st.dailyRequests).
			Int64("previousTokens", st.dailyTokens).
			Msg("Resetting daily quota counters")
		st.dailyRequests = 0
		st.dailyTokens = 0
	}
	g.cursor = 0
	g.dayKey = key
}

// pruneLocked drops timestamps older than the window.
func (g *Governor) pruneLocked(st *identityState, now time.Time) {
	cutoff := now.Add(-g.limits.Window)
	i := 0
	for i < len(st.window) && !st.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.window = append(st.window[:0], st.window[i:]...)
	}
}

func (g *Governor) dayKeyAt(t time.Time) string {
	return t.In(g.limits.ReferenceTimezone).Format("2006-01-02")
}

package quota

// Usage is the point-in-time view of one identity's counters.
type Usage struct {
	Identity string `json:"identity"`
	Active   bool   `json:"active"`

	RPMCurrent   int `json:"rpmCurrent"`
	RPMLimit     int `json:"rpmLimit"`
	RPMRemaining int `json:"rpmRemaining"`

	RequestsUsed          int     `json:"requestsUsed"`
	RequestsSafeLimit     int     `json:"requestsSafeLimit"`
	RequestsHardLimit     int     `json:"requestsHardLimit"`
	RequestsRemaining     int     `json:"requestsRemaining"`
	RequestsRemainingHard int     `json:"requestsRemainingHard"`
	RequestsPercent       float64 `json:"requestsPercent"`

	TokensUsed          int64   `json:"tokensUsed"`
	TokensSafeLimit     int64   `json:"tokensSafeLimit"`
	TokensHardLimit     int64   `json:"tokensHardLimit"`
	TokensRemaining     int64   `json:"tokensRemaining"`
	TokensRemainingHard int64   `json:"tokensRemainingHard"`
	TokensPercent       float64 `json:"tokensPercent"`
}

// Snapshot is the governor state across all identities.
type Snapshot struct {
	Day        string  `json:"day"`
	Current    string  `json:"current"`
	Identities []Usage `json:"identities"`
}

// CurrentUsage returns the usage of the active identity, if any.
func (s Snapshot) CurrentUsage() (Usage, bool) {
	for _, u := range s.Identities {
		if u.Active {
			return u, true
		}
	}
	return Usage{}, false
}

// Headroom is what the governor can still spend today before its safe
// limits, summed over the active identity and those after it.
type Headroom struct {
	Requests     int
	Tokens       int64
	RPMRemaining int
}

// Snapshot returns usage statistics for every identity.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	snap := Snapshot{
		Day:        g.dayKey,
		Current:    g.currentLocked(),
		Identities: make([]Usage, 0, len(g.identities)),
	}
	for i, id := range g.identities {
		st := g.states[id]
		g.pruneLocked(st, now)
		snap.Identities = append(snap.Identities, g.usageLocked(id, st, i == g.cursor))
	}
	return snap
}

func (g *Governor) usageLocked(id string, st *identityState, active bool) Usage {
	l := g.limits
	return Usage{
		Identity:              id,
		Active:                active,
		RPMCurrent:            len(st.window),
		RPMLimit:              l.RPM,
		RPMRemaining:          max(0, l.RPM-len(st.window)),
		RequestsUsed:          st.dailyRequests,
		RequestsSafeLimit:     l.SafeRequests(),
		RequestsHardLimit:     l.DailyRequests,
		RequestsRemaining:     max(0, l.SafeRequests()-st.dailyRequests),
		RequestsRemainingHard: max(0, l.DailyRequests-st.dailyRequests),
		RequestsPercent:       percent(float64(st.dailyRequests), float64(l.DailyRequests)),
		TokensUsed:            st.dailyTokens,
		TokensSafeLimit:       l.SafeTokens(),
		TokensHardLimit:       l.DailyTokens,
		TokensRemaining:       max(0, l.SafeTokens()-st.dailyTokens),
		TokensRemainingHard:   max(0, l.DailyTokens-st.dailyTokens),
		TokensPercent:         percent(float64(st.dailyTokens), float64(l.DailyTokens)),
	}
}

// Headroom sums the safe remaining budget of the identities still reachable
// by the cursor. RPMRemaining is that of the active identity.
func (g *Governor) Headroom() Headroom {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	var h Headroom
	for i := g.cursor; i < len(g.identities); i++ {
		st := g.states[g.identities[i]]
		g.pruneLocked(st, now)
		u := g.usageLocked(g.identities[i], st, i == g.cursor)
		h.Requests += u.RequestsRemaining
		h.Tokens += u.TokensRemaining
		if i == g.cursor {
			h.RPMRemaining = u.RPMRemaining
		}
	}
	return h
}

func percent(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(int(used/limit*10000)) / 100
}

// Package quota enforces the Gemini usage ceilings for the listing sync.
//
// The Governor tracks, for every configured model identity, a sliding
// one-minute window of request timestamps plus daily request and token
// counters. Daily counters reset when the calendar day changes in the
// governor's reference timezone. Callers consult CanProceed before every
// provider call and report completed calls with RecordCall.
//
// The in-memory Governor is the single source of truth for one process.
// Running the sync from several processes would need the same contract
// backed by a shared store; that is a known scaling limit.
package quota

import (
	"errors"
	"fmt"
	"time"
)

// Reason explains why CanProceed refused a call.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonRPM               Reason = "RPM_LIMIT"
	ReasonDailyRequests     Reason = "DAILY_REQUESTS"
	ReasonDailyRequestsHard Reason = "DAILY_REQUESTS_HARD"
	ReasonDailyTokens       Reason = "DAILY_TOKENS"
	ReasonDailyTokensHard   Reason = "DAILY_TOKENS_HARD"
	ReasonNoIdentity        Reason = "NO_IDENTITY"
)

// IsDaily reports whether the reason is terminal for the current identity
// until the next day boundary.
func (r Reason) IsDaily() bool {
	switch r {
	case ReasonDailyRequests, ReasonDailyRequestsHard, ReasonDailyTokens, ReasonDailyTokensHard, ReasonNoIdentity:
		return true
	}
	return false
}

// Decision is the result of a CanProceed check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Identity string
	// Wait is set for ReasonRPM: time until the oldest timestamp leaves the window.
	Wait time.Duration
}

// WaitSeconds returns Wait rounded up to whole seconds.
func (d Decision) WaitSeconds() int {
	if d.Wait <= 0 {
		return 0
	}
	return int((d.Wait + time.Second - 1) / time.Second)
}

// Limits configures the hard provider ceilings and the safety margin applied
// to the daily ones. Limits apply per model identity.
type Limits struct {
	RPM               int
	DailyRequests     int
	DailyTokens       int64
	SafetyMargin      float64 // fraction of the daily hard caps callers may use, e.g. 0.9
	TokensPerCall     int64   // conservative estimate used for projections and unknown usage
	Window            time.Duration
	ReferenceTimezone *time.Location
}

// DefaultLimits mirrors the Gemini free tier.
func DefaultLimits() Limits {
	return Limits{
		RPM:               15,
		DailyRequests:     20,
		DailyTokens:       1_500_000,
		SafetyMargin:      0.9,
		TokensPerCall:     2500,
		Window:            time.Minute,
		ReferenceTimezone: time.UTC,
	}
}

// Validate checks the limits for obviously broken values.
func (l Limits) Validate() error {
	if l.RPM <= 0 {
		return fmt.Errorf("rpm limit must be positive, got %d", l.RPM)
	}
	if l.DailyRequests <= 0 {
		return fmt.Errorf("daily request limit must be positive, got %d", l.DailyRequests)
	}
	if l.DailyTokens <= 0 {
		return fmt.Errorf("daily token limit must be positive, got %d", l.DailyTokens)
	}
	if l.SafetyMargin <= 0 || l.SafetyMargin > 1 {
		return fmt.Errorf("safety margin must be in (0, 1], got %v", l.SafetyMargin)
	}
	if l.TokensPerCall <= 0 {
		return fmt.Errorf("tokens per call estimate must be positive, got %d", l.TokensPerCall)
	}
	return nil
}

// SafeRequests is the early-stop request threshold (floor of margin * hard cap).
func (l Limits) SafeRequests() int {
	return int(float64(l.DailyRequests) * l.SafetyMargin)
}

// SafeTokens is the early-stop token threshold.
func (l Limits) SafeTokens() int64 {
	return int64(float64(l.DailyTokens) * l.SafetyMargin)
}

// ErrNoIdentities is returned by New when no model identity is configured.
var ErrNoIdentities = errors.New("quota: at least one model identity is required")

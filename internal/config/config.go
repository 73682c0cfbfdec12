// Package config loads cinema-sync settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Lambda images ship without zoneinfo.

	"github.com/fpang/cinema-sync/internal/fetch"
	"github.com/fpang/cinema-sync/internal/logging"
	"github.com/fpang/cinema-sync/internal/match"
	"github.com/fpang/cinema-sync/internal/quota"
	"github.com/fpang/cinema-sync/internal/reduce"
)

// ErrMissingConfiguration is returned when a required credential is absent.
var ErrMissingConfiguration = errors.New("missing configuration")

const (
	DefaultModels         = "gemini-2.5-flash,gemini-2.0-flash,gemini-2.5-pro,gemini-flash-latest"
	DefaultTimezone       = "America/Los_Angeles"
	DefaultCountryPattern = `(?i)^(españa|spain|es)$`
	DefaultTMDBLanguage   = "es-ES"
	DefaultTableName      = "cinema-sync-cinemas"

	DefaultRequestsPerCinema = 2
	DefaultTokensPerCinema   = 5000

	// MinBatchDelay is the floor of the pause between cinemas.
	MinBatchDelay = 4 * time.Second
)

// Config is the resolved process configuration.
type Config struct {
	GeminiAPIKey string
	TMDBAPIKey   string
	TMDBLanguage string
	Models       []string

	Quota          quota.Limits
	Fetch          fetch.Config
	Match          match.Config
	ReduceMaxChars int

	RequestsPerCinema int
	TokensPerCinema   int64
	BatchDelay        time.Duration

	TableName      string
	CountryPattern *regexp.Regexp
}

// Load reads the configuration from the environment. Malformed values are
// errors; absent values take their defaults. Credentials are not required
// here, see RequireCredentials.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		TMDBAPIKey:   strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBLanguage: logging.EnvOrDefault("TMDB_LANGUAGE", DefaultTMDBLanguage),
		Models:       splitList(logging.EnvOrDefault("GEMINI_MODELS", DefaultModels)),
		TableName:    logging.EnvOrDefault("CINEMA_TABLE_NAME", DefaultTableName),
	}

	limits := quota.DefaultLimits()
	limits.RPM = p.intVar("QUOTA_RPM", limits.RPM)
	limits.DailyRequests = p.intVar("QUOTA_DAILY_REQUESTS", limits.DailyRequests)
	limits.DailyTokens = p.int64Var("QUOTA_DAILY_TOKENS", limits.DailyTokens)
	limits.SafetyMargin = p.floatVar("QUOTA_SAFETY_MARGIN", limits.SafetyMargin)
	limits.TokensPerCall = p.int64Var("QUOTA_TOKENS_PER_CALL", limits.TokensPerCall)
	tz := logging.EnvOrDefault("QUOTA_TIMEZONE", DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.fail("QUOTA_TIMEZONE", err)
	} else {
		limits.ReferenceTimezone = loc
	}
	cfg.Quota = limits

	mode, err := fetch.ParseMode(logging.EnvOrDefault("FETCH_MODE", string(fetch.ModeAuto)))
	if err != nil {
		p.fail("FETCH_MODE", err)
	}
	cfg.Fetch = fetch.Config{
		Mode:       mode,
		Timeout:    p.durationVar("FETCH_TIMEOUT", fetch.DefaultTimeout),
		Settle:     p.durationVar("FETCH_SETTLE", fetch.DefaultSettle),
		ChromePath: os.Getenv("CHROME_PATH"),
	}

	cfg.ReduceMaxChars = p.intVar("REDUCE_MAX_CHARS", reduce.DefaultMaxChars)
	cfg.Match = match.Config{
		Threshold:     p.floatVar("MATCH_THRESHOLD", match.DefaultThreshold),
		PopularPages:  p.intVar("MATCH_POPULAR_PAGES", match.DefaultPopularPages),
		MaxCandidates: p.intVar("MATCH_MAX_CANDIDATES", match.DefaultMaxCandidates),
	}

	cfg.RequestsPerCinema = p.intVar("BATCH_REQUESTS_PER_CINEMA", DefaultRequestsPerCinema)
	cfg.TokensPerCinema = p.int64Var("BATCH_TOKENS_PER_CINEMA", DefaultTokensPerCinema)
	cfg.BatchDelay = p.durationVar("BATCH_DELAY", 0)

	pattern := logging.EnvOrDefault("CINEMA_COUNTRY_PATTERN", DefaultCountryPattern)
	re, err := regexp.Compile(pattern)
	if err != nil {
		p.fail("CINEMA_COUNTRY_PATTERN", err)
	}
	cfg.CountryPattern = re

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("quota limits: %w", err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("GEMINI_MODELS: at least one model is required")
	}
	if cfg.RequestsPerCinema <= 0 || cfg.TokensPerCinema <= 0 {
		return nil, fmt.Errorf("per-cinema cost estimates must be positive")
	}
	cfg.BatchDelay = BatchDelay(cfg.BatchDelay, limits.RPM)
	return cfg, nil
}

// RequireCredentials reports ErrMissingConfiguration unless both the
// Gemini and TMDB keys are set.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.TMDBAPIKey == "" {
		missing = append(missing, "TMDB_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// BatchDelay returns the pause between cinemas: the configured value,
// raised to at least one RPM slot and to MinBatchDelay.
func BatchDelay(configured time.Duration, rpm int) time.Duration {
	d := max(configured, MinBatchDelay)
	if rpm > 0 {
		d = max(d, time.Minute/time.Duration(rpm))
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser accumulates errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) int64Var(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) floatVar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

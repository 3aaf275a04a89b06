// Package config loads the settings for a run.
//
// Values come from the defaults, then the settings file, then the environment,
// each overriding the last.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	goaway "github.com/TwiN/go-away"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/internal/pipeline"
)

const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"

	PacingFixed  = "fixed"
	PacingBucket = "bucket"

	// Longest interests string sent along with every prompt.
	MaxInterestsLength = 5024
)

var defaultModels = map[string]string{
	ProviderGemini: "gemini-2.0-flash-lite",
	ProviderClaude: "claude-haiku-4-5",
}

// Settings is everything a run needs. It is built once and not changed after.
type Settings struct {
	Provider        string `yaml:"provider" env:"PROVIDER, overwrite"`
	Model           string `yaml:"model" env:"MODEL, overwrite"`
	GoogleAPIKey    string `yaml:"google_api_key" env:"GOOGLE_API_KEY, overwrite"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY, overwrite"`
	Interests       string `yaml:"interests" env:"INTERESTS, overwrite"`

	BatchSize       int    `yaml:"batch_size" env:"BATCH_SIZE, overwrite"`
	InputFile       string `yaml:"input_file" env:"INPUT_FILE, overwrite"`
	OutputFile      string `yaml:"output_file" env:"OUTPUT_FILE, overwrite"`
	ArchiveDatabase string `yaml:"archive_database" env:"ARCHIVE_DATABASE, overwrite"`

	PreviewSites Flag   `yaml:"preview_sites" env:"PREVIEW_SITES, overwrite"`
	Theme        string `yaml:"theme" env:"THEME, overwrite"`
	DigestFile   string `yaml:"digest_file" env:"DIGEST_FILE, overwrite"`

	FeedTimeout      time.Duration `yaml:"feed_timeout" env:"FEED_TIMEOUT, overwrite"`
	FetchConcurrency int           `yaml:"fetch_concurrency" env:"FETCH_CONCURRENCY, overwrite"`
	ScoringTimeout   time.Duration `yaml:"scoring_timeout" env:"SCORING_TIMEOUT, overwrite"`

	Pacing            string        `yaml:"pacing" env:"PACING, overwrite"`
	CallDelay         time.Duration `yaml:"call_delay" env:"CALL_DELAY, overwrite"`
	CooldownDelay     time.Duration `yaml:"cooldown_delay" env:"COOLDOWN_DELAY, overwrite"`
	CooldownEvery     int           `yaml:"cooldown_every" env:"COOLDOWN_EVERY, overwrite"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE, overwrite"`

	FailurePolicy string        `yaml:"failure_policy" env:"FAILURE_POLICY, overwrite"`
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES, overwrite"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF, overwrite"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	return Settings{
		Provider:          ProviderGemini,
		BatchSize:         20,
		InputFile:         "rss_sources.txt",
		OutputFile:        "results.csv",
		PreviewSites:      true,
		Theme:             "aero.css",
		DigestFile:        "debrief.html",
		FeedTimeout:       10 * time.Second,
		FetchConcurrency:  4,
		ScoringTimeout:    60 * time.Second,
		Pacing:            PacingFixed,
		CallDelay:         4 * time.Second,
		CooldownDelay:     60 * time.Second,
		CooldownEvery:     15,
		RequestsPerMinute: 15,
		FailurePolicy:     string(pipeline.PolicyAbort),
		MaxRetries:        3,
		RetryBackoff:      2 * time.Second,
	}
}

// Older settings files spell the preview switch with a hyphen.
type legacyKeys struct {
	PreviewSites *Flag `yaml:"preview-sites"`
	Current      *Flag `yaml:"preview_sites"`
}

// Load builds validated settings from the file at path and the environment
// seen through l. A missing file is not an error; nil l reads the process
// environment.
func Load(ctx context.Context, path string, l envconfig.Lookuper) (Settings, error) {
	s := Defaults()

	if err := s.readFile(path); err != nil {
		return Settings{}, err
	}

	if l == nil {
		l = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &s,
		Lookuper: l,
	}); err != nil {
		return Settings{}, dberrs.E(dberrs.KindConfig, fmt.Errorf("error reading environment: %w", err))
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func (s *Settings) readFile(path string) error {
	if path == "" {
		return nil
	}

	byts, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return dberrs.E(dberrs.KindConfig, fmt.Errorf("error reading settings file: %w", err), dberrs.Detail{Field: "settings_file", Error: path})
	}

	// JSON is valid YAML, so the same decoder takes either.
	if err := yaml.Unmarshal(byts, s); err != nil {
		return dberrs.E(dberrs.KindConfig, fmt.Errorf("error parsing settings file %s: %w", path, err))
	}

	var legacy legacyKeys
	if err := yaml.Unmarshal(byts, &legacy); err == nil && legacy.PreviewSites != nil && legacy.Current == nil {
		s.PreviewSites = *legacy.PreviewSites
	}

	return nil
}

func (s *Settings) normalize() {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	s.Pacing = strings.ToLower(strings.TrimSpace(s.Pacing))
	s.FailurePolicy = strings.ToLower(strings.TrimSpace(s.FailurePolicy))
	s.Interests = strings.TrimSpace(s.Interests)

	if s.Model == "" {
		s.Model = defaultModels[s.Provider]
	}
}

// Validate reports every problem with the settings at once.
func (s Settings) Validate() error {
	var details []dberrs.Detail
	fail := func(field, msg string) {
		details = append(details, dberrs.Detail{Field: field, Error: msg})
	}

	switch s.Provider {
	case ProviderGemini:
		if s.GoogleAPIKey == "" {
			fail("google_api_key", "required for the gemini provider")
		}
	case ProviderClaude:
		if s.AnthropicAPIKey == "" {
			fail("anthropic_api_key", "required for the claude provider")
		}
	default:
		fail("provider", fmt.Sprintf("unknown provider %q", s.Provider))
	}
	if s.Model == "" {
		fail("model", "required")
	}

	if len(s.Interests) > MaxInterestsLength {
		fail("interests", fmt.Sprintf("longer than %d characters", MaxInterestsLength))
	}
	if goaway.IsProfane(s.Interests) {
		fail("interests", "contains profanity")
	}

	if s.BatchSize < 1 {
		fail("batch_size", "must be at least 1")
	}
	if s.InputFile == "" {
		fail("input_file", "required")
	}
	if s.OutputFile == "" {
		fail("output_file", "required")
	}

	if s.FeedTimeout <= 0 {
		fail("feed_timeout", "must be positive")
	}
	if s.ScoringTimeout <= 0 {
		fail("scoring_timeout", "must be positive")
	}
	if s.FetchConcurrency < 1 {
		fail("fetch_concurrency", "must be at least 1")
	}

	switch s.Pacing {
	case PacingFixed:
		if s.CallDelay < 0 || s.CooldownDelay < 0 {
			fail("call_delay", "delays can't be negative")
		}
		if s.CooldownEvery < 0 {
			fail("cooldown_every", "can't be negative")
		}
	case PacingBucket:
		if s.RequestsPerMinute < 1 {
			fail("requests_per_minute", "must be at least 1")
		}
	default:
		fail("pacing", fmt.Sprintf("unknown pacing %q", s.Pacing))
	}

	policy, err := pipeline.ParseFailurePolicy(s.FailurePolicy)
	if err != nil {
		fail("failure_policy", err.Error())
	}
	if policy == pipeline.PolicyRetry {
		if s.MaxRetries < 0 {
			fail("max_retries", "can't be negative")
		}
		if s.RetryBackoff <= 0 {
			fail("retry_backoff", "must be positive")
		}
	}

	if len(details) > 0 {
		return dberrs.E(dberrs.KindConfig, "invalid settings", details)
	}
	return nil
}

// Policy is the parsed failure policy. Only valid on validated settings.
func (s Settings) Policy() pipeline.FailurePolicy {
	p, _ := pipeline.ParseFailurePolicy(s.FailurePolicy)
	return p
}

// APIKey is the credential for the selected provider.
func (s Settings) APIKey() string {
	if s.Provider == ProviderClaude {
		return s.AnthropicAPIKey
	}
	return s.GoogleAPIKey
}

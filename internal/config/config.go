// Package config loads gateway configuration from an optional JSONC file and
// environment variables, with environment variables always taking priority.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// TournamentDefaults mirrors the tunable defaults in spec.md §4.7.
type TournamentDefaults struct {
	MaxHypotheses           int     `json:"maxHypotheses"`
	MaxRounds               int     `json:"maxRounds"`
	EliminationThreshold    float64 `json:"eliminationThreshold"`
	Parallelism             int     `json:"parallelism"`
	CrossPollinationEnabled bool    `json:"crossPollinationEnabled"`
}

// Config holds process-wide tunables.
type Config struct {
	// GeminiAPIKey authenticates against the remote generative reasoning service.
	GeminiAPIKey string

	// ProjectRoot is the absolute root the Secure Reader confines all file
	// access to.
	ProjectRoot string

	// GeminiModel selects the remote model used for reasoning dialogues.
	GeminiModel string

	// Debug enables verbose diagnostic logging.
	Debug bool

	// SessionIdleTimeout is the duration of inactivity after which a session
	// becomes abandoned (spec.md §4.5).
	SessionIdleTimeout time.Duration

	// SweepInterval is how often the session manager's background sweeper runs.
	SweepInterval time.Duration

	// RequestBudget is the default per-request time budget (spec.md §5).
	RequestBudget time.Duration

	// TournamentBudget is the default per-tournament time budget (spec.md §5).
	TournamentBudget time.Duration

	// Tournament holds the tournament scheduler's configurable defaults.
	Tournament TournamentDefaults
}

// Default returns the baseline configuration before any file or environment
// overrides are applied.
func Default() Config {
	return Config{
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      5 * time.Minute,
		RequestBudget:      60 * time.Second,
		TournamentBudget:   300 * time.Second,
		Tournament: TournamentDefaults{
			MaxHypotheses:           6,
			MaxRounds:               3,
			EliminationThreshold:    0.3,
			Parallelism:             4,
			CrossPollinationEnabled: true,
		},
	}
}

// fileOverrides is the subset of Config that may be tuned via the JSONC file.
// GeminiAPIKey is deliberately excluded: secrets come from the environment only.
type fileOverrides struct {
	SessionIdleTimeoutSeconds *int                `json:"sessionIdleTimeoutSeconds"`
	SweepIntervalSeconds      *int                `json:"sweepIntervalSeconds"`
	RequestBudgetSeconds      *int                `json:"requestBudgetSeconds"`
	TournamentBudgetSeconds   *int                `json:"tournamentBudgetSeconds"`
	Tournament                *TournamentDefaults `json:"tournament"`
}

// Load builds a Config from (in priority order) the default, an optional
// JSONC config file at path (ignored if unreadable), and environment
// variables. Environment variables always win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var overrides fileOverrides
			clean := jsonc.ToJSON(data)
			if err := json.Unmarshal(clean, &overrides); err == nil {
				applyFileOverrides(&cfg, overrides)
			}
		}
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		return cfg, fmt.Errorf("config: GEMINI_API_KEY is required")
	}

	cfg.GeminiModel = os.Getenv("GEMINI_MODEL")

	cfg.ProjectRoot = os.Getenv("PROJECT_ROOT")
	if cfg.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, fmt.Errorf("config: resolve working directory: %w", err)
		}
		cfg.ProjectRoot = wd
	}

	if v := os.Getenv("DEBUG"); v != "" && v != "0" && v != "false" {
		cfg.Debug = true
	}

	return cfg, nil
}

func applyFileOverrides(cfg *Config, o fileOverrides) {
	if o.SessionIdleTimeoutSeconds != nil {
		cfg.SessionIdleTimeout = time.Duration(*o.SessionIdleTimeoutSeconds) * time.Second
	}
	if o.SweepIntervalSeconds != nil {
		cfg.SweepInterval = time.Duration(*o.SweepIntervalSeconds) * time.Second
	}
	if o.RequestBudgetSeconds != nil {
		cfg.RequestBudget = time.Duration(*o.RequestBudgetSeconds) * time.Second
	}
	if o.TournamentBudgetSeconds != nil {
		cfg.TournamentBudget = time.Duration(*o.TournamentBudgetSeconds) * time.Second
	}
	if o.Tournament != nil {
		cfg.Tournament = *o.Tournament
	}
}

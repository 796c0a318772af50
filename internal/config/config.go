// Package config loads pipeline configuration from the environment.
//
// Model identifiers, endpoint overrides and pool sizes come from environment
// variables; a .env or .env.local file is loaded first (process environment
// wins). Validation is strict: a tier without a resolvable model or API key
// is a fatal configuration error, never a silent default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Tier identifies one of the three pipeline tiers plus shared fallbacks.
type Tier string

const (
	TierScout   Tier = "SCOUT"
	TierPlanner Tier = "PLANNER"
	TierWriter  Tier = "WRITER"
)

// TierConfig holds the LLM endpoint settings for one tier.
type TierConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// Config is the resolved process configuration.
type Config struct {
	DatabaseURL string

	Scout   TierConfig
	Planner TierConfig
	Writer  TierConfig

	ScoutParallel  int
	WriterParallel int

	WebhookSecret string
	NATSURL       string
	ListenAddr    string

	WorkspaceDir string
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Load resolves configuration from .env files and the process environment.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{
		DatabaseURL:    getenv("DATABASE_URL", "isocrates.db"),
		ScoutParallel:  getenvInt("SCOUT_PARALLEL", 4),
		WriterParallel: getenvInt("WRITER_PARALLEL", 3),
		WebhookSecret:  os.Getenv("GITHUB_WEBHOOK_SECRET"),
		NATSURL:        os.Getenv("NATS_URL"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		WorkspaceDir:   getenv("WORKSPACE_DIR", defaultWorkspace()),
		PollInterval:   getenvDuration("WORKER_POLL_INTERVAL", 10*time.Second),
		JobTimeout:     getenvDuration("JOB_TIMEOUT", 30*time.Minute),
	}

	cfg.Scout = tierConfig(TierScout)
	cfg.Planner = tierConfig(TierPlanner)
	cfg.Writer = tierConfig(TierWriter)

	// git must never block on an interactive pager when the pipeline shells out.
	if os.Getenv("GIT_PAGER") == "" {
		_ = os.Setenv("GIT_PAGER", "cat")
	}

	if cfg.ScoutParallel < 1 {
		cfg.ScoutParallel = 1
	}
	if cfg.WriterParallel < 1 {
		cfg.WriterParallel = 1
	}

	return cfg, nil
}

// ValidateTiers checks that every pipeline tier has a model and an API key.
// Called by commands that actually run LLM tiers; the store server does not.
func (c *Config) ValidateTiers() error {
	for _, t := range []struct {
		tier Tier
		tc   TierConfig
	}{
		{TierScout, c.Scout},
		{TierPlanner, c.Planner},
		{TierWriter, c.Writer},
	} {
		if t.tc.Model == "" {
			return fmt.Errorf("missing model for tier %s: set %s_MODEL", t.tier, t.tier)
		}
		if t.tc.APIKey == "" {
			return fmt.Errorf("missing API key for tier %s: set %s_API_KEY or LLM_API_KEY", t.tier, t.tier)
		}
	}
	return nil
}

// tierConfig resolves a tier's settings with global LLM_* fallbacks.
func tierConfig(tier Tier) TierConfig {
	prefix := string(tier)
	return TierConfig{
		Model:   os.Getenv(prefix + "_MODEL"),
		BaseURL: firstNonEmpty(os.Getenv(prefix+"_BASE_URL"), os.Getenv("LLM_BASE_URL")),
		APIKey:  firstNonEmpty(os.Getenv(prefix+"_API_KEY"), os.Getenv("LLM_API_KEY")),
	}
}

// loadEnvFiles loads .env then .env.local without overriding process env.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func defaultWorkspace() string {
	return fmt.Sprintf("%s/isocrates-workspace", os.TempDir())
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

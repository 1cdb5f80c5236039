// Package config loads and validates the lineary TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
	Estimator Estimator `toml:"estimator"`
	Webhook   Webhook   `toml:"webhook"`
	LLM       LLM       `toml:"llm"`
	Codehost  Codehost  `toml:"codehost"`
	Feedback  Feedback  `toml:"feedback"`
	Retry     Retry     `toml:"retry"`
	LogLevel  string    `toml:"log_level"`
}

// Server configures the HTTP listener.
type Server struct {
	Bind              string   `toml:"bind"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

// Database configures the durable relational store.
type Database struct {
	Path string `toml:"path"`
}

// Estimator configures the §4.1 Estimator's tunable constants.
type Estimator struct {
	AvgCharsPerToken   int     `toml:"avg_chars_per_token"`
	RefinementBuffer   float64 `toml:"refinement_buffer"`
	TokenRoundTo       int     `toml:"token_round_to"`
	TokensPerMinute    int     `toml:"tokens_per_minute"`
	ConfidenceBaseline float64 `toml:"confidence_baseline"`
}

// Webhook configures inbound signed webhook handling.
type Webhook struct {
	Secrets        map[string]string `toml:"secrets"` // installation id -> shared secret
	MaxBodyBytes   int64             `toml:"max_body_bytes"`
	DedupWindow    Duration          `toml:"dedup_window"`
	SweepInterval  Duration          `toml:"sweep_interval"`
	MentionPrefix  string            `toml:"mention_prefix"`
	WorkItemMarker string            `toml:"work_item_marker_prefix"`
}

// LLM configures the outbound review-generation client.
type LLM struct {
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature float64  `toml:"temperature"`
	Timeout     Duration `toml:"timeout"`
}

// Codehost configures the code-host client (§4.5).
type Codehost struct {
	BaseURL              string   `toml:"base_url"`
	Token                string   `toml:"token"`
	Timeout              Duration `toml:"timeout"`
	RateLimitPerSecond   float64  `toml:"rate_limit_per_second"`
	RateLimitBurst       int      `toml:"rate_limit_burst"`
	AllowedExtensions    []string `toml:"allowed_extensions"`
	MaxChangedFiles      int      `toml:"max_changed_files"`
	MaxChangedLines      int      `toml:"max_changed_lines"`
	MaxFileContentChars  int      `toml:"max_file_content_chars"`
}

// Feedback configures the AI Feedback Loop's historical lookback.
type Feedback struct {
	HistoryLimit int     `toml:"history_limit"`
	WeightFloor  float64 `toml:"weight_floor"`
}

// Retry configures the shared exponential-backoff policy (§5).
type Retry struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseDelay     Duration `toml:"base_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
}

// Load reads and validates a lineary TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}

	return &cfg, nil
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Webhook.Secrets = cloneStringMap(cfg.Webhook.Secrets)
	cloned.Webhook.MentionPrefix = cfg.Webhook.MentionPrefix
	cloned.Codehost.AllowedExtensions = cloneStringSlice(cfg.Codehost.AllowedExtensions)
	return &cloned
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout.Duration == 0 {
		cfg.Server.ReadHeaderTimeout.Duration = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lineary.db"
	}
	if cfg.Estimator.AvgCharsPerToken == 0 {
		cfg.Estimator.AvgCharsPerToken = 4
	}
	if cfg.Estimator.RefinementBuffer == 0 {
		cfg.Estimator.RefinementBuffer = 1.2
	}
	if cfg.Estimator.TokenRoundTo == 0 {
		cfg.Estimator.TokenRoundTo = 100
	}
	if cfg.Estimator.TokensPerMinute == 0 {
		cfg.Estimator.TokensPerMinute = 100
	}
	if cfg.Estimator.ConfidenceBaseline == 0 {
		cfg.Estimator.ConfidenceBaseline = 0.5
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20
	}
	if cfg.Webhook.DedupWindow.Duration == 0 {
		cfg.Webhook.DedupWindow.Duration = 5 * time.Minute
	}
	if cfg.Webhook.SweepInterval.Duration == 0 {
		cfg.Webhook.SweepInterval.Duration = 1 * time.Minute
	}
	if cfg.Webhook.MentionPrefix == "" {
		cfg.Webhook.MentionPrefix = "@reviewer"
	}
	if cfg.Webhook.WorkItemMarker == "" {
		cfg.Webhook.WorkItemMarker = `(?i)(#(\d+)|([A-Z]{2,10})-(\d+))`
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4000
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.Timeout.Duration == 0 {
		cfg.LLM.Timeout.Duration = 120 * time.Second
	}
	if cfg.Codehost.Timeout.Duration == 0 {
		cfg.Codehost.Timeout.Duration = 10 * time.Second
	}
	if cfg.Codehost.RateLimitPerSecond == 0 {
		cfg.Codehost.RateLimitPerSecond = 5
	}
	if cfg.Codehost.RateLimitBurst == 0 {
		cfg.Codehost.RateLimitBurst = 10
	}
	if len(cfg.Codehost.AllowedExtensions) == 0 {
		cfg.Codehost.AllowedExtensions = []string{
			".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb", ".rs", ".c", ".cpp", ".h", ".md",
		}
	}
	if cfg.Codehost.MaxChangedFiles == 0 {
		cfg.Codehost.MaxChangedFiles = 10
	}
	if cfg.Codehost.MaxChangedLines == 0 {
		cfg.Codehost.MaxChangedLines = 1000
	}
	if cfg.Codehost.MaxFileContentChars == 0 {
		cfg.Codehost.MaxFileContentChars = 5000
	}
	if cfg.Feedback.HistoryLimit == 0 {
		cfg.Feedback.HistoryLimit = 20
	}
	if cfg.Feedback.WeightFloor == 0 {
		cfg.Feedback.WeightFloor = 0.5
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay.Duration == 0 {
		cfg.Retry.BaseDelay.Duration = 1 * time.Second
	}
	if cfg.Retry.MaxDelay.Duration == 0 {
		cfg.Retry.MaxDelay.Duration = 60 * time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func normalizePaths(cfg *Config) {
	cfg.Database.Path = expandHome(strings.TrimSpace(cfg.Database.Path))
}

func expandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Estimator.AvgCharsPerToken <= 0 {
		return fmt.Errorf("estimator.avg_chars_per_token must be > 0")
	}
	if cfg.Feedback.WeightFloor < 0 || cfg.Feedback.WeightFloor > 1 {
		return fmt.Errorf("feedback.weight_floor must be within [0,1]")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts cannot be negative")
	}
	if cfg.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook.max_body_bytes must be > 0")
	}
	return nil
}

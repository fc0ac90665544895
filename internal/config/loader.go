// Package config loads the service configuration from config.yaml and
// AGENT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AGENT_LLM_API_KEY
const EnvPrefix = "AGENT"

// Checkpoint backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the full service configuration
type Config struct {
	LLM           LLMConfig           `yaml:"llm" envconfig:"llm"`
	Budget        BudgetConfig        `yaml:"budget" envconfig:"budget"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint" envconfig:"checkpoint"`
	Log           LogConfig           `yaml:"log" envconfig:"log"`
	Metrics       MetricsConfig       `yaml:"metrics" envconfig:"metrics"`
	Engine        EngineConfig        `yaml:"engine" envconfig:"engine"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" envconfig:"retrieval"`
	Transcription TranscriptionConfig `yaml:"transcription" envconfig:"transcription"`
}

// LLMConfig holds the chat model settings shared by both tiers
type LLMConfig struct {
	Provider    string        `yaml:"provider" envconfig:"provider"`
	APIKey      string        `yaml:"api_key" envconfig:"api_key"`
	BaseURL     string        `yaml:"base_url" envconfig:"base_url"`
	FastModel   string        `yaml:"fast_model" envconfig:"fast_model"`
	MainModel   string        `yaml:"main_model" envconfig:"main_model"`
	Temperature float32       `yaml:"temperature" envconfig:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" envconfig:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"timeout"`
}

// BudgetConfig holds the per-thread token budget
type BudgetConfig struct {
	MaxTokens        int     `yaml:"max_tokens" envconfig:"max_tokens"`
	KeepRatio        float64 `yaml:"keep_ratio" envconfig:"keep_ratio"`
	SummaryMaxTokens int     `yaml:"summary_max_tokens" envconfig:"summary_max_tokens"`
	Encoding         string  `yaml:"encoding" envconfig:"encoding"`
}

// CheckpointConfig selects and tunes the checkpoint store
type CheckpointConfig struct {
	Backend      string        `yaml:"backend" envconfig:"backend"`
	RedisURL     string        `yaml:"redis_url" envconfig:"redis_url"`
	Prefix       string        `yaml:"prefix" envconfig:"prefix"`
	TTL          time.Duration `yaml:"ttl" envconfig:"ttl"`
	SQLitePath   string        `yaml:"sqlite_path" envconfig:"sqlite_path"`
	HistoryLimit int           `yaml:"history_limit" envconfig:"history_limit"`
	// DistributedLock serializes turns of a thread across processes (redis only)
	DistributedLock bool          `yaml:"distributed_lock" envconfig:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl" envconfig:"lock_ttl"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"level"`
	Format     string `yaml:"format" envconfig:"format"`
	Output     string `yaml:"output" envconfig:"output"`
	FilePath   string `yaml:"file_path" envconfig:"file_path"`
	TimeFormat string `yaml:"time_format" envconfig:"time_format"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"enabled"`
	Addr    string `yaml:"addr" envconfig:"addr"`
}

// EngineConfig tunes graph execution
type EngineConfig struct {
	RecursionLimit int `yaml:"recursion_limit" envconfig:"recursion_limit"`
}

// RetrievalConfig points at the keyword retriever corpus. Empty disables retrieval.
type RetrievalConfig struct {
	DocumentsPath string `yaml:"documents_path" envconfig:"documents_path"`
	Limit         int    `yaml:"limit" envconfig:"limit"`
}

// TranscriptionConfig enables reading pre-computed segment files
type TranscriptionConfig struct {
	SegmentFiles bool `yaml:"segment_files" envconfig:"segment_files"`
}

// Default returns the configuration used for every unset field
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://openrouter.ai/api/v1",
			FastModel:   "openai/gpt-4o-mini",
			MainModel:   "openai/gpt-4o",
			Temperature: 0.1,
			MaxTokens:   1500,
			Timeout:     60 * time.Second,
		},
		Budget: BudgetConfig{
			MaxTokens:        8000,
			KeepRatio:        0.3,
			SummaryMaxTokens: 1000,
			Encoding:         "cl100k_base",
		},
		Checkpoint: CheckpointConfig{
			Backend:    BackendMemory,
			RedisURL:   "redis://localhost:6379/0",
			Prefix:     "checkpoint:",
			TTL:        24 * time.Hour,
			SQLitePath: "data/checkpoints.db",
			LockTTL:    2 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			FilePath:   "logs/agent.log",
			TimeFormat: "rfc3339",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Engine: EngineConfig{
			RecursionLimit: 25,
		},
		Retrieval: RetrievalConfig{
			Limit: 3,
		},
	}
}

// Load reads path over the defaults, expands ${VAR} references, then applies
// AGENT_* environment overrides. A missing file is not an error when path is
// the default config.yaml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("error parsing YAML: %w", err)
			}
		case os.IsNotExist(err) && filepath.Base(path) == "config.yaml":
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults refills zero values a YAML file may have blanked
func (c *Config) applyDefaults() {
	def := Default()
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.MainModel == "" {
		c.LLM.MainModel = def.LLM.MainModel
	}
	if c.LLM.FastModel == "" {
		c.LLM.FastModel = c.LLM.MainModel
	}
	if c.Budget.MaxTokens == 0 {
		c.Budget.MaxTokens = def.Budget.MaxTokens
	}
	if c.Budget.KeepRatio == 0 {
		c.Budget.KeepRatio = def.Budget.KeepRatio
	}
	if c.Budget.Encoding == "" {
		c.Budget.Encoding = def.Budget.Encoding
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = def.Checkpoint.Backend
	}
	c.Checkpoint.Backend = strings.ToLower(c.Checkpoint.Backend)
	if c.Checkpoint.Prefix == "" {
		c.Checkpoint.Prefix = def.Checkpoint.Prefix
	}
	if c.Checkpoint.LockTTL == 0 {
		c.Checkpoint.LockTTL = def.Checkpoint.LockTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Engine.RecursionLimit == 0 {
		c.Engine.RecursionLimit = def.Engine.RecursionLimit
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("budget.max_tokens must be positive, got %d", c.Budget.MaxTokens)
	}
	if c.Budget.KeepRatio <= 0 || c.Budget.KeepRatio >= 1 {
		return fmt.Errorf("budget.keep_ratio must be between 0 and 1, got %v", c.Budget.KeepRatio)
	}
	if c.Budget.SummaryMaxTokens < 0 {
		return fmt.Errorf("budget.summary_max_tokens cannot be negative")
	}

	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Checkpoint.RedisURL == "" {
			return fmt.Errorf("checkpoint.redis_url is required for the redis backend")
		}
	case BackendSQLite:
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("checkpoint.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported checkpoint backend: %s", c.Checkpoint.Backend)
	}
	if c.Checkpoint.DistributedLock && c.Checkpoint.Backend != BackendRedis {
		return fmt.Errorf("checkpoint.distributed_lock requires the redis backend")
	}

	if c.Engine.RecursionLimit < 0 {
		return fmt.Errorf("engine.recursion_limit cannot be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

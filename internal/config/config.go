// Package config holds all recall configuration as fully-typed structs with
// documented defaults. Values are loaded from a YAML file and overridden by
// environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all recall configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Step/lifeline strategy
	Strategy StrategyConfig `yaml:"strategy"`

	// Historical index
	History HistoryConfig `yaml:"history"`

	// Input/output heuristics
	Heuristics HeuristicsConfig `yaml:"heuristics"`

	// Sandbox execution
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StrategyConfig bounds the execution loop.
type StrategyConfig struct {
	// MaxSteps is the outer step budget (default: 3). The further-processing
	// forwarding budget is always MaxSteps-1.
	MaxSteps int `yaml:"max_steps"`

	// MaxLifelinesPerStep is the retry budget within one step (default: 3).
	MaxLifelinesPerStep int `yaml:"max_lifelines_per_step"`
}

// HistoryConfig configures the historical answer index.
type HistoryConfig struct {
	// MemoryIndexFile is the path of the single JSON index document
	// (default: memory/historical_conversation_store.json).
	MemoryIndexFile string `yaml:"memory_index_file"`

	// JaccardSimilarityThreshold is the minimum paraphrase fast-path score
	// (default: 0.80).
	JaccardSimilarityThreshold float64 `yaml:"jaccard_similarity_threshold"`

	// TopKSimilarExamples bounds few-shot retrieval (default: 3).
	TopKSimilarExamples int `yaml:"top_k_similar_examples"`

	// MaxIndexRecords bounds the store, oldest records trimmed first.
	// 0 means unbounded (default: 0).
	MaxIndexRecords int `yaml:"max_index_records"`
}

// HeuristicsConfig configures the input/output gate.
type HeuristicsConfig struct {
	BannedWords    []string `yaml:"banned_words"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// SandboxConfig configures solve-plan interpretation.
type SandboxConfig struct {
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recall",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},

		Strategy: StrategyConfig{
			MaxSteps:            3,
			MaxLifelinesPerStep: 3,
		},

		History: HistoryConfig{
			MemoryIndexFile:            filepath.Join("memory", "historical_conversation_store.json"),
			JaccardSimilarityThreshold: 0.80,
			TopKSimilarExamples:        3,
			MaxIndexRecords:            0,
		},

		Heuristics: HeuristicsConfig{
			BannedWords:    []string{},
			BlockedDomains: []string{"gmail.com", "drive.google.com", "localhost"},
		},

		Sandbox: SandboxConfig{
			Timeout: "60s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	if c.Strategy.MaxSteps < 1 {
		return fmt.Errorf("strategy.max_steps must be >= 1, got %d", c.Strategy.MaxSteps)
	}
	if c.Strategy.MaxLifelinesPerStep < 1 {
		return fmt.Errorf("strategy.max_lifelines_per_step must be >= 1, got %d", c.Strategy.MaxLifelinesPerStep)
	}
	if c.History.TopKSimilarExamples < 1 {
		return fmt.Errorf("history.top_k_similar_examples must be >= 1, got %d", c.History.TopKSimilarExamples)
	}
	if t := c.History.JaccardSimilarityThreshold; t <= 0 || t > 1.0 {
		return fmt.Errorf("history.jaccard_similarity_threshold must be in (0, 1], got %v", t)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (checked in priority order)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("RECALL_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("RECALL_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("RECALL_INDEX_FILE"); path != "" {
		c.History.MemoryIndexFile = path
	}
}

// AllowedFPRUses returns the further-processing forwarding budget.
func (c *Config) AllowedFPRUses() int {
	return c.Strategy.MaxSteps - 1
}

// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables bearer auth
}

type RedisConfig struct {
	URL        string        `yaml:"url"` // empty disables redis
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	RateLimit  int           `yaml:"rate_limit"` // reasoning calls per window, 0 = unlimited
	RateWindow time.Duration `yaml:"rate_window"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // openai|gemini|noop
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	DefaultModel    string `yaml:"default_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	PromptTokens    int    `yaml:"prompt_tokens"`    // budget for one batch prompt
}

type JobsConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	Retention      time.Duration `yaml:"retention"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
	MessageTail    int           `yaml:"message_tail"`
	SuggestTargets bool          `yaml:"suggest_targets"`
	ShutdownWait   time.Duration `yaml:"shutdown_wait"`
}

type CacheConfig struct {
	Dir                 string  `yaml:"dir"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type CorpusConfig struct {
	Dir string `yaml:"dir"`
}

type Config struct {
	Log    LogConfig    `yaml:"log"`
	API    APIConfig    `yaml:"api"`
	Redis  RedisConfig  `yaml:"redis"`
	AI     AIConfig     `yaml:"ai"`
	Jobs   JobsConfig   `yaml:"jobs"`
	Cache  CacheConfig  `yaml:"cache"`
	Corpus CorpusConfig `yaml:"corpus"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml file at path and fills defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Cache.Dir == "" {
		return nil, errors.New("cache.dir is required")
	}
	if cfg.Corpus.Dir == "" {
		return nil, errors.New("corpus.dir is required")
	}
	if cfg.Cache.SimilarityThreshold > 1 {
		return nil, errors.New("cache.similarity_threshold must be within [0,1]")
	}
	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIKey == "" {
			return nil, errors.New("ai.openai_key is required for provider openai")
		}
	case "gemini":
		if cfg.AI.GeminiKey == "" {
			return nil, errors.New("ai.gemini_key is required for provider gemini")
		}
	case "noop":
	default:
		return nil, fmt.Errorf("unknown ai.provider %q", cfg.AI.Provider)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.API.Port <= 0 {
		c.API.Port = 8080
	}
	if c.Redis.RateWindow <= 0 {
		c.Redis.RateWindow = time.Minute
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "noop"
	}
	if c.AI.DefaultModel == "" {
		c.AI.DefaultModel = "gpt-4o-mini"
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 16
	}
	if c.AI.PromptTokens <= 0 {
		c.AI.PromptTokens = 12000
	}
	if c.Jobs.BatchSize <= 0 {
		c.Jobs.BatchSize = 3
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = 5
	}
	if c.Jobs.BackoffBase <= 0 {
		c.Jobs.BackoffBase = time.Second
	}
	if c.Jobs.BackoffCap <= 0 {
		c.Jobs.BackoffCap = 120 * time.Second
	}
	if c.Jobs.Retention <= 0 {
		c.Jobs.Retention = 24 * time.Hour
	}
	if c.Jobs.ReapInterval <= 0 {
		c.Jobs.ReapInterval = time.Hour
	}
	if c.Jobs.MessageTail <= 0 {
		c.Jobs.MessageTail = 20
	}
	if c.Jobs.ShutdownWait <= 0 {
		c.Jobs.ShutdownWait = 30 * time.Second
	}
	if c.Cache.SimilarityThreshold <= 0 {
		c.Cache.SimilarityThreshold = 0.8
	}
}

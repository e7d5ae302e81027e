//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  dir: /tmp/c\ncorpus:\n  dir: /tmp/d\n"), true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Jobs.BatchSize != 3 || cfg.Jobs.MaxAttempts != 5 {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Jobs.BackoffCap != 120*time.Second || cfg.Jobs.Retention != 24*time.Hour || cfg.Jobs.ReapInterval != time.Hour {
		t.Fatalf("unexpected timing defaults: %+v", cfg.Jobs)
	}
	if cfg.Jobs.MessageTail != 20 {
		t.Fatalf("message tail = %d", cfg.Jobs.MessageTail)
	}
	if cfg.Cache.SimilarityThreshold != 0.8 {
		t.Fatalf("threshold = %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.AI.Provider != "noop" || cfg.Log.Level != "info" || !cfg.Runtime.Dev {
		t.Fatalf("unexpected: provider=%s level=%s dev=%v", cfg.AI.Provider, cfg.Log.Level, cfg.Runtime.Dev)
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name, yaml, want string
	}{
		{"missing cache dir", "corpus:\n  dir: d\n", "cache.dir"},
		{"missing corpus dir", "cache:\n  dir: c\n", "corpus.dir"},
		{"openai without key", "cache:\n  dir: c\ncorpus:\n  dir: d\nai:\n  provider: openai\n", "openai_key"},
		{"unknown provider", "cache:\n  dir: c\ncorpus:\n  dir: d\nai:\n  provider: bard\n", "unknown ai.provider"},
		{"threshold above one", "cache:\n  dir: c\n  similarity_threshold: 1.5\ncorpus:\n  dir: d\n", "similarity_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml), false)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "api:\n  port: 9090\njobs:\n  reap_interval: 10m\ncache:\n  dir: c\ncorpus:\n  dir: d\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9090 || cfg.Jobs.ReapInterval != 10*time.Minute {
		t.Fatalf("unexpected: port=%d reap=%v", cfg.API.Port, cfg.Jobs.ReapInterval)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

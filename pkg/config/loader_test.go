package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

func TestLoadRunConfig(t *testing.T) {
	cfg, err := LoadRunConfig("../../config/tuner.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Mode != ModeBayesian {
		t.Errorf("Expected mode bayesian, got %q", cfg.Mode)
	}
	if cfg.Games.FixedOpponents != 20 || cfg.Repeats != 20 {
		t.Errorf("Expected 20 fixed games with 20 repeats, got %d/%d", cfg.Games.FixedOpponents, cfg.Repeats)
	}
	if len(cfg.Parameters) != 21 {
		t.Fatalf("Expected 21 parameters, got %d", len(cfg.Parameters))
	}

	threshold := cfg.Parameters[8]
	if threshold.Name != "conversion_score_threshold" {
		t.Fatalf("Expected conversion_score_threshold, got %s", threshold.Name)
	}
	if !math.IsInf(threshold.Floor, -1) {
		t.Errorf("Expected floor -inf, got %v", threshold.Floor)
	}
	if cfg.Parameters[2].Type != models.ParamInt {
		t.Errorf("Expected int type for %s", cfg.Parameters[2].Name)
	}

	timeout, err := cfg.Runner.GetTimeout()
	if err != nil {
		t.Fatalf("Failed to parse timeout: %v", err)
	}
	if timeout != 30*time.Minute {
		t.Errorf("Expected 30m timeout, got %v", timeout)
	}
}

func TestLoadSelfPlayConfig(t *testing.T) {
	cfg, err := LoadRunConfig("../../config/self_play.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Mode != ModeSelfPlay {
		t.Errorf("Expected mode self_play, got %q", cfg.Mode)
	}
	// Omitted parameters fall back to the default table
	if len(cfg.Parameters) != len(DefaultParameters()) {
		t.Errorf("Expected default parameters, got %d", len(cfg.Parameters))
	}
	if cfg.ExperienceStorePath() != filepath.Join("Rule agents", "Rule based self play", ExperienceDBFile) {
		t.Errorf("unexpected sqlite path %s", cfg.ExperienceStorePath())
	}
}

func TestLoadRunConfigMissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadRunConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("mode: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRunConfig(path); err == nil {
		t.Fatal("Expected error for malformed yaml")
	}
}

func TestDefaultRunConfigIsValid(t *testing.T) {
	cfg := DefaultRunConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.PromotionThreshold != 0.6 {
		t.Errorf("Expected promotion threshold 0.6, got %v", cfg.PromotionThreshold)
	}
	if cfg.MaxExperienceBuffer != 10000 {
		t.Errorf("Expected buffer size 10000, got %d", cfg.MaxExperienceBuffer)
	}
}

func TestValidateRunConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr string
	}{
		{"bad log level", func(c *RunConfig) { c.LogLevel = "loud" }, "log_level"},
		{"bad log format", func(c *RunConfig) { c.LogFormat = "xml" }, "log_format"},
		{"empty pool", func(c *RunConfig) { c.PoolName = "" }, "pool_name"},
		{"bad mode", func(c *RunConfig) { c.Mode = "greedy" }, "mode"},
		{"zero agents", func(c *RunConfig) { c.NumAgentsPerGame = 0 }, "num_agents_per_game"},
		{"single agent", func(c *RunConfig) { c.NumAgentsPerGame = 1 }, "num_agents_per_game"},
		{"zero buffer", func(c *RunConfig) { c.MaxExperienceBuffer = 0 }, "max_experience_buffer"},
		{"zero repeats", func(c *RunConfig) { c.Repeats = 0 }, "repeats"},
		{"games not multiple of repeats", func(c *RunConfig) { c.Games.FixedOpponents = 30 }, "not a multiple"},
		{"bayesian without fixed games", func(c *RunConfig) { c.Games.FixedOpponents = 0 }, "games.fixed_opponents"},
		{"self play without games", func(c *RunConfig) {
			c.Mode = ModeSelfPlay
			c.Games = Games{FixedOpponents: 20}
		}, "self_play mode"},
		{"negative games", func(c *RunConfig) { c.Games.Evaluation = -1 }, "negative"},
		{"workers", func(c *RunConfig) { c.UseMultiprocessing = true; c.Workers = 0 }, "workers"},
		{"store kind", func(c *RunConfig) { c.ExperienceStore.Kind = "parquet" }, "experience_store.kind"},
		{"initial points", func(c *RunConfig) { c.Bayesian.InitialPoints = 0 }, "initial_points"},
		{"noise", func(c *RunConfig) { c.Bayesian.Noise = 0 }, "noise"},
		{"rate", func(c *RunConfig) { c.Evolution.Rate = 1.5 }, "rate"},
		{"elite quantile", func(c *RunConfig) { c.Evolution.EliteQuantile = 1 }, "elite_quantile"},
		{"min samples", func(c *RunConfig) { c.Evolution.MinSamples = 1 }, "min_samples"},
		{"timeout", func(c *RunConfig) { c.Runner.Timeout = "soon" }, "runner.timeout"},
		{"no parameters", func(c *RunConfig) { c.Parameters = nil }, "at least one parameter"},
		{"duplicate parameter", func(c *RunConfig) {
			c.Parameters = append(c.Parameters, c.Parameters[0])
		}, "duplicate parameter name"},
		{"inverted bounds", func(c *RunConfig) {
			c.Parameters[0].Lower, c.Parameters[0].Upper = 5, 1
		}, "exceeds upper"},
		{"fractional int bounds", func(c *RunConfig) { c.Parameters[2].Upper = 2.5 }, "integral"},
		{"unknown type", func(c *RunConfig) { c.Parameters[0].Type = "bool" }, "invalid type"},
		{"infinite bound", func(c *RunConfig) { c.Parameters[0].Upper = math.Inf(1) }, "finite"},
		{"nan floor", func(c *RunConfig) { c.Parameters[0].Floor = math.NaN() }, "floor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !strings.HasPrefix(err.Error(), "invalid config: ") {
				t.Errorf("expected invalid config prefix, got %v", err)
			}
		})
	}
}

func TestRunConfigPaths(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.AgentsDir = "/tmp/agents"
	cfg.PoolName = "pool_a"

	if got := cfg.ScoreTablePath(); got != "/tmp/agents/pool_a/config_settings_scores.csv" {
		t.Errorf("unexpected score table path %s", got)
	}
	if got := cfg.ProgressPath(); got != "/tmp/agents/pool_a/learning_progress.csv" {
		t.Errorf("unexpected progress path %s", got)
	}
	if got := cfg.ExperienceStorePath(); got != "/tmp/agents/pool_a/experience_features_rewards.csv" {
		t.Errorf("unexpected experience path %s", got)
	}
	cfg.ExperienceStore.Path = "/data/x.csv"
	if got := cfg.ExperienceStorePath(); got != "/data/x.csv" {
		t.Errorf("explicit path should win, got %s", got)
	}
}

func TestWorkerCount(t *testing.T) {
	cfg := DefaultRunConfig()
	if cfg.WorkerCount() != 1 {
		t.Errorf("expected 1 worker without multiprocessing, got %d", cfg.WorkerCount())
	}
	cfg.UseMultiprocessing = true
	cfg.Workers = 3
	if cfg.WorkerCount() != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.WorkerCount())
	}
}

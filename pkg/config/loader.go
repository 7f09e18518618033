package config

import (
	"fmt"
	"math"
	"os"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// LoadRunConfig loads and parses a run configuration file
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseRunConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateRunConfig performs validation on the run configuration
func validateRunConfig(cfg *RunConfig) error {
	if _, ok := logger.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log_format: %s (must be json or text)", cfg.LogFormat)
	}
	if cfg.PoolName == "" {
		return fmt.Errorf("pool_name: cannot be empty")
	}
	if cfg.AgentsDir == "" {
		return fmt.Errorf("agents_dir: cannot be empty")
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("max_iterations: cannot be negative, got %d", cfg.MaxIterations)
	}

	if cfg.NumAgentsPerGame < 2 {
		return fmt.Errorf("num_agents_per_game: must be at least 2, got %d", cfg.NumAgentsPerGame)
	}
	if cfg.MaxPoolSize < 1 {
		return fmt.Errorf("max_pool_size: must be positive, got %d", cfg.MaxPoolSize)
	}
	if cfg.MaxExperienceBuffer < 1 {
		return fmt.Errorf("max_experience_buffer: must be positive, got %d", cfg.MaxExperienceBuffer)
	}
	if cfg.Repeats < 1 {
		return fmt.Errorf("repeats: must be positive, got %d", cfg.Repeats)
	}
	if err := validateGames(cfg); err != nil {
		return err
	}

	if cfg.UseMultiprocessing && cfg.Workers < 1 {
		return fmt.Errorf("workers: must be positive when use_multiprocessing is set, got %d", cfg.Workers)
	}

	switch cfg.ExperienceStore.Kind {
	case "", "none", "csv", "sqlite":
	default:
		return fmt.Errorf("experience_store.kind: %s (must be none, csv, or sqlite)", cfg.ExperienceStore.Kind)
	}

	if err := validateBayesian(&cfg.Bayesian); err != nil {
		return fmt.Errorf("bayesian: %w", err)
	}
	if err := validateEvolution(&cfg.Evolution); err != nil {
		return fmt.Errorf("evolution: %w", err)
	}
	if _, err := cfg.Runner.GetTimeout(); err != nil {
		return fmt.Errorf("runner.timeout: invalid duration %s: %w", cfg.Runner.Timeout, err)
	}

	if err := ValidateParameters(cfg.Parameters); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	return nil
}

func validateGames(cfg *RunConfig) error {
	g := cfg.Games
	if g.SelfPlay < 0 || g.Evaluation < 0 || g.FixedOpponents < 0 {
		return fmt.Errorf("games: counts cannot be negative")
	}

	switch cfg.Mode {
	case ModeBayesian:
		if g.FixedOpponents == 0 {
			return fmt.Errorf("games.fixed_opponents: must be positive in bayesian mode")
		}
		if g.FixedOpponents%cfg.Repeats != 0 {
			return fmt.Errorf("games.fixed_opponents: %d is not a multiple of repeats %d", g.FixedOpponents, cfg.Repeats)
		}
	case ModeSelfPlay:
		if g.SelfPlay == 0 && g.Evaluation == 0 {
			return fmt.Errorf("games: self_play mode needs self_play or evaluation games")
		}
	default:
		return fmt.Errorf("mode: %s (must be bayesian or self_play)", cfg.Mode)
	}
	return nil
}

func validateBayesian(b *BayesianConfig) error {
	if b.InitialPoints < 1 {
		return fmt.Errorf("initial_points must be positive, got %d", b.InitialPoints)
	}
	if b.CandidatePool < 1 {
		return fmt.Errorf("candidate_pool must be positive, got %d", b.CandidatePool)
	}
	if b.Xi < 0 {
		return fmt.Errorf("xi cannot be negative, got %f", b.Xi)
	}
	if b.Noise <= 0 {
		return fmt.Errorf("noise must be positive, got %g", b.Noise)
	}
	return nil
}

func validateEvolution(e *EvolutionConfig) error {
	if e.Rate <= 0 || e.Rate > 1 {
		return fmt.Errorf("rate must be in (0, 1], got %f", e.Rate)
	}
	if e.EliteQuantile <= 0 || e.EliteQuantile >= 1 {
		return fmt.Errorf("elite_quantile must be in (0, 1), got %f", e.EliteQuantile)
	}
	if e.MinCorrelation < 0 || e.MinCorrelation > 1 {
		return fmt.Errorf("min_correlation must be in [0, 1], got %f", e.MinCorrelation)
	}
	if e.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", e.MinSamples)
	}
	if e.MinWidthFraction < 0 || e.MinWidthFraction > 1 {
		return fmt.Errorf("min_width_fraction must be in [0, 1], got %f", e.MinWidthFraction)
	}
	return nil
}

// ValidateParameters checks a hyperparameter table
func ValidateParameters(params []models.HyperparameterSpec) error {
	if len(params) == 0 {
		return fmt.Errorf("at least one parameter must be defined")
	}
	names := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		names[p.Name] = true

		if math.IsNaN(p.Lower) || math.IsNaN(p.Upper) || math.IsInf(p.Lower, 0) || math.IsInf(p.Upper, 0) {
			return fmt.Errorf("parameter %s: bounds must be finite", p.Name)
		}
		if p.Lower > p.Upper {
			return fmt.Errorf("parameter %s: lower %g exceeds upper %g", p.Name, p.Lower, p.Upper)
		}
		switch p.Type {
		case models.ParamFloat:
		case models.ParamInt:
			if p.Lower != math.Trunc(p.Lower) || p.Upper != math.Trunc(p.Upper) {
				return fmt.Errorf("parameter %s: int bounds must be integral", p.Name)
			}
		default:
			return fmt.Errorf("parameter %s: invalid type %q (must be int or float)", p.Name, p.Type)
		}
		if math.IsNaN(p.Floor) || math.IsInf(p.Floor, 1) {
			return fmt.Errorf("parameter %s: floor must be a number or -inf", p.Name)
		}
	}
	return nil
}

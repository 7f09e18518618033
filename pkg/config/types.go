package config

import (
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// Mode selects which tuning strategy the training loop runs
type Mode string

const (
	// ModeBayesian tunes by playing suggested configs against a fixed opponent pool
	ModeBayesian Mode = "bayesian"
	// ModeSelfPlay plays the current version against earlier ones and narrows ranges
	ModeSelfPlay Mode = "self_play"
)

// File names inside a pool directory
const (
	ScoreTableFile   = "config_settings_scores.csv"
	ProgressFile     = "learning_progress.csv"
	ExperienceFile   = "experience_features_rewards.csv"
	ExperienceDBFile = "experience.db"
)

// RunConfig is the tuner's run configuration
type RunConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PoolName  string `yaml:"pool_name"`
	AgentsDir string `yaml:"agents_dir"`
	Seed      int64  `yaml:"seed"`
	Mode      Mode   `yaml:"mode"`
	// MaxIterations stops the loop after that many iterations; 0 runs until cancelled.
	MaxIterations int `yaml:"max_iterations"`

	NumAgentsPerGame int   `yaml:"num_agents_per_game"`
	MaxPoolSize      int   `yaml:"max_pool_size"`
	Games            Games `yaml:"games"`

	MaxExperienceBuffer int     `yaml:"max_experience_buffer"`
	PromotionThreshold  float64 `yaml:"promotion_threshold"`
	// Repeats is how many consecutive games each suggested config plays.
	Repeats int `yaml:"repeats"`

	RecordVideosNewIteration bool `yaml:"record_videos_new_iteration"`
	RecordVideosEachLoop     bool `yaml:"record_videos_each_loop"`

	PersistExperience bool        `yaml:"persist_experience"`
	ExperienceStore   StoreConfig `yaml:"experience_store"`

	UseMultiprocessing bool `yaml:"use_multiprocessing"`
	Workers            int  `yaml:"workers"`

	Bayesian   BayesianConfig  `yaml:"bayesian"`
	Evolution  EvolutionConfig `yaml:"evolution"`
	Runner     RunnerConfig    `yaml:"runner"`
	StatusAddr string          `yaml:"status_addr"`

	Parameters []models.HyperparameterSpec `yaml:"parameters"`
}

// Games holds the number of games per segment and iteration
type Games struct {
	SelfPlay       int `yaml:"self_play"`
	Evaluation     int `yaml:"evaluation"`
	FixedOpponents int `yaml:"fixed_opponents"`
}

// StoreConfig selects the experience table sink
type StoreConfig struct {
	Kind string `yaml:"kind"` // none, csv or sqlite
	Path string `yaml:"path"`
}

// BayesianConfig tunes the surrogate optimizer
type BayesianConfig struct {
	WarmStart     bool    `yaml:"warm_start"`
	InitialPoints int     `yaml:"initial_points"`
	CandidatePool int     `yaml:"candidate_pool"`
	Xi            float64 `yaml:"xi"`
	Noise         float64 `yaml:"noise"`
}

// EvolutionConfig tunes self-play range narrowing
type EvolutionConfig struct {
	Rate             float64 `yaml:"rate"`
	EliteQuantile    float64 `yaml:"elite_quantile"`
	MinCorrelation   float64 `yaml:"min_correlation"`
	MinSamples       int     `yaml:"min_samples"`
	MinWidthFraction float64 `yaml:"min_width_fraction"`
}

// RunnerConfig points at the remote game runner
type RunnerConfig struct {
	// Address of the gRPC game runner; empty uses the in-process synthetic runner.
	Address string `yaml:"address"`
	Timeout string `yaml:"timeout"` // e.g., "10m"
}

// GetTimeout parses the timeout string; an empty value means no deadline
func (r RunnerConfig) GetTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(r.Timeout)
}

// PoolDir is the directory holding the pool's iteration files and logs
func (c *RunConfig) PoolDir() string {
	return filepath.Join(c.AgentsDir, c.PoolName)
}

// ScoreTablePath is the persisted ScoreRecord table
func (c *RunConfig) ScoreTablePath() string {
	return filepath.Join(c.PoolDir(), ScoreTableFile)
}

// ProgressPath is the learning progress log
func (c *RunConfig) ProgressPath() string {
	return filepath.Join(c.PoolDir(), ProgressFile)
}

// ExperienceStorePath resolves the experience sink location
func (c *RunConfig) ExperienceStorePath() string {
	if c.ExperienceStore.Path != "" {
		return c.ExperienceStore.Path
	}
	if c.ExperienceStore.Kind == "sqlite" {
		return filepath.Join(c.PoolDir(), ExperienceDBFile)
	}
	return filepath.Join(c.PoolDir(), ExperienceFile)
}

// WorkerCount is the number of parallel runners to use for one segment
func (c *RunConfig) WorkerCount() int {
	if !c.UseMultiprocessing || c.Workers < 1 {
		return 1
	}
	return c.Workers
}

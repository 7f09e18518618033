package config

import (
	"math"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

const defaultNumGames = 20

// DefaultRunConfig returns the configuration used when a field is omitted
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		LogLevel:         "info",
		LogFormat:        "json",
		PoolName:         "Rule based with evolution I",
		AgentsDir:        "Rule agents",
		Seed:             0,
		Mode:             ModeBayesian,
		NumAgentsPerGame: 4,
		MaxPoolSize:      30,
		Games: Games{
			FixedOpponents: defaultNumGames,
		},
		MaxExperienceBuffer:      10000,
		PromotionThreshold:       0.6,
		Repeats:                  defaultNumGames,
		RecordVideosNewIteration: true,
		RecordVideosEachLoop:     true,
		PersistExperience:        true,
		ExperienceStore:          StoreConfig{Kind: "csv"},
		Workers:                  4,
		Bayesian: BayesianConfig{
			WarmStart:     true,
			InitialPoints: 10,
			CandidatePool: 2000,
			Xi:            0.01,
			Noise:         1e-6,
		},
		Evolution: EvolutionConfig{
			Rate:             0.5,
			EliteQuantile:    0.75,
			MinCorrelation:   0.1,
			MinSamples:       10,
			MinWidthFraction: 0.05,
		},
		Runner:     RunnerConfig{Timeout: "30m"},
		StatusAddr: "",
		Parameters: DefaultParameters(),
	}
}

// DefaultParameters is the rule-based agent's initial search space
func DefaultParameters() []models.HyperparameterSpec {
	f := func(name string, lower, upper, floor float64) models.HyperparameterSpec {
		return models.HyperparameterSpec{Name: name, Lower: lower, Upper: upper, Type: models.ParamFloat, Floor: floor}
	}
	i := func(name string, lower, upper, floor float64) models.HyperparameterSpec {
		return models.HyperparameterSpec{Name: name, Lower: lower, Upper: upper, Type: models.ParamInt, Floor: floor}
	}
	negInf := math.Inf(-1)
	return []models.HyperparameterSpec{
		f("halite_config_setting_divisor", 1000, 20000, 0),
		f("max_ship_to_base_ratio", 4, 12, 0),

		i("min_spawns_after_conversions", 0, 3, 0),
		i("max_conversions_per_step", 1, 4, 1),
		f("ship_halite_cargo_conversion_bonus_constant", 0, 20, 0),
		f("friendly_ship_halite_conversion_constant", 0, 2, 0),
		f("friendly_bases_conversion_constant", 5, 200, 0),
		f("nearby_halite_conversion_constant", 0, 2, 0),
		f("conversion_score_threshold", 0, 30, negInf),

		f("halite_collect_constant", 0, 50, 0),
		f("nearby_halite_move_constant", 0, 30, 0),
		f("nearby_onto_halite_move_constant", 0, 20, 0),
		f("nearby_ships_move_constant", 0, 1, 0),
		f("nearby_base_move_constant", 0, 20, 0),
		f("nearby_move_onto_base_constant", 0, 50, 0),
		f("adjacent_opponent_ships_move_constant", 0, 20, 0),

		i("max_spawns_per_step", 1, 10, 1),
		f("nearby_ship_halite_spawn_constant", 0, 2, 0),
		f("nearby_halite_spawn_constant", 0, 20, 0),
		f("remaining_budget_spawn_constant", 0.002, 0.1, 0),
		f("spawn_score_threshold", 0, 40, negInf),
	}
}

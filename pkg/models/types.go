package models

import (
	"fmt"
	"math"
	"time"
)

// ParamType is the numeric type of a hyperparameter
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// HyperparameterSpec describes one tunable parameter of the rule-based agent
type HyperparameterSpec struct {
	Name  string    `yaml:"name" json:"name"`
	Lower float64   `yaml:"lower" json:"lower"`
	Upper float64   `yaml:"upper" json:"upper"`
	Type  ParamType `yaml:"type" json:"type"`
	// Floor is the value used when the parameter is disabled elsewhere.
	Floor float64 `yaml:"floor" json:"floor"`
}

// Width returns the size of the sampling interval
func (s HyperparameterSpec) Width() float64 {
	return s.Upper - s.Lower
}

// Contains reports whether v lies inside the bounds (and is integral for int parameters)
func (s HyperparameterSpec) Contains(v float64) bool {
	if math.IsNaN(v) || v < s.Lower || v > s.Upper {
		return false
	}
	if s.Type == ParamInt && v != math.Trunc(v) {
		return false
	}
	return true
}

// Clamp maps v onto the nearest admissible value
func (s HyperparameterSpec) Clamp(v float64) float64 {
	if s.Type == ParamInt {
		v = math.Round(v)
	}
	if v < s.Lower {
		v = s.Lower
	}
	if v > s.Upper {
		v = s.Upper
	}
	return v
}

// ConfigVector holds one value per HyperparameterSpec, in the space's key order.
type ConfigVector []float64

// Clone returns an independent copy
func (c ConfigVector) Clone() ConfigVector {
	if c == nil {
		return nil
	}
	out := make(ConfigVector, len(c))
	copy(out, c)
	return out
}

// Equal reports element-wise equality
func (c ConfigVector) Equal(other ConfigVector) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// AgentResult is one participant's outcome within an episode
type AgentResult struct {
	Label      string       `json:"label"`
	ConfigPath string       `json:"config_path,omitempty"`
	Config     ConfigVector `json:"config,omitempty"`
	Reward     float64      `json:"reward"`
}

// Episode is one played game. Agents[0] is the agent under test.
type Episode struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Agents    []AgentResult `json:"agents"`
}

// Primary returns the agent under test
func (e Episode) Primary() (AgentResult, bool) {
	if len(e.Agents) == 0 {
		return AgentResult{}, false
	}
	return e.Agents[0], true
}

// SuggestionBatch is the ordered list of configurations requested for one iteration
type SuggestionBatch []ConfigVector

// Expand replicates every vector r times consecutively
func (b SuggestionBatch) Expand(r int) SuggestionBatch {
	if r < 1 {
		r = 1
	}
	out := make(SuggestionBatch, 0, len(b)*r)
	for _, cfg := range b {
		for i := 0; i < r; i++ {
			out = append(out, cfg.Clone())
		}
	}
	return out
}

// Distinct collapses runs of r consecutive vectors back into one entry each
func (b SuggestionBatch) Distinct(r int) (SuggestionBatch, error) {
	if r < 1 {
		return nil, fmt.Errorf("repeat count must be positive, got %d", r)
	}
	if len(b)%r != 0 {
		return nil, fmt.Errorf("batch of %d is not a multiple of %d", len(b), r)
	}
	out := make(SuggestionBatch, 0, len(b)/r)
	for i := 0; i < len(b); i += r {
		for j := i + 1; j < i+r; j++ {
			if !b[j].Equal(b[i]) {
				return nil, fmt.Errorf("entry %d differs from entry %d within its repeat group", j, i)
			}
		}
		out = append(out, b[i].Clone())
	}
	return out, nil
}

// ScoreRecord is the mean reward of one distinct configuration
type ScoreRecord struct {
	Config     ConfigVector `json:"config"`
	MeanReward float64      `json:"mean_reward"`
}

// IterationConfig is a persisted snapshot of the search ranges for one pool version
type IterationConfig struct {
	Pool       string               `yaml:"pool" json:"pool"`
	Version    int                  `yaml:"version" json:"version"`
	CreatedAt  time.Time            `yaml:"created_at" json:"created_at"`
	Parameters []HyperparameterSpec `yaml:"parameters" json:"parameters"`
}

// OpponentReward summarises the games played against one opponent
type OpponentReward struct {
	GamesPlayed int     `json:"games_played"`
	TotalReward float64 `json:"total_reward"`
	Label       string  `json:"label"`
}

// Average returns the mean reward against this opponent
func (o OpponentReward) Average() float64 {
	return o.TotalReward / (1e-10 + float64(o.GamesPlayed))
}

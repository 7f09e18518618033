package training

import (
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/evolve"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/experience"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/suggest"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// SegmentOutcome is one played segment of an iteration
type SegmentOutcome struct {
	Segment experience.Segment
	Result  runner.PlayResult
	Elapsed time.Duration
}

// IterationState carries everything one iteration produced, step to step
type IterationState struct {
	Iteration int
	Mode      config.Mode
	// ConfigPath is the current iteration file when the iteration started.
	ConfigPath string
	// ActivePath is the current iteration file after promotion.
	ActivePath string
	Space      *space.Space

	Suggested models.SuggestionBatch
	Overrides models.SuggestionBatch
	// Opponents are the recent versions sampled for self-play.
	Opponents []string
	// EvaluationOpponents holds the previous version, when there is one.
	EvaluationOpponents []string

	SelfPlay   *SegmentOutcome
	Evaluation *SegmentOutcome
	Fixed      *SegmentOutcome

	Records []models.ScoreRecord
	Rows    []experience.Row

	Promoted  bool
	Evolution []evolve.ParamReport
	Best      *suggest.Observation
}

// Average returns a segment's average reward; false when the segment was not played
func (s *IterationState) Average(seg experience.Segment) (float64, bool) {
	out := s.outcome(seg)
	if out == nil {
		return 0, false
	}
	return out.Result.AverageReward, true
}

func (s *IterationState) outcome(seg experience.Segment) *SegmentOutcome {
	switch seg {
	case experience.SegmentSelfPlay:
		return s.SelfPlay
	case experience.SegmentEvaluation:
		return s.Evaluation
	case experience.SegmentFixed:
		return s.Fixed
	}
	return nil
}

func (s *IterationState) setOutcome(out *SegmentOutcome) {
	switch out.Segment {
	case experience.SegmentSelfPlay:
		s.SelfPlay = out
	case experience.SegmentEvaluation:
		s.Evaluation = out
	case experience.SegmentFixed:
		s.Fixed = out
	}
}

// Status is a point-in-time summary of the loop, safe to serve over HTTP
type Status struct {
	Pool            string             `json:"pool"`
	Mode            config.Mode        `json:"mode"`
	Running         bool               `json:"running"`
	Iteration       int                `json:"iteration"`
	ConfigPath      string             `json:"config_path"`
	LastIterationAt time.Time          `json:"last_iteration_at"`
	Rewards         map[string]float64 `json:"rewards,omitempty"`
	BufferSize      int                `json:"buffer_size"`
	Observations    int                `json:"observations"`
	BestReward      *float64           `json:"best_reward,omitempty"`
	BestConfig      map[string]float64 `json:"best_config,omitempty"`
	Promotions      int                `json:"promotions"`
	LastError       string             `json:"last_error,omitempty"`
}

func (s Status) clone() Status {
	out := s
	if s.Rewards != nil {
		out.Rewards = make(map[string]float64, len(s.Rewards))
		for k, v := range s.Rewards {
			out.Rewards[k] = v
		}
	}
	if s.BestConfig != nil {
		out.BestConfig = make(map[string]float64, len(s.BestConfig))
		for k, v := range s.BestConfig {
			out.BestConfig[k] = v
		}
	}
	if s.BestReward != nil {
		v := *s.BestReward
		out.BestReward = &v
	}
	return out
}

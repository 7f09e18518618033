// Package runner defines the game runner contract and its transports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// ErrMalformedResult is returned when a runner's answer does not match its request
var ErrMalformedResult = errors.New("malformed game runner result")

// PlayRequest asks a runner to play one segment of games
type PlayRequest struct {
	PoolName    string
	NumGames    int
	MaxPoolSize int
	NumAgents   int
	// ExcludeCurrentFromOpponents keeps ConfigPath out of the opponent seats.
	ExcludeCurrentFromOpponents bool
	// FixedOpponentPool plays against the runner's fixed opponents instead of OpponentPaths.
	FixedOpponentPool bool
	// Space holds the ranges agent configs are sampled from when not overridden.
	Space   []models.HyperparameterSpec
	Repeats int
	// FirstBatchOverrides pins agent 0's config per game; empty means sample from ConfigPath.
	FirstBatchOverrides models.SuggestionBatch
	ConfigPath          string
	OpponentPaths       []string
	Seed                int64
}

// PlayResult is what a runner returns for a segment
type PlayResult struct {
	Episodes         []models.Episode
	ActiveConfigPath string
	AverageReward    float64
	OpponentRewards  []models.OpponentReward
}

// GameRunner plays games. Play blocks until the whole segment is done.
type GameRunner interface {
	Play(ctx context.Context, req PlayRequest) (PlayResult, error)
}

// Func adapts a function to GameRunner
type Func func(ctx context.Context, req PlayRequest) (PlayResult, error)

// Play calls f
func (f Func) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	return f(ctx, req)
}

// ValidateRequest checks a request before it is sent
func ValidateRequest(req PlayRequest) error {
	if req.NumGames < 1 {
		return fmt.Errorf("num_games must be positive, got %d", req.NumGames)
	}
	if req.NumAgents < 2 {
		return fmt.Errorf("num_agents must be at least 2, got %d", req.NumAgents)
	}
	if req.ConfigPath == "" {
		return errors.New("config_path is required")
	}
	if len(req.FirstBatchOverrides) > 0 && len(req.FirstBatchOverrides) != req.NumGames {
		return fmt.Errorf("%d overrides for %d games", len(req.FirstBatchOverrides), req.NumGames)
	}
	return nil
}

// ValidateResult checks that res answers req
func ValidateResult(req PlayRequest, res PlayResult) error {
	if len(res.Episodes) != req.NumGames {
		return fmt.Errorf("%w: %d episodes for %d games", ErrMalformedResult, len(res.Episodes), req.NumGames)
	}
	if res.ActiveConfigPath != req.ConfigPath {
		return fmt.Errorf("%w: played %q, requested %q", ErrMalformedResult, res.ActiveConfigPath, req.ConfigPath)
	}
	for i, ep := range res.Episodes {
		if len(ep.Agents) == 0 {
			return fmt.Errorf("%w: episode %d has no agents", ErrMalformedResult, i)
		}
		if len(req.FirstBatchOverrides) > 0 && !ep.Agents[0].Config.Equal(req.FirstBatchOverrides[i]) {
			return fmt.Errorf("%w: episode %d ignored its config override", ErrMalformedResult, i)
		}
	}
	return nil
}

// Checked wraps a runner so every result is validated against its request
func Checked(r GameRunner) GameRunner {
	return Func(func(ctx context.Context, req PlayRequest) (PlayResult, error) {
		if err := ValidateRequest(req); err != nil {
			return PlayResult{}, err
		}
		res, err := r.Play(ctx, req)
		if err != nil {
			return PlayResult{}, err
		}
		if err := ValidateResult(req, res); err != nil {
			return PlayResult{}, err
		}
		return res, nil
	})
}

// WithTimeout bounds every Play call by d. A non-positive d leaves r unchanged.
func WithTimeout(r GameRunner, d time.Duration) GameRunner {
	if d <= 0 {
		return r
	}
	return Func(func(ctx context.Context, req PlayRequest) (PlayResult, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return r.Play(ctx, req)
	})
}

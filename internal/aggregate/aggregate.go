// Package aggregate turns per-game rewards into one score per suggested config.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// ErrConfigIntegrity reports that rewards cannot be paired with their configs
var ErrConfigIntegrity = errors.New("config integrity violation")

// Aggregate averages every run of r consecutive rewards. batch must hold each distinct
// vector exactly r consecutive times and rewards must be parallel to batch.
func Aggregate(batch models.SuggestionBatch, rewards []float64, r int) ([]models.ScoreRecord, error) {
	if r < 1 {
		return nil, fmt.Errorf("%w: repeat count must be positive, got %d", ErrConfigIntegrity, r)
	}
	if len(rewards) != len(batch) {
		return nil, fmt.Errorf("%w: %d rewards for %d suggestions", ErrConfigIntegrity, len(rewards), len(batch))
	}
	if len(batch)%r != 0 {
		return nil, fmt.Errorf("%w: batch of %d is not a multiple of %d", ErrConfigIntegrity, len(batch), r)
	}

	records := make([]models.ScoreRecord, 0, len(batch)/r)
	for start := 0; start < len(batch); start += r {
		for j := start + 1; j < start+r; j++ {
			if !batch[j].Equal(batch[start]) {
				return nil, fmt.Errorf("%w: entry %d differs from entry %d in its repeat group", ErrConfigIntegrity, j, start)
			}
		}
		records = append(records, models.ScoreRecord{
			Config:     batch[start].Clone(),
			MeanReward: utils.Mean(rewards[start : start+r]),
		})
	}
	return records, nil
}

// FromEpisodes aggregates the agent-under-test rewards of episodes played in batch order.
// Each episode's agent-0 config must equal the suggestion at the same position.
func FromEpisodes(batch models.SuggestionBatch, episodes []models.Episode, r int) ([]models.ScoreRecord, error) {
	if len(episodes) != len(batch) {
		return nil, fmt.Errorf("%w: %d episodes for %d suggestions", ErrConfigIntegrity, len(episodes), len(batch))
	}
	rewards := make([]float64, len(episodes))
	for i, ep := range episodes {
		primary, ok := ep.Primary()
		if !ok {
			return nil, fmt.Errorf("%w: episode %d has no agents", ErrConfigIntegrity, i)
		}
		if !primary.Config.Equal(batch[i]) {
			return nil, fmt.Errorf("%w: episode %d played %v, suggested %v", ErrConfigIntegrity, i, primary.Config, batch[i])
		}
		rewards[i] = primary.Reward
	}
	return Aggregate(batch, rewards, r)
}

// Negate returns the objective values for a minimizing optimizer
func Negate(records []models.ScoreRecord) (models.SuggestionBatch, []float64) {
	configs := make(models.SuggestionBatch, len(records))
	scores := make([]float64, len(records))
	for i, rec := range records {
		configs[i] = rec.Config.Clone()
		scores[i] = -rec.MeanReward
	}
	return configs, scores
}

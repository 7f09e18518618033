package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Parallel splits a segment across several runners and merges their results in game order
type Parallel struct {
	runners []GameRunner
}

// NewParallel creates a fan-out runner. With one runner it plays the segment unchanged.
func NewParallel(runners ...GameRunner) *Parallel {
	return &Parallel{runners: runners}
}

// Workers returns the number of underlying runners
func (p *Parallel) Workers() int {
	return len(p.runners)
}

// Play runs contiguous chunks of the segment concurrently
func (p *Parallel) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if len(p.runners) == 0 {
		return PlayResult{}, fmt.Errorf("parallel runner has no workers")
	}
	if err := ValidateRequest(req); err != nil {
		return PlayResult{}, err
	}
	chunks := splitRequest(req, len(p.runners))
	if len(chunks) == 1 {
		return p.runners[0].Play(ctx, chunks[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		firstErr error
	)
	results := make([]PlayResult, len(chunks))
	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, r GameRunner, c PlayRequest) {
			defer wg.Done()
			res, err := r.Play(ctx, c)
			if err == nil {
				err = ValidateResult(c, res)
			}
			if err != nil {
				// siblings stopped by cancel() report context errors; keep the cause
				failOnce.Do(func() {
					firstErr = fmt.Errorf("worker %d: %w", idx, err)
					cancel()
				})
				return
			}
			results[idx] = res
		}(i, p.runners[i], chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return PlayResult{}, firstErr
	}
	return mergeResults(results), nil
}

// splitRequest cuts req into at most n contiguous chunks of near-equal size
func splitRequest(req PlayRequest, n int) []PlayRequest {
	if n > req.NumGames {
		n = req.NumGames
	}
	if n <= 1 {
		return []PlayRequest{req}
	}
	chunks := make([]PlayRequest, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := req.NumGames / n
		if i < req.NumGames%n {
			size++
		}
		c := req
		c.NumGames = size
		c.Seed = utils.DeriveSeed(req.Seed, "chunk", i)
		if len(req.FirstBatchOverrides) > 0 {
			c.FirstBatchOverrides = req.FirstBatchOverrides[start : start+size]
		}
		chunks = append(chunks, c)
		start += size
	}
	return chunks
}

func mergeResults(results []PlayResult) PlayResult {
	var merged PlayResult
	totalGames := 0
	weighted := 0.0
	index := make(map[string]int)
	for _, r := range results {
		merged.ActiveConfigPath = r.ActiveConfigPath
		merged.Episodes = append(merged.Episodes, r.Episodes...)
		totalGames += len(r.Episodes)
		weighted += r.AverageReward * float64(len(r.Episodes))
		for _, o := range r.OpponentRewards {
			i, ok := index[o.Label]
			if !ok {
				index[o.Label] = len(merged.OpponentRewards)
				merged.OpponentRewards = append(merged.OpponentRewards, models.OpponentReward{Label: o.Label})
				i = len(merged.OpponentRewards) - 1
			}
			merged.OpponentRewards[i].GamesPlayed += o.GamesPlayed
			merged.OpponentRewards[i].TotalReward += o.TotalReward
		}
	}
	if totalGames > 0 {
		merged.AverageReward = weighted / float64(totalGames)
	}
	return merged
}

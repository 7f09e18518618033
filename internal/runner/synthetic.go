package runner

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Synthetic is a stand-in game engine. Each parameter has a hidden optimum; an
// agent's strength is how close its config lies to it, plus per-game noise.
// Agent 0's reward is the fraction of opponents it outscored.
type Synthetic struct {
	seed      int64
	fixedPool int
	noise     float64
	now       func() time.Time
}

// NewSynthetic creates a synthetic engine whose optimum is derived from seed
func NewSynthetic(seed int64) *Synthetic {
	return &Synthetic{
		seed:      seed,
		fixedPool: 5,
		noise:     0.05,
		now:       time.Now,
	}
}

// WithNoise sets the standard deviation of per-game performance noise
func (s *Synthetic) WithNoise(noise float64) *Synthetic {
	s.noise = noise
	return s
}

// WithFixedPool sets the number of fixed opponents
func (s *Synthetic) WithFixedPool(n int) *Synthetic {
	s.fixedPool = utils.Max(n, 1)
	return s
}

// WithClock overrides the episode timestamp source
func (s *Synthetic) WithClock(now func() time.Time) *Synthetic {
	s.now = now
	return s
}

// Optimum returns the hidden best config for the given limits
func (s *Synthetic) Optimum(limits []models.HyperparameterSpec) models.ConfigVector {
	out := make(models.ConfigVector, len(limits))
	for i, p := range limits {
		out[i] = p.Clamp(p.Lower + s.target(p.Name)*p.Width())
	}
	return out
}

func (s *Synthetic) target(name string) float64 {
	return utils.NewRandSource(utils.DeriveSeed(s.seed, "target", name)).Float64()
}

// Strength is the noiseless score of cfg, 0 at the optimum and negative elsewhere
func (s *Synthetic) Strength(limits []models.HyperparameterSpec, cfg models.ConfigVector) float64 {
	if len(limits) == 0 {
		return 0
	}
	sum := 0.0
	for i, p := range limits {
		u := 0.5
		if w := p.Width(); w > 0 {
			u = (cfg[i] - p.Lower) / w
		}
		d := u - s.target(p.Name)
		sum += d * d
	}
	return -sum / float64(len(limits))
}

type seat struct {
	label string
	path  string
	cfg   models.ConfigVector
}

// Play plays req.NumGames games
func (s *Synthetic) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if err := ValidateRequest(req); err != nil {
		return PlayResult{}, err
	}
	limits, err := space.New(req.Space)
	if err != nil {
		return PlayResult{}, fmt.Errorf("request space: %w", err)
	}

	spaces := make(map[string]*space.Space)
	rangesOf := func(path string) (*space.Space, error) {
		if sp, ok := spaces[path]; ok {
			return sp, nil
		}
		sp, err := versioner.New(filepath.Dir(path), req.PoolName).LoadSpace(path, limits)
		if err != nil {
			return nil, err
		}
		spaces[path] = sp
		return sp, nil
	}

	current, err := rangesOf(req.ConfigPath)
	if err != nil {
		return PlayResult{}, err
	}

	opponents := make([]string, 0, len(req.OpponentPaths))
	for _, p := range req.OpponentPaths {
		if req.ExcludeCurrentFromOpponents && p == req.ConfigPath {
			continue
		}
		opponents = append(opponents, p)
	}
	if len(opponents) == 0 {
		opponents = []string{req.ConfigPath}
	}

	res := PlayResult{ActiveConfigPath: req.ConfigPath}
	index := make(map[string]int)
	total := 0.0
	for g := 0; g < req.NumGames; g++ {
		if err := ctx.Err(); err != nil {
			return PlayResult{}, err
		}
		rng := utils.NewRandSource(utils.DeriveSeed(req.Seed, "game", g))

		seats := make([]seat, 0, req.NumAgents)
		first := seat{label: "current", path: req.ConfigPath}
		if len(req.FirstBatchOverrides) > 0 {
			if err := limits.Check(req.FirstBatchOverrides[g]); err != nil {
				return PlayResult{}, fmt.Errorf("override %d: %w", g, err)
			}
			first.cfg = req.FirstBatchOverrides[g].Clone()
		} else {
			first.cfg = current.Sample(rng)
		}
		seats = append(seats, first)

		if req.FixedOpponentPool {
			order := rng.Perm(s.fixedPool)
			for k := 1; k < req.NumAgents; k++ {
				id := order[(k-1)%len(order)]
				fixedRng := utils.NewRandSource(utils.DeriveSeed(s.seed, "fixed", id))
				seats = append(seats, seat{label: fmt.Sprintf("fixed_%d", id), cfg: limits.Sample(fixedRng)})
			}
		} else {
			for k := 1; k < req.NumAgents; k++ {
				path := opponents[rng.Intn(len(opponents))]
				sp, err := rangesOf(path)
				if err != nil {
					return PlayResult{}, err
				}
				seats = append(seats, seat{label: filepath.Base(path), path: path, cfg: sp.Sample(rng)})
			}
		}

		scores := make([]float64, len(seats))
		for k, st := range seats {
			scores[k] = s.Strength(req.Space, st.cfg) + rng.NormFloat64(0, s.noise)
		}

		ep := models.Episode{
			ID:        utils.EpisodeIDFromSource(rng),
			Timestamp: s.now().UTC(),
			Agents:    make([]models.AgentResult, len(seats)),
		}
		for k, st := range seats {
			beaten := 0
			for j := range seats {
				if j != k && scores[k] > scores[j] {
					beaten++
				}
			}
			ep.Agents[k] = models.AgentResult{
				Label:      st.label,
				ConfigPath: st.path,
				Config:     st.cfg,
				Reward:     float64(beaten) / float64(len(seats)-1),
			}
		}
		for k := 1; k < len(seats); k++ {
			i, ok := index[seats[k].label]
			if !ok {
				i = len(res.OpponentRewards)
				index[seats[k].label] = i
				res.OpponentRewards = append(res.OpponentRewards, models.OpponentReward{Label: seats[k].label})
			}
			res.OpponentRewards[i].GamesPlayed++
			if scores[0] > scores[k] {
				res.OpponentRewards[i].TotalReward++
			}
		}
		total += ep.Agents[0].Reward
		res.Episodes = append(res.Episodes, ep)
	}
	res.AverageReward = total / float64(req.NumGames)
	if math.IsNaN(res.AverageReward) {
		res.AverageReward = 0
	}
	return res, nil
}

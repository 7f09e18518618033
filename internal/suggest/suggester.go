// Package suggest proposes hyperparameter configurations with an ask/tell
// Gaussian-process optimizer. It minimises: callers pass negated rewards.
package suggest

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Options tunes the optimizer
type Options struct {
	Seed int64
	// InitialPoints suggestions are drawn uniformly before the surrogate is used.
	InitialPoints int
	// CandidatePool is the number of random points scored by expected improvement per pick.
	CandidatePool int
	Xi            float64
	Noise         float64
}

// DefaultOptions returns the standard optimizer settings
func DefaultOptions() Options {
	return Options{
		InitialPoints: 10,
		CandidatePool: 2000,
		Xi:            0.01,
		Noise:         1e-6,
	}
}

// Observation is one evaluated configuration and its objective value
type Observation struct {
	Config models.ConfigVector
	Score  float64
}

// Optimizer is a sequential model-based optimizer over a space's current bounds.
// Suggestions depend only on the seed and the observation history.
type Optimizer struct {
	mu    sync.Mutex
	space *space.Space
	opts  Options
	obs   []Observation
}

// New creates an optimizer over sp
func New(sp *space.Space, opts Options) (*Optimizer, error) {
	if sp == nil || sp.Len() == 0 {
		return nil, fmt.Errorf("optimizer needs a non-empty space")
	}
	def := DefaultOptions()
	if opts.InitialPoints < 1 {
		opts.InitialPoints = def.InitialPoints
	}
	if opts.CandidatePool < 1 {
		opts.CandidatePool = def.CandidatePool
	}
	if opts.Noise <= 0 {
		opts.Noise = def.Noise
	}
	if opts.Xi < 0 {
		opts.Xi = 0
	}
	return &Optimizer{space: sp, opts: opts}, nil
}

// Space returns the space being searched
func (o *Optimizer) Space() *space.Space {
	return o.space
}

// Len returns the number of observations
func (o *Optimizer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.obs)
}

// History returns a copy of all observations in the order they were told
func (o *Optimizer) History() []Observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observation, len(o.obs))
	for i, ob := range o.obs {
		out[i] = Observation{Config: ob.Config.Clone(), Score: ob.Score}
	}
	return out
}

// Observe records objective values for configs. Nothing is recorded on error.
func (o *Optimizer) Observe(configs models.SuggestionBatch, scores []float64) error {
	if len(configs) != len(scores) {
		return fmt.Errorf("observe: %d configs for %d scores", len(configs), len(scores))
	}
	for i, c := range configs {
		if err := o.space.Check(c); err != nil {
			return fmt.Errorf("observe: config %d: %w", i, err)
		}
		if math.IsNaN(scores[i]) || math.IsInf(scores[i], 0) {
			return fmt.Errorf("observe: score %d is not finite", i)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range configs {
		o.obs = append(o.obs, Observation{Config: c.Clone(), Score: scores[i]})
	}
	return nil
}

// Best returns the observation with the lowest score
func (o *Optimizer) Best() (Observation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.obs) == 0 {
		return Observation{}, false
	}
	best := 0
	for i, ob := range o.obs {
		if ob.Score < o.obs[best].Score {
			best = i
		}
	}
	return Observation{Config: o.obs[best].Config.Clone(), Score: o.obs[best].Score}, true
}

// Suggest proposes n configurations. Picks after the first are made with the
// constant-liar strategy: pending picks are treated as observed at the best score.
func (o *Optimizer) Suggest(n int) (models.SuggestionBatch, error) {
	if n < 1 {
		return nil, fmt.Errorf("suggest: n must be positive, got %d", n)
	}

	o.mu.Lock()
	history := make([]Observation, len(o.obs))
	copy(history, o.obs)
	o.mu.Unlock()

	rng := utils.NewRandSource(o.opts.Seed).Derive("suggest", len(history))

	x := make([][]float64, 0, len(history)+n)
	y := make([]float64, 0, len(history)+n)
	for _, ob := range history {
		x = append(x, o.space.ToUnit(ob.Config))
		y = append(y, ob.Score)
	}
	lie := 0.0
	if len(y) > 0 {
		lie = floats.Min(y)
	}

	batch := make(models.SuggestionBatch, 0, n)
	for k := 0; k < n; k++ {
		var next models.ConfigVector
		if len(history)+k < o.opts.InitialPoints || len(x) == 0 {
			next = o.space.Sample(rng)
		} else {
			var err error
			next, err = o.maximiseEI(x, y, rng)
			if err != nil {
				// Surrogate could not be fitted; fall back to exploration
				next = o.space.Sample(rng)
			}
		}
		batch = append(batch, next)
		x = append(x, o.space.ToUnit(next))
		y = append(y, lie)
	}
	return batch, nil
}

func (o *Optimizer) maximiseEI(x [][]float64, y []float64, rng *utils.RandSource) (models.ConfigVector, error) {
	gp, err := fitGP(x, y, o.opts.Noise)
	if err != nil {
		return nil, err
	}
	bestIdx := floats.MinIdx(y)
	best := gp.standardise(y[bestIdx])
	incumbent := x[bestIdx]

	dims := o.space.Len()
	local := o.opts.CandidatePool / 10
	candidates := make([]models.ConfigVector, 0, o.opts.CandidatePool+local)
	for i := 0; i < o.opts.CandidatePool; i++ {
		candidates = append(candidates, o.space.Sample(rng))
	}
	for i := 0; i < local; i++ {
		u := make([]float64, dims)
		for d := range u {
			u[d] = incumbent[d] + rng.NormFloat64(0, 0.05)
		}
		candidates = append(candidates, o.space.FromUnit(u))
	}

	ei := make([]float64, len(candidates))
	for i, c := range candidates {
		mu, sigma := gp.predict(o.space.ToUnit(c))
		ei[i] = expectedImprovement(mu, sigma, best, o.opts.Xi)
	}
	return candidates[floats.MaxIdx(ei)], nil
}

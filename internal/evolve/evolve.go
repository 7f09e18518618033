// Package evolve narrows search ranges toward the values seen in the best games.
package evolve

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// Options controls how aggressively ranges move
type Options struct {
	Rate             float64
	EliteQuantile    float64
	MinCorrelation   float64
	MinSamples       int
	MinWidthFraction float64
}

// DefaultOptions returns the standard settings
func DefaultOptions() Options {
	return Options{
		Rate:             0.5,
		EliteQuantile:    0.75,
		MinCorrelation:   0.1,
		MinSamples:       10,
		MinWidthFraction: 0.05,
	}
}

// Sample is one game's parameter values and the reward they earned
type Sample struct {
	Features models.ConfigVector
	Reward   float64
}

// ParamReport describes what happened to one parameter
type ParamReport struct {
	Name        string
	Samples     int
	Correlation float64
	OldLower    float64
	OldUpper    float64
	NewLower    float64
	NewUpper    float64
	Skipped     string
}

// Changed reports whether the bounds moved
func (r ParamReport) Changed() bool {
	return r.OldLower != r.NewLower || r.OldUpper != r.NewUpper
}

// Evolver narrows ranges. New bounds always lie inside the old ones.
type Evolver struct {
	opts Options
}

// New creates an evolver
func New(opts Options) *Evolver {
	return &Evolver{opts: opts}
}

// Evolve returns the narrowed parameter table for sp and a report per parameter
func (e *Evolver) Evolve(sp *space.Space, samples []Sample) ([]models.HyperparameterSpec, []ParamReport, error) {
	for i, s := range samples {
		if len(s.Features) != sp.Len() {
			return nil, nil, fmt.Errorf("sample %d has %d features, space has %d", i, len(s.Features), sp.Len())
		}
	}

	specs := sp.Specs()
	reports := make([]ParamReport, len(specs))
	rewards := make([]float64, len(samples))
	for j, s := range samples {
		rewards[j] = s.Reward
	}

	for i := range specs {
		cur := specs[i]
		rep := ParamReport{
			Name:     cur.Name,
			Samples:  len(samples),
			OldLower: cur.Lower,
			OldUpper: cur.Upper,
			NewLower: cur.Lower,
			NewUpper: cur.Upper,
		}
		values := make([]float64, len(samples))
		for j, s := range samples {
			values[j] = s.Features[i]
		}

		switch {
		case len(samples) < e.opts.MinSamples:
			rep.Skipped = "insufficient samples"
		case isConstant(values):
			rep.Skipped = "constant values"
		case isConstant(rewards):
			rep.Skipped = "constant rewards"
		}
		if rep.Skipped != "" {
			reports[i] = rep
			continue
		}

		rep.Correlation = stat.Correlation(values, rewards, nil)
		if math.IsNaN(rep.Correlation) || math.Abs(rep.Correlation) < e.opts.MinCorrelation {
			rep.Skipped = "weak correlation"
			reports[i] = rep
			continue
		}

		eliteLo, eliteHi := e.eliteRange(values, rewards)
		lo, hi := e.narrow(cur, sp.Limit(i), eliteLo, eliteHi)
		specs[i].Lower, specs[i].Upper = lo, hi
		rep.NewLower, rep.NewUpper = lo, hi
		reports[i] = rep
	}
	return specs, reports, nil
}

// eliteRange returns the value interval covered by games at or above the elite reward quantile
func (e *Evolver) eliteRange(values, rewards []float64) (float64, float64) {
	sorted := append([]float64(nil), rewards...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(e.opts.EliteQuantile, stat.Empirical, sorted, nil)

	var elite []float64
	for j, r := range rewards {
		if r >= threshold {
			elite = append(elite, values[j])
		}
	}
	return floats.Min(elite), floats.Max(elite)
}

// narrow moves cur's bounds toward [eliteLo, eliteHi] without leaving cur
func (e *Evolver) narrow(cur, limit models.HyperparameterSpec, eliteLo, eliteHi float64) (float64, float64) {
	lo := cur.Lower + e.opts.Rate*(math.Max(eliteLo, cur.Lower)-cur.Lower)
	hi := cur.Upper - e.opts.Rate*(cur.Upper-math.Min(eliteHi, cur.Upper))
	if lo > hi {
		lo, hi = hi, lo
	}

	minWidth := e.opts.MinWidthFraction * limit.Width()
	if cur.Width() <= minWidth {
		return cur.Lower, cur.Upper
	}
	if hi-lo < minWidth {
		center := (lo + hi) / 2
		lo, hi = center-minWidth/2, center+minWidth/2
		if lo < cur.Lower {
			lo, hi = cur.Lower, cur.Lower+minWidth
		}
		if hi > cur.Upper {
			lo, hi = cur.Upper-minWidth, cur.Upper
		}
	}

	if cur.Type == models.ParamInt {
		lo, hi = math.Ceil(lo), math.Floor(hi)
		if lo > hi {
			mid := math.Round((lo + hi) / 2)
			lo, hi = mid, mid
		}
	}
	lo = math.Max(lo, cur.Lower)
	hi = math.Min(hi, cur.Upper)
	return lo, hi
}

func isConstant(v []float64) bool {
	if len(v) == 0 {
		return true
	}
	return floats.Min(v) == floats.Max(v)
}

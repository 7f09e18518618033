// Package space holds the validated hyperparameter table the tuner searches over.
package space

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Space is an ordered set of hyperparameters with their current sampling bounds
// and the absolute limits declared at process start. It is immutable.
type Space struct {
	specs  []models.HyperparameterSpec
	limits []models.HyperparameterSpec
	index  map[string]int
}

// New validates params and uses them as both the current bounds and the absolute limits
func New(params []models.HyperparameterSpec) (*Space, error) {
	if err := config.ValidateParameters(params); err != nil {
		return nil, err
	}
	s := &Space{
		specs:  cloneSpecs(params),
		limits: cloneSpecs(params),
		index:  make(map[string]int, len(params)),
	}
	for i, p := range params {
		s.index[p.Name] = i
	}
	return s, nil
}

// WithBounds returns a space with the same keys and limits but narrowed current bounds.
// The new table must list the same names in the same order and stay within the limits.
func (s *Space) WithBounds(current []models.HyperparameterSpec) (*Space, error) {
	if len(current) != len(s.limits) {
		return nil, fmt.Errorf("expected %d parameters, got %d", len(s.limits), len(current))
	}
	if err := config.ValidateParameters(current); err != nil {
		return nil, err
	}
	for i, c := range current {
		lim := s.limits[i]
		if c.Name != lim.Name {
			return nil, fmt.Errorf("parameter %d: expected %s, got %s", i, lim.Name, c.Name)
		}
		if c.Type != lim.Type {
			return nil, fmt.Errorf("parameter %s: type %s does not match %s", c.Name, c.Type, lim.Type)
		}
		if c.Lower < lim.Lower || c.Upper > lim.Upper {
			return nil, fmt.Errorf("parameter %s: [%g, %g] leaves the limits [%g, %g]", c.Name, c.Lower, c.Upper, lim.Lower, lim.Upper)
		}
	}
	return &Space{
		specs:  cloneSpecs(current),
		limits: s.limits,
		index:  s.index,
	}, nil
}

// Len returns the number of parameters
func (s *Space) Len() int {
	return len(s.specs)
}

// Keys returns the parameter names in order
func (s *Space) Keys() []string {
	keys := make([]string, len(s.specs))
	for i, p := range s.specs {
		keys[i] = p.Name
	}
	return keys
}

// Specs returns a copy of the current bounds
func (s *Space) Specs() []models.HyperparameterSpec {
	return cloneSpecs(s.specs)
}

// Limits returns a copy of the absolute limits
func (s *Space) Limits() []models.HyperparameterSpec {
	return cloneSpecs(s.limits)
}

// Spec returns the current bounds of parameter i
func (s *Space) Spec(i int) models.HyperparameterSpec {
	return s.specs[i]
}

// Limit returns the absolute limits of parameter i
func (s *Space) Limit(i int) models.HyperparameterSpec {
	return s.limits[i]
}

// Index returns the position of the named parameter
func (s *Space) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Check returns an error when v is not an admissible point of the current bounds
func (s *Space) Check(v models.ConfigVector) error {
	if len(v) != len(s.specs) {
		return fmt.Errorf("config has %d values, space has %d parameters", len(v), len(s.specs))
	}
	for i, p := range s.specs {
		if !p.Contains(v[i]) {
			return fmt.Errorf("parameter %s: value %g outside [%g, %g] (%s)", p.Name, v[i], p.Lower, p.Upper, p.Type)
		}
	}
	return nil
}

// Clamp maps every value onto its parameter's current bounds, rounding ints
func (s *Space) Clamp(v models.ConfigVector) models.ConfigVector {
	out := make(models.ConfigVector, len(s.specs))
	for i, p := range s.specs {
		out[i] = p.Clamp(v[i])
	}
	return out
}

// Sample draws a uniform point from the current bounds
func (s *Space) Sample(r *utils.RandSource) models.ConfigVector {
	out := make(models.ConfigVector, len(s.specs))
	for i, p := range s.specs {
		if p.Type == models.ParamInt {
			out[i] = p.Lower + float64(r.Intn(int(p.Upper-p.Lower)+1))
			continue
		}
		out[i] = r.UniformFloat64(p.Lower, p.Upper)
	}
	return out
}

// ToUnit scales v into [0, 1] per dimension using the current bounds
func (s *Space) ToUnit(v models.ConfigVector) []float64 {
	out := make([]float64, len(s.specs))
	for i, p := range s.specs {
		w := p.Width()
		if w == 0 {
			continue
		}
		out[i] = (v[i] - p.Lower) / w
	}
	return out
}

// FromUnit maps a unit-cube point back onto the space, clamped and rounded
func (s *Space) FromUnit(u []float64) models.ConfigVector {
	out := make(models.ConfigVector, len(s.specs))
	for i, p := range s.specs {
		x := utils.ClampFloat64(u[i], 0, 1)
		out[i] = p.Clamp(p.Lower + x*p.Width())
	}
	return out
}

// Named returns v keyed by parameter name
func (s *Space) Named(v models.ConfigVector) map[string]float64 {
	out := make(map[string]float64, len(s.specs))
	for i, p := range s.specs {
		out[p.Name] = v[i]
	}
	return out
}

// FromNamed builds a vector from a name-keyed map; every key must be present
func (s *Space) FromNamed(values map[string]float64) (models.ConfigVector, error) {
	out := make(models.ConfigVector, len(s.specs))
	for i, p := range s.specs {
		v, ok := values[p.Name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %s", p.Name)
		}
		if math.IsNaN(v) {
			return nil, fmt.Errorf("parameter %s: value is NaN", p.Name)
		}
		out[i] = v
	}
	return out, nil
}

func cloneSpecs(in []models.HyperparameterSpec) []models.HyperparameterSpec {
	out := make([]models.HyperparameterSpec, len(in))
	copy(out, in)
	return out
}

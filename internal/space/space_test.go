package space

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

func testParams() []models.HyperparameterSpec {
	return []models.HyperparameterSpec{
		{Name: "a", Lower: 0, Upper: 10, Type: models.ParamInt},
		{Name: "b", Lower: 0, Upper: 1, Type: models.ParamFloat},
	}
}

func TestNewRejectsInvalidTable(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]models.HyperparameterSpec{{Name: "a", Lower: 2, Upper: 1, Type: models.ParamFloat}})
	require.Error(t, err)
}

func TestKeysAndIndex(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, s.Keys())
	require.Equal(t, 2, s.Len())

	i, ok := s.Index("b")
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = s.Index("c")
	require.False(t, ok)
}

func TestSampleStaysInBounds(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)

	rng := utils.NewRandSource(3)
	sawUpper := false
	for i := 0; i < 500; i++ {
		v := s.Sample(rng)
		require.NoError(t, s.Check(v))
		if v[0] == 10 {
			sawUpper = true
		}
	}
	require.True(t, sawUpper, "int upper bound should be reachable")
}

func TestCheck(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)

	require.NoError(t, s.Check(models.ConfigVector{5, 0.5}))
	require.Error(t, s.Check(models.ConfigVector{5}))
	require.Error(t, s.Check(models.ConfigVector{5.5, 0.5}))
	require.Error(t, s.Check(models.ConfigVector{5, 1.5}))
}

func TestUnitRoundTrip(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)

	u := s.ToUnit(models.ConfigVector{5, 0.25})
	require.InDelta(t, 0.5, u[0], 1e-12)
	require.InDelta(t, 0.25, u[1], 1e-12)

	v := s.FromUnit([]float64{0.57, 1.3})
	require.Equal(t, models.ConfigVector{6, 1}, v)
}

func TestWithBounds(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)

	narrowed := testParams()
	narrowed[0].Lower, narrowed[0].Upper = 2, 6
	n, err := s.WithBounds(narrowed)
	require.NoError(t, err)
	require.Equal(t, 2.0, n.Spec(0).Lower)
	require.Equal(t, 0.0, n.Limit(0).Lower)
	require.Equal(t, 0.0, s.Spec(0).Lower, "original space must be unchanged")

	wide := testParams()
	wide[1].Upper = 2
	_, err = s.WithBounds(wide)
	require.ErrorContains(t, err, "leaves the limits")

	renamed := testParams()
	renamed[1].Name = "c"
	_, err = s.WithBounds(renamed)
	require.Error(t, err)

	_, err = s.WithBounds(testParams()[:1])
	require.Error(t, err)
}

func TestNamed(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)

	m := s.Named(models.ConfigVector{3, 0.1})
	require.Equal(t, map[string]float64{"a": 3, "b": 0.1}, m)

	v, err := s.FromNamed(m)
	require.NoError(t, err)
	require.Equal(t, models.ConfigVector{3, 0.1}, v)

	_, err = s.FromNamed(map[string]float64{"a": 1})
	require.ErrorContains(t, err, "missing parameter b")
}

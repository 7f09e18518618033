package scoretable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

func TestLoadMissingTable(t *testing.T) {
	tbl := New(filepath.Join(t.TempDir(), "missing.csv"), []string{"a", "b"})
	recs, err := tbl.Load()
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestAppendAndLoadExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool", "config_settings_scores.csv")
	tbl := New(path, []string{"a", "b"})

	first := []models.ScoreRecord{
		{Config: models.ConfigVector{5, 0.5}, MeanReward: 2.0 / 3.0},
		{Config: models.ConfigVector{2, 0.2}, MeanReward: 0},
	}
	require.NoError(t, tbl.Append(first))
	require.NoError(t, tbl.Append([]models.ScoreRecord{{Config: models.ConfigVector{1, 0.123456789012345}, MeanReward: 0.05}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a,b,average reward\n5,0.5,0.6666666666666666\n2,0.2,0\n1,0.123456789012345,0.05\n", string(data))

	recs, err := tbl.Load()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, first[0], recs[0])
	require.Equal(t, 2.0/3.0, recs[0].MeanReward, "replayed rewards must be bit-identical")

	n, err := tbl.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestAppendRejectsForeignTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,average reward\n1,0\n"), 0o644))

	tbl := New(path, []string{"a", "b"})
	err := tbl.Append([]models.ScoreRecord{{Config: models.ConfigVector{1, 1}, MeanReward: 1}})
	require.ErrorContains(t, err, "header")

	_, err = tbl.Load()
	require.Error(t, err)
}

func TestAppendRejectsWrongWidth(t *testing.T) {
	tbl := New(filepath.Join(t.TempDir(), "scores.csv"), []string{"a", "b"})
	err := tbl.Append([]models.ScoreRecord{{Config: models.ConfigVector{1}, MeanReward: 1}})
	require.Error(t, err)
	n, err := tbl.Len()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoadRejectsBadNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,average reward\nabc,1\n"), 0o644))
	_, err := New(path, []string{"a"}).Load()
	require.Error(t, err)
}

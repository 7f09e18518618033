package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/experience"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/scoretable"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

func testSpecs() []models.HyperparameterSpec {
	return []models.HyperparameterSpec{
		{Name: "a", Lower: 0, Upper: 10, Type: models.ParamInt},
		{Name: "b", Lower: 0, Upper: 1, Type: models.ParamFloat},
	}
}

func bayesianConfig(t *testing.T, dir string) *config.RunConfig {
	t.Helper()
	cfg := config.DefaultRunConfig()
	cfg.AgentsDir = dir
	cfg.PoolName = "test pool"
	cfg.Seed = 3
	cfg.Mode = config.ModeBayesian
	cfg.Games = config.Games{FixedOpponents: 6}
	cfg.Repeats = 3
	cfg.Bayesian.InitialPoints = 2
	cfg.Bayesian.CandidatePool = 200
	cfg.ExperienceStore = config.StoreConfig{Kind: "csv"}
	cfg.Parameters = testSpecs()
	require.NoError(t, cfg.Validate())
	return cfg
}

func selfPlayConfig(t *testing.T, dir string) *config.RunConfig {
	t.Helper()
	cfg := bayesianConfig(t, dir)
	cfg.Mode = config.ModeSelfPlay
	cfg.Games = config.Games{SelfPlay: 4, Evaluation: 4}
	cfg.Repeats = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

// scriptedRunner echoes overrides and pays agent 0 whatever reward returns
type scriptedRunner struct {
	mu       sync.Mutex
	requests []runner.PlayRequest
	reward   func(req runner.PlayRequest, game int, cfg models.ConfigVector) float64
	config   func(req runner.PlayRequest, game int) models.ConfigVector
}

func (s *scriptedRunner) Play(_ context.Context, req runner.PlayRequest) (runner.PlayResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	res := runner.PlayResult{ActiveConfigPath: req.ConfigPath}
	total := 0.0
	for g := 0; g < req.NumGames; g++ {
		var cfg models.ConfigVector
		switch {
		case len(req.FirstBatchOverrides) > 0:
			cfg = req.FirstBatchOverrides[g].Clone()
		case s.config != nil:
			cfg = s.config(req, g)
		default:
			cfg = models.ConfigVector{5, 0.5}
		}
		r := s.reward(req, g, cfg)
		total += r
		res.Episodes = append(res.Episodes, models.Episode{
			ID:        fmt.Sprintf("ep-%d-%d", req.Seed, g),
			Timestamp: time.Date(2024, 5, 1, 0, 0, g, 0, time.UTC),
			Agents: []models.AgentResult{
				{Label: "current", ConfigPath: req.ConfigPath, Config: cfg, Reward: r},
				{Label: "fixed_a", Config: models.ConfigVector{1, 0.1}, Reward: 1 - r},
			},
		})
	}
	res.AverageReward = total / float64(req.NumGames)
	res.OpponentRewards = []models.OpponentReward{{Label: "fixed_a", GamesPlayed: req.NumGames, TotalReward: total}}
	return res, nil
}

func (s *scriptedRunner) calls() []runner.PlayRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.PlayRequest(nil), s.requests...)
}

func alternatingRewards(_ runner.PlayRequest, game int, _ models.ConfigVector) float64 {
	return []float64{1, 0, 1, 0, 0, 0}[game%6]
}

type videoLog struct {
	mu   sync.Mutex
	reqs []runner.VideoRequest
}

func (v *videoLog) Record(_ context.Context, req runner.VideoRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reqs = append(v.reqs, req)
	return nil
}

var fixedClock = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestBayesianIteration(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	gr := &scriptedRunner{reward: alternatingRewards}
	videos := &videoLog{}
	o, err := New(cfg, gr)
	require.NoError(t, err)
	o.WithVideoRecorder(videos).WithClock(fixedClock).WithLogger(logger.Discard())
	defer o.Close()

	st, err := o.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, st.Suggested, 2)
	require.Len(t, st.Overrides, 6)
	for i, cfgVec := range st.Overrides {
		require.True(t, cfgVec.Equal(st.Suggested[i/3]))
	}
	require.Len(t, st.Records, 2)
	require.InDelta(t, 2.0/3.0, st.Records[0].MeanReward, 1e-12)
	require.Equal(t, 0.0, st.Records[1].MeanReward)
	require.True(t, st.Records[0].Config.Equal(st.Suggested[0]))
	require.False(t, st.Promoted)
	require.NotNil(t, st.Best)
	require.InDelta(t, -2.0/3.0, st.Best.Score, 1e-12)

	calls := gr.calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].FixedOpponentPool)
	require.Equal(t, 3, calls[0].Repeats)
	require.Equal(t, filepath.Join(cfg.PoolDir(), "iteration_1.yaml"), calls[0].ConfigPath)

	records, err := scoretable.New(cfg.ScoreTablePath(), []string{"a", "b"}).Load()
	require.NoError(t, err)
	require.Equal(t, st.Records, records)

	header, rows, err := progress.New(cfg.ProgressPath()).Load()
	require.NoError(t, err)
	require.Equal(t, []string{progress.TimeColumn, "Reward fixed_a", colBufferSize, colDataRulesPath}, header)
	require.Len(t, rows, 1)
	require.Equal(t, "0.33", rows[0][1])
	require.Equal(t, "0", rows[0][2], "bayesian games do not enter the experience buffer")
	require.Equal(t, calls[0].ConfigPath, rows[0][3])

	store := experience.NewCSVStore(cfg.ExperienceStorePath(), []string{"a", "b"})
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, n)

	require.Len(t, videos.reqs, 1)
	require.Len(t, videos.reqs[0].AgentConfigs, 2)
	require.True(t, videos.reqs[0].AgentConfigs[0].Equal(st.Overrides[5]))

	status := o.Status()
	require.Equal(t, 1, status.Iteration)
	require.Equal(t, 2, status.Observations)
	require.NotNil(t, status.BestReward)
	require.InDelta(t, 2.0/3.0, *status.BestReward, 1e-12)
	require.Contains(t, status.Rewards, string(experience.SegmentFixed))
}

func TestWarmStartMatchesContinuousRun(t *testing.T) {
	ctx := context.Background()

	continuous := bayesianConfig(t, t.TempDir())
	a, err := New(continuous, &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	var want *IterationState
	for i := 0; i < 3; i++ {
		want, err = a.Step(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())

	resumedDir := t.TempDir()
	first, err := New(bayesianConfig(t, resumedDir), &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = first.Step(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	second, err := New(bayesianConfig(t, resumedDir), &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Init(ctx))
	require.Equal(t, 2, second.Iteration())
	require.Equal(t, 4, second.Status().Observations)

	got, err := second.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, got.Iteration)
	require.Equal(t, want.Suggested, got.Suggested)

	// Replay must not duplicate rows
	n, err := scoretable.New(filepath.Join(resumedDir, "test pool", config.ScoreTableFile), []string{"a", "b"}).Len()
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestWarmStartDisabled(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := New(bayesianConfig(t, dir), &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	_, err = first.Step(ctx)
	require.NoError(t, err)

	cfg := bayesianConfig(t, dir)
	cfg.Bayesian.WarmStart = false
	second, err := New(cfg, &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	require.NoError(t, second.Init(ctx))
	require.Equal(t, 0, second.Status().Observations)
	require.Equal(t, 1, second.Iteration())
}

func TestWarmStartIgnoresNarrowedIterationFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := New(bayesianConfig(t, dir), &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	st, err := first.Step(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A self-play run in the same pool narrows the file below the recorded configs
	cfg := bayesianConfig(t, dir)
	versions := versioner.New(cfg.PoolDir(), cfg.PoolName)
	doc, err := versions.Load(st.ConfigPath)
	require.NoError(t, err)
	doc.Parameters[0].Lower, doc.Parameters[0].Upper = 10, 10
	doc.Parameters[1].Lower, doc.Parameters[1].Upper = 0.999, 1
	require.NoError(t, versions.Save(st.ConfigPath, doc))

	second, err := New(cfg, &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Init(ctx))
	require.Equal(t, len(st.Records), second.Status().Observations)

	opt := second.mode.(*bayesianMode).opt
	require.Equal(t, 0.0, opt.Space().Spec(0).Lower)
	require.Equal(t, 10.0, opt.Space().Spec(0).Upper)
}

func TestSelfPlayPromotion(t *testing.T) {
	cfg := selfPlayConfig(t, t.TempDir())
	cfg.PromotionThreshold = 0.6
	cfg.RecordVideosNewIteration = true
	rewards := map[bool]float64{false: 0.75, true: 0.625}
	gr := &scriptedRunner{reward: func(req runner.PlayRequest, _ int, _ models.ConfigVector) float64 {
		return rewards[req.ExcludeCurrentFromOpponents]
	}}
	videos := &videoLog{}
	o, err := New(cfg, gr)
	require.NoError(t, err)
	o.WithVideoRecorder(videos)

	st, err := o.Step(context.Background())
	require.NoError(t, err)
	first := filepath.Join(cfg.PoolDir(), "iteration_1.yaml")
	second := filepath.Join(cfg.PoolDir(), "iteration_2.yaml")
	require.True(t, st.Promoted)
	require.Equal(t, first, st.ConfigPath)
	require.Equal(t, second, st.ActivePath)
	require.FileExists(t, second)
	require.Len(t, videos.reqs, 1)
	require.Equal(t, first, videos.reqs[0].ConfigPath)

	calls := gr.calls()
	require.Len(t, calls, 2)
	require.False(t, calls[0].ExcludeCurrentFromOpponents)
	require.Equal(t, cfg.MaxPoolSize, calls[0].MaxPoolSize)
	require.True(t, calls[1].ExcludeCurrentFromOpponents)
	require.Equal(t, 2, calls[1].MaxPoolSize)

	header, rows, err := progress.New(cfg.ProgressPath()).Load()
	require.NoError(t, err)
	require.Equal(t, []string{progress.TimeColumn, colSelfPlayReward, colEvalReward, colBufferSize, colDataRulesPath}, header)
	require.Equal(t, []string{"0.75", "0.625", "4", first}, rows[0][1:])

	// The next iteration plays the promoted version, with the previous one as evaluation opponent
	rewards[true] = 0.5
	st, err = o.Step(context.Background())
	require.NoError(t, err)
	require.False(t, st.Promoted)
	require.Equal(t, second, st.ConfigPath)
	require.Equal(t, []string{second, first}, st.EvaluationOpponents)
	_, err = os.Stat(filepath.Join(cfg.PoolDir(), "iteration_3.yaml"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 8, o.Status().BufferSize)
	require.Equal(t, 1, o.Status().Promotions)
}

func TestShouldPromote(t *testing.T) {
	played := func(avg float64) *SegmentOutcome {
		return &SegmentOutcome{Result: runner.PlayResult{AverageReward: avg}}
	}
	tests := []struct {
		name     string
		state    IterationState
		expected bool
	}{
		{"both above", IterationState{SelfPlay: played(0.7), Evaluation: played(0.6)}, true},
		{"one below", IterationState{SelfPlay: played(0.9), Evaluation: played(0.59)}, false},
		{"only self-play", IterationState{SelfPlay: played(0.61)}, true},
		{"only evaluation below", IterationState{Evaluation: played(0.2)}, false},
		{"nothing played", IterationState{}, false},
		{"fixed segment ignored", IterationState{Fixed: played(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldPromote(&tt.state, 0.6); got != tt.expected {
				t.Errorf("shouldPromote = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestSelfPlayEvolvesRanges(t *testing.T) {
	cfg := selfPlayConfig(t, t.TempDir())
	cfg.Games = config.Games{SelfPlay: 22}
	cfg.PromotionThreshold = 0.99
	gr := &scriptedRunner{
		config: func(_ runner.PlayRequest, game int) models.ConfigVector {
			return models.ConfigVector{float64(game % 11), 0.5}
		},
		reward: func(_ runner.PlayRequest, _ int, cfg models.ConfigVector) float64 {
			return cfg[0] / 10
		},
	}
	o, err := New(cfg, gr)
	require.NoError(t, err)

	st, err := o.Step(context.Background())
	require.NoError(t, err)
	require.False(t, st.Promoted)
	require.Len(t, st.Evolution, 2)
	require.True(t, st.Evolution[0].Changed())
	require.Equal(t, "constant values", st.Evolution[1].Skipped)

	saved, err := versioner.New(cfg.PoolDir(), cfg.PoolName).Load(st.ActivePath)
	require.NoError(t, err)
	require.Greater(t, saved.Parameters[0].Lower, 0.0)
	require.Equal(t, 10.0, saved.Parameters[0].Upper)
	require.Equal(t, 0.0, saved.Parameters[1].Lower)
	require.Equal(t, 1.0, saved.Parameters[1].Upper)
	require.Equal(t, math.Trunc(saved.Parameters[0].Lower), saved.Parameters[0].Lower)

	// The next iteration samples from the narrowed ranges
	next, err := o.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, saved.Parameters[0].Lower, next.Space.Spec(0).Lower)
}

func TestRunStopsAfterMaxIterations(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	cfg.MaxIterations = 2
	o, err := New(cfg, &scriptedRunner{reward: alternatingRewards})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, 2, o.Iteration())

	n, err := progress.New(cfg.ProgressPath()).Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, o.Status().Running)
}

func TestRunCancelledIsCleanStop(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	gr := runner.Func(func(ctx context.Context, req runner.PlayRequest) (runner.PlayResult, error) {
		cancel()
		<-ctx.Done()
		return runner.PlayResult{}, ctx.Err()
	})
	o, err := New(cfg, gr)
	require.NoError(t, err)
	require.NoError(t, o.Run(ctx))
	require.Equal(t, 0, o.Iteration())
}

func TestRunnerFailureIsFatal(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	boom := errors.New("engine crashed")
	o, err := New(cfg, runner.Func(func(context.Context, runner.PlayRequest) (runner.PlayResult, error) {
		return runner.PlayResult{}, boom
	}))
	require.NoError(t, err)
	err = o.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, o.Iteration())
	require.Equal(t, err.Error(), o.Status().LastError)

	n, err := scoretable.New(cfg.ScoreTablePath(), []string{"a", "b"}).Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMalformedResultIsFatal(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	o, err := New(cfg, runner.Func(func(_ context.Context, req runner.PlayRequest) (runner.PlayResult, error) {
		return runner.PlayResult{ActiveConfigPath: req.ConfigPath, Episodes: make([]models.Episode, req.NumGames-1)}, nil
	}))
	require.NoError(t, err)
	_, err = o.Step(context.Background())
	require.ErrorIs(t, err, runner.ErrMalformedResult)
}

func TestIgnoredOverridesAreMalformed(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	gr := runner.Func(func(_ context.Context, req runner.PlayRequest) (runner.PlayResult, error) {
		res := runner.PlayResult{ActiveConfigPath: req.ConfigPath}
		for g := 0; g < req.NumGames; g++ {
			res.Episodes = append(res.Episodes, models.Episode{Agents: []models.AgentResult{{Config: models.ConfigVector{0, 0}}}})
		}
		return res, nil
	})
	o, err := New(cfg, gr)
	require.NoError(t, err)
	_, err = o.Step(context.Background())
	require.ErrorIs(t, err, runner.ErrMalformedResult)
}

func TestNewRejectsBadInput(t *testing.T) {
	cfg := bayesianConfig(t, t.TempDir())
	_, err := New(nil, &scriptedRunner{})
	require.Error(t, err)
	_, err = New(cfg, nil)
	require.Error(t, err)

	bad := bayesianConfig(t, t.TempDir())
	bad.Mode = "annealing"
	_, err = New(bad, &scriptedRunner{})
	require.Error(t, err)
}

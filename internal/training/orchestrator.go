// Package training runs the tuning loop: suggest, play, aggregate, update,
// persist, version or evolve, record progress.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/experience"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/metrics"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/scoretable"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Orchestrator owns the loop state. It is the single writer of the pool directory.
type Orchestrator struct {
	cfg      *config.RunConfig
	base     *space.Space
	runner   runner.GameRunner
	videos   runner.VideoRecorder
	metrics  *metrics.Recorder
	log      *slog.Logger
	now      func() time.Time
	versions *versioner.Versioner
	scores   *scoretable.Table
	progress *progress.Recorder
	store    experience.Store
	buffer   *experience.Buffer
	mode     mode

	initialized bool
	iteration   int

	mu     sync.RWMutex
	status Status
}

// New builds an orchestrator for cfg playing through gr. cfg must be validated.
func New(cfg *config.RunConfig, gr runner.GameRunner) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("run config is required")
	}
	if gr == nil {
		return nil, errors.New("game runner is required")
	}
	base, err := space.New(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("invalid config: parameters: %w", err)
	}
	buffer, err := experience.NewBuffer(cfg.MaxExperienceBuffer)
	if err != nil {
		return nil, fmt.Errorf("invalid config: max_experience_buffer: %w", err)
	}

	var store experience.Store = experience.NopStore{}
	if cfg.PersistExperience {
		store, err = experience.NewStore(cfg.ExperienceStore.Kind, cfg.ExperienceStorePath(), base.Keys())
		if err != nil {
			return nil, fmt.Errorf("invalid config: experience_store: %w", err)
		}
	}

	var m mode
	switch cfg.Mode {
	case config.ModeBayesian:
		m = &bayesianMode{}
	case config.ModeSelfPlay:
		m = newSelfPlayMode(cfg.Evolution)
	default:
		return nil, fmt.Errorf("invalid config: mode: unsupported mode %q", cfg.Mode)
	}

	return &Orchestrator{
		cfg:      cfg,
		base:     base,
		runner:   runner.Checked(gr),
		videos:   runner.NopVideoRecorder{},
		metrics:  metrics.NewNop(),
		log:      logger.With("pool", cfg.PoolName, "mode", string(cfg.Mode)),
		now:      time.Now,
		versions: versioner.New(cfg.PoolDir(), cfg.PoolName),
		scores:   scoretable.New(cfg.ScoreTablePath(), base.Keys()),
		progress: progress.New(cfg.ProgressPath()),
		store:    store,
		buffer:   buffer,
		mode:     m,
		status:   Status{Pool: cfg.PoolName, Mode: cfg.Mode},
	}, nil
}

// WithVideoRecorder sets the video hook
func (o *Orchestrator) WithVideoRecorder(v runner.VideoRecorder) *Orchestrator {
	o.videos = v
	return o
}

// WithMetrics sets the instrument recorder
func (o *Orchestrator) WithMetrics(m *metrics.Recorder) *Orchestrator {
	o.metrics = m
	return o
}

// WithLogger replaces the loop logger
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.log = l
	return o
}

// WithClock overrides the time source for the pool files
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.versions.WithClock(now)
	o.progress.WithClock(now)
	return o
}

// Iteration returns the number of completed iterations, including earlier runs
func (o *Orchestrator) Iteration() int {
	return o.iteration
}

// Status returns a snapshot of the loop
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.clone()
}

// Init restores state from the pool directory. It is called by Run and is a
// no-op the second time.
func (o *Orchestrator) Init(ctx context.Context) error {
	if o.initialized {
		return nil
	}
	path, created, err := o.versions.Init(o.base)
	if err != nil {
		return fmt.Errorf("failed to initialise pool: %w", err)
	}
	if created {
		o.log.Info("stored initial config", "config_path", path)
	}

	done, err := o.progress.Len()
	if err != nil {
		return fmt.Errorf("failed to read progress log: %w", err)
	}
	o.iteration = done

	if err := o.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open experience store: %w", err)
	}
	if err := o.mode.restore(ctx, o, path); err != nil {
		return err
	}

	o.initialized = true
	o.updateStatus(func(s *Status) {
		s.Iteration = o.iteration
		s.ConfigPath = path
		s.Observations = o.mode.observations()
	})
	o.log.Info("training state restored", "iteration", o.iteration, "config_path", path)
	return nil
}

// Run loops until ctx is cancelled or max_iterations is reached. Cancellation is
// a clean stop; any other error ends the loop and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Init(ctx); err != nil {
		return err
	}
	o.updateStatus(func(s *Status) { s.Running = true })
	defer o.updateStatus(func(s *Status) { s.Running = false })

	for runs := 0; o.cfg.MaxIterations == 0 || runs < o.cfg.MaxIterations; runs++ {
		if ctx.Err() != nil {
			o.log.Info("training stopped", "iteration", o.iteration)
			return nil
		}
		if _, err := o.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				o.log.Info("training stopped mid-iteration", "iteration", o.iteration+1)
				return nil
			}
			o.updateStatus(func(s *Status) { s.LastError = err.Error() })
			return err
		}
	}
	o.log.Info("training finished", "iteration", o.iteration)
	return nil
}

// Step runs one full iteration
func (o *Orchestrator) Step(ctx context.Context) (*IterationState, error) {
	if err := o.Init(ctx); err != nil {
		return nil, err
	}
	path, _, err := o.versions.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current config: %w", err)
	}
	sp, err := o.versions.LoadSpace(path, o.base)
	if err != nil {
		return nil, err
	}

	st := &IterationState{
		Iteration:  o.iteration + 1,
		Mode:       o.cfg.Mode,
		ConfigPath: path,
		ActivePath: path,
		Space:      sp,
	}
	log := o.log.With("iteration", st.Iteration)

	if err := o.mode.suggest(ctx, o, st); err != nil {
		return nil, fmt.Errorf("iteration %d: suggest: %w", st.Iteration, err)
	}
	if err := o.play(ctx, st, log); err != nil {
		return nil, fmt.Errorf("iteration %d: play: %w", st.Iteration, err)
	}
	if err := o.mode.aggregate(o, st); err != nil {
		return nil, fmt.Errorf("iteration %d: aggregate: %w", st.Iteration, err)
	}
	if err := o.mode.update(o, st); err != nil {
		return nil, fmt.Errorf("iteration %d: update: %w", st.Iteration, err)
	}
	if o.cfg.PersistExperience && len(st.Rows) > 0 {
		if err := o.store.Append(ctx, st.Rows); err != nil {
			return nil, fmt.Errorf("iteration %d: persist: %w", st.Iteration, err)
		}
	}
	if err := o.mode.versionOrEvolve(ctx, o, st, log); err != nil {
		return nil, fmt.Errorf("iteration %d: version: %w", st.Iteration, err)
	}
	o.mode.recordVideos(ctx, o, st, log)
	if err := o.progress.Record(o.mode.progressFields(o, st)...); err != nil {
		return nil, fmt.Errorf("iteration %d: progress: %w", st.Iteration, err)
	}

	o.iteration = st.Iteration
	o.metrics.Iteration(ctx, string(o.cfg.Mode))
	o.publish(st)
	log.Info("iteration complete", "config_path", st.ActivePath, "promoted", st.Promoted)
	return st, nil
}

// segmentPlan is one segment's request shape
type segmentPlan struct {
	segment   experience.Segment
	games     int
	poolSize  int
	exclude   bool
	fixed     bool
	opponents []string
}

func (o *Orchestrator) play(ctx context.Context, st *IterationState, log *slog.Logger) error {
	for _, plan := range o.mode.segments(o, st) {
		if plan.games == 0 {
			continue
		}
		req := runner.PlayRequest{
			PoolName:                    o.cfg.PoolName,
			NumGames:                    plan.games,
			MaxPoolSize:                 plan.poolSize,
			NumAgents:                   o.cfg.NumAgentsPerGame,
			ExcludeCurrentFromOpponents: plan.exclude,
			FixedOpponentPool:           plan.fixed,
			Space:                       o.base.Limits(),
			Repeats:                     1,
			ConfigPath:                  st.ConfigPath,
			OpponentPaths:               plan.opponents,
			Seed:                        utils.DeriveSeed(o.cfg.Seed, "play", st.Iteration, string(plan.segment)),
		}
		if plan.fixed && len(st.Overrides) > 0 {
			req.FirstBatchOverrides = st.Overrides
			req.Repeats = o.cfg.Repeats
		}

		log.Info("playing segment", "segment", plan.segment, "games", plan.games, "config_path", st.ConfigPath)
		start := o.now()
		res, err := o.runner.Play(ctx, req)
		if err != nil {
			return fmt.Errorf("segment %s: %w", plan.segment, err)
		}
		elapsed := o.now().Sub(start)
		st.setOutcome(&SegmentOutcome{Segment: plan.segment, Result: res, Elapsed: elapsed})
		o.metrics.Segment(ctx, string(plan.segment), plan.games, res.AverageReward, elapsed)
		log.Info("segment played", "segment", plan.segment, "avg_reward", res.AverageReward, "elapsed", elapsed)

		if plan.segment == experience.SegmentSelfPlay {
			o.buffer.Add(res.Episodes)
			o.metrics.BufferSize(ctx, o.buffer.Len())
		}
	}
	return nil
}

func (o *Orchestrator) publish(st *IterationState) {
	o.updateStatus(func(s *Status) {
		s.Iteration = st.Iteration
		s.ConfigPath = st.ActivePath
		s.LastIterationAt = o.now().UTC()
		s.BufferSize = o.buffer.Len()
		s.LastError = ""
		s.Rewards = make(map[string]float64)
		for _, seg := range []experience.Segment{experience.SegmentSelfPlay, experience.SegmentEvaluation, experience.SegmentFixed} {
			if avg, ok := st.Average(seg); ok {
				s.Rewards[string(seg)] = avg
			}
		}
		if st.Promoted {
			s.Promotions++
		}
		if st.Best != nil {
			reward := -st.Best.Score
			s.BestReward = &reward
			s.BestConfig = st.Space.Named(st.Best.Config)
		}
		s.Observations = o.mode.observations()
	})
}

func (o *Orchestrator) updateStatus(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

// Close releases the experience store
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

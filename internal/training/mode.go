package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/aggregate"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/evolve"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/experience"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/suggest"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// Progress log columns
const (
	colRewardPrefix   = "Reward "
	colSelfPlayReward = "Average reward self play"
	colEvalReward     = "Average evaluation reward"
	colBufferSize     = "Experience buffer size"
	colDataRulesPath  = "Data rules path"
)

const videoSuffixLayout = "2006-01-02 15:04:05"

// mode holds the steps that differ between bayesian and self-play tuning
type mode interface {
	restore(ctx context.Context, o *Orchestrator, currentPath string) error
	suggest(ctx context.Context, o *Orchestrator, st *IterationState) error
	segments(o *Orchestrator, st *IterationState) []segmentPlan
	aggregate(o *Orchestrator, st *IterationState) error
	update(o *Orchestrator, st *IterationState) error
	versionOrEvolve(ctx context.Context, o *Orchestrator, st *IterationState, log *slog.Logger) error
	recordVideos(ctx context.Context, o *Orchestrator, st *IterationState, log *slog.Logger)
	progressFields(o *Orchestrator, st *IterationState) []progress.Field
	observations() int
}

// bayesianMode plays suggested configs against the fixed pool and never promotes
type bayesianMode struct {
	opt *suggest.Optimizer
}

// restore searches the declared ranges. Iteration files narrowed by a self-play run
// in the same pool must not invalidate score rows recorded before the narrowing.
func (m *bayesianMode) restore(_ context.Context, o *Orchestrator, _ string) error {
	b := o.cfg.Bayesian
	var err error
	m.opt, err = suggest.New(o.base, suggest.Options{
		Seed:          o.cfg.Seed,
		InitialPoints: b.InitialPoints,
		CandidatePool: b.CandidatePool,
		Xi:            b.Xi,
		Noise:         b.Noise,
	})
	if err != nil {
		return err
	}
	if !b.WarmStart {
		return nil
	}

	records, err := o.scores.Load()
	if err != nil {
		return fmt.Errorf("failed to load score table: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	configs, scores := aggregate.Negate(records)
	if err := m.opt.Observe(configs, scores); err != nil {
		return fmt.Errorf("failed to replay score table %s: %w", o.scores.Path(), err)
	}
	o.log.Info("warm start from score table", "records", len(records), "path", o.scores.Path())
	return nil
}

func (m *bayesianMode) suggest(_ context.Context, o *Orchestrator, st *IterationState) error {
	batch, err := m.opt.Suggest(o.cfg.Games.FixedOpponents / o.cfg.Repeats)
	if err != nil {
		return err
	}
	st.Suggested = batch
	st.Overrides = batch.Expand(o.cfg.Repeats)
	return nil
}

func (m *bayesianMode) segments(o *Orchestrator, _ *IterationState) []segmentPlan {
	return []segmentPlan{
		{segment: experience.SegmentFixed, games: o.cfg.Games.FixedOpponents, poolSize: 1, fixed: true},
	}
}

func (m *bayesianMode) aggregate(o *Orchestrator, st *IterationState) error {
	if st.Fixed == nil {
		return errors.New("fixed-opponent segment was not played")
	}
	records, err := aggregate.FromEpisodes(st.Overrides, st.Fixed.Result.Episodes, o.cfg.Repeats)
	if err != nil {
		return err
	}
	st.Records = records
	st.Rows = experience.RowsFromEpisodes(st.Iteration, experience.SegmentFixed, st.Fixed.Result.Episodes)
	return nil
}

func (m *bayesianMode) update(o *Orchestrator, st *IterationState) error {
	configs, scores := aggregate.Negate(st.Records)
	if err := m.opt.Observe(configs, scores); err != nil {
		return err
	}
	return o.scores.Append(st.Records)
}

func (m *bayesianMode) versionOrEvolve(_ context.Context, _ *Orchestrator, st *IterationState, log *slog.Logger) error {
	best, ok := m.opt.Best()
	if !ok {
		return nil
	}
	st.Best = &best
	log.Info("best config so far", "avg_reward", -best.Score, "observations", m.opt.Len())
	return nil
}

func (m *bayesianMode) recordVideos(ctx context.Context, o *Orchestrator, st *IterationState, log *slog.Logger) {
	if !o.cfg.RecordVideosEachLoop || st.Fixed == nil || len(st.Fixed.Result.Episodes) == 0 {
		return
	}
	last := st.Fixed.Result.Episodes[len(st.Fixed.Result.Episodes)-1]
	agents := make([]models.ConfigVector, len(last.Agents))
	for i, a := range last.Agents {
		agents[i] = a.Config.Clone()
	}
	o.recordVideo(ctx, log, runner.VideoRequest{
		ConfigPath:   st.Fixed.Result.ActiveConfigPath,
		NumAgents:    o.cfg.NumAgentsPerGame,
		Suffix:       o.now().Format(videoSuffixLayout),
		AgentConfigs: agents,
	})
}

func (m *bayesianMode) progressFields(o *Orchestrator, st *IterationState) []progress.Field {
	var fields []progress.Field
	if st.Fixed != nil {
		for _, r := range st.Fixed.Result.OpponentRewards {
			fields = append(fields, progress.Float(colRewardPrefix+r.Label, utils.Round(r.Average(), 2)))
		}
	}
	return append(fields,
		progress.Int(colBufferSize, o.buffer.Len()),
		progress.String(colDataRulesPath, st.ConfigPath),
	)
}

func (m *bayesianMode) observations() int {
	if m.opt == nil {
		return 0
	}
	return m.opt.Len()
}

// selfPlayMode plays the current version against earlier ones, promotes on a
// win rate threshold and narrows the ranges of the current file
type selfPlayMode struct {
	evolver *evolve.Evolver
	samples []evolve.Sample
}

func newSelfPlayMode(c config.EvolutionConfig) *selfPlayMode {
	return &selfPlayMode{evolver: evolve.New(evolve.Options{
		Rate:             c.Rate,
		EliteQuantile:    c.EliteQuantile,
		MinCorrelation:   c.MinCorrelation,
		MinSamples:       c.MinSamples,
		MinWidthFraction: c.MinWidthFraction,
	})}
}

func (m *selfPlayMode) restore(context.Context, *Orchestrator, string) error {
	return nil
}

func (m *selfPlayMode) suggest(_ context.Context, o *Orchestrator, st *IterationState) error {
	recent, err := o.versions.Recent(o.cfg.MaxPoolSize)
	if err != nil {
		return err
	}
	st.Opponents = recent
	if st.EvaluationOpponents, err = o.versions.Recent(2); err != nil {
		return err
	}
	return nil
}

func (m *selfPlayMode) segments(o *Orchestrator, st *IterationState) []segmentPlan {
	return []segmentPlan{
		{segment: experience.SegmentSelfPlay, games: o.cfg.Games.SelfPlay, poolSize: o.cfg.MaxPoolSize, opponents: st.Opponents},
		{segment: experience.SegmentEvaluation, games: o.cfg.Games.Evaluation, poolSize: 2, exclude: true, opponents: st.EvaluationOpponents},
		{segment: experience.SegmentFixed, games: o.cfg.Games.FixedOpponents, poolSize: 1, fixed: true},
	}
}

func (m *selfPlayMode) aggregate(_ *Orchestrator, st *IterationState) error {
	m.samples = m.samples[:0]
	if st.SelfPlay == nil {
		return nil
	}
	st.Rows = experience.RowsFromEpisodes(st.Iteration, experience.SegmentSelfPlay, st.SelfPlay.Result.Episodes)
	for _, row := range st.Rows {
		m.samples = append(m.samples, evolve.Sample{Features: row.Features, Reward: row.Reward})
	}
	return nil
}

func (m *selfPlayMode) update(*Orchestrator, *IterationState) error {
	return nil
}

// shouldPromote applies the promotion law: the worst of the played self-play and
// evaluation averages must reach the threshold. Nothing played means no promotion.
func shouldPromote(st *IterationState, threshold float64) bool {
	played := false
	worst := 0.0
	for _, seg := range []experience.Segment{experience.SegmentSelfPlay, experience.SegmentEvaluation} {
		avg, ok := st.Average(seg)
		if !ok {
			continue
		}
		if !played || avg < worst {
			worst = avg
		}
		played = true
	}
	return played && worst >= threshold
}

func (m *selfPlayMode) versionOrEvolve(ctx context.Context, o *Orchestrator, st *IterationState, log *slog.Logger) error {
	if shouldPromote(st, o.cfg.PromotionThreshold) {
		next, err := o.versions.Promote(st.ConfigPath)
		if err != nil {
			return err
		}
		st.Promoted = true
		st.ActivePath = next
		o.metrics.Promotion(ctx, o.cfg.PoolName)
		log.Info("promoted config", "from", st.ConfigPath, "config_path", next)
	}

	sp, err := o.versions.LoadSpace(st.ActivePath, o.base)
	if err != nil {
		return err
	}
	specs, reports, err := m.evolver.Evolve(sp, m.samples)
	if err != nil {
		return fmt.Errorf("evolve: %w", err)
	}
	st.Evolution = reports

	changed := 0
	for _, r := range reports {
		if r.Changed() {
			changed++
			log.Debug("range narrowed", "param", r.Name, "correlation", r.Correlation,
				"lower", r.NewLower, "upper", r.NewUpper)
		}
	}
	if changed == 0 {
		return nil
	}
	current, err := o.versions.Load(st.ActivePath)
	if err != nil {
		return err
	}
	current.Parameters = specs
	if err := o.versions.Save(st.ActivePath, current); err != nil {
		return err
	}
	o.metrics.Evolved(ctx, changed)
	log.Info("ranges evolved", "config_path", st.ActivePath, "changed", changed)
	return nil
}

func (m *selfPlayMode) recordVideos(ctx context.Context, o *Orchestrator, st *IterationState, log *slog.Logger) {
	switch {
	case st.Promoted && o.cfg.RecordVideosNewIteration:
		o.recordVideo(ctx, log, runner.VideoRequest{ConfigPath: st.ConfigPath, NumAgents: o.cfg.NumAgentsPerGame})
	case !st.Promoted && o.cfg.RecordVideosEachLoop:
		o.recordVideo(ctx, log, runner.VideoRequest{
			ConfigPath: st.ActivePath,
			NumAgents:  o.cfg.NumAgentsPerGame,
			Suffix:     o.now().Format(videoSuffixLayout),
		})
	}
}

func (m *selfPlayMode) progressFields(o *Orchestrator, st *IterationState) []progress.Field {
	return []progress.Field{
		averageField(colSelfPlayReward, st, experience.SegmentSelfPlay),
		averageField(colEvalReward, st, experience.SegmentEvaluation),
		progress.Int(colBufferSize, o.buffer.Len()),
		progress.String(colDataRulesPath, st.ConfigPath),
	}
}

func (m *selfPlayMode) observations() int {
	return 0
}

// averageField leaves the cell empty for a skipped segment
func averageField(name string, st *IterationState, seg experience.Segment) progress.Field {
	avg, ok := st.Average(seg)
	if !ok {
		return progress.String(name, "")
	}
	return progress.Float(name, avg)
}

func (o *Orchestrator) recordVideo(ctx context.Context, log *slog.Logger, req runner.VideoRequest) {
	if err := o.videos.Record(ctx, req); err != nil {
		log.Warn("video recording failed", "config_path", req.ConfigPath, "error", err)
	}
}

package experience

import (
	"context"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// Segment names the part of an iteration an episode was played in
type Segment string

const (
	SegmentSelfPlay   Segment = "self_play"
	SegmentEvaluation Segment = "evaluation"
	SegmentFixed      Segment = "fixed_opponents"
)

// Row is one agent's features and reward in one episode
type Row struct {
	Iteration  int
	EpisodeID  string
	Timestamp  time.Time
	Segment    Segment
	AgentLabel string
	Features   models.ConfigVector
	Reward     float64
}

// Store appends experience rows to durable storage
type Store interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, rows []Row) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewStore builds the sink named by kind. keys name the feature columns.
func NewStore(kind, path string, keys []string) (Store, error) {
	switch kind {
	case "", "none":
		return NopStore{}, nil
	case "csv":
		return NewCSVStore(path, keys), nil
	case "sqlite":
		return NewSQLiteStore(path, keys), nil
	default:
		return nil, fmt.Errorf("unsupported experience store: %s", kind)
	}
}

// RowsFromEpisodes flattens the agent under test of every episode into rows
func RowsFromEpisodes(iteration int, segment Segment, episodes []models.Episode) []Row {
	rows := make([]Row, 0, len(episodes))
	for _, ep := range episodes {
		primary, ok := ep.Primary()
		if !ok {
			continue
		}
		rows = append(rows, Row{
			Iteration:  iteration,
			EpisodeID:  ep.ID,
			Timestamp:  ep.Timestamp,
			Segment:    segment,
			AgentLabel: primary.Label,
			Features:   primary.Config.Clone(),
			Reward:     primary.Reward,
		})
	}
	return rows
}

// NopStore discards everything
type NopStore struct{}

func (NopStore) Init(context.Context) error { return nil }

func (NopStore) Append(context.Context, []Row) error { return nil }

func (NopStore) Count(context.Context) (int, error) { return 0, nil }

func (NopStore) Close() error { return nil }

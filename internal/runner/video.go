package runner

import (
	"context"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// VideoRequest asks for replays of a config to be rendered
type VideoRequest struct {
	ConfigPath string
	NumAgents  int
	// Suffix distinguishes repeated recordings of the same config.
	Suffix string
	// AgentConfigs pins each seat's config, as in the last played episode.
	AgentConfigs []models.ConfigVector
}

// VideoRecorder renders game videos. Rendering is outside this module.
type VideoRecorder interface {
	Record(ctx context.Context, req VideoRequest) error
}

// NopVideoRecorder ignores every request
type NopVideoRecorder struct{}

// Record does nothing
func (NopVideoRecorder) Record(context.Context, VideoRequest) error { return nil }

// LogVideoRecorder logs requests so a separate renderer can pick them up
type LogVideoRecorder struct{}

// Record logs the request
func (LogVideoRecorder) Record(_ context.Context, req VideoRequest) error {
	logger.Info("video requested",
		"config_path", req.ConfigPath,
		"num_agents", req.NumAgents,
		"suffix", req.Suffix,
		"pinned_agents", len(req.AgentConfigs))
	return nil
}

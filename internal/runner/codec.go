package runner

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// Requests and results travel as google.protobuf.Struct. Numbers are float64 on
// the wire, so int64 seeds are sent as decimal strings. Struct.AsMap turns
// non-finite numbers into "Infinity", "-Infinity" and "NaN", which toFloat reads back.

func encodeRequest(req PlayRequest) (*structpb.Struct, error) {
	overrides := make([]any, len(req.FirstBatchOverrides))
	for i, c := range req.FirstBatchOverrides {
		overrides[i] = encodeVector(c)
	}
	specs := make([]any, len(req.Space))
	for i, s := range req.Space {
		specs[i] = map[string]any{
			"name":  s.Name,
			"lower": s.Lower,
			"upper": s.Upper,
			"type":  string(s.Type),
			"floor": s.Floor,
		}
	}
	opponents := make([]any, len(req.OpponentPaths))
	for i, p := range req.OpponentPaths {
		opponents[i] = p
	}
	return newStruct(map[string]any{
		"pool_name":                      req.PoolName,
		"num_games":                      req.NumGames,
		"max_pool_size":                  req.MaxPoolSize,
		"num_agents":                     req.NumAgents,
		"exclude_current_from_opponents": req.ExcludeCurrentFromOpponents,
		"fixed_opponent_pool":            req.FixedOpponentPool,
		"space":                          specs,
		"repeats":                        req.Repeats,
		"first_batch_overrides":          overrides,
		"config_path":                    req.ConfigPath,
		"opponent_paths":                 opponents,
		"seed":                           strconv.FormatInt(req.Seed, 10),
	})
}

func decodeRequest(s *structpb.Struct) (PlayRequest, error) {
	m := fields{s.AsMap()}
	var req PlayRequest
	var err error
	if req.PoolName, err = m.asString("pool_name"); err != nil {
		return req, err
	}
	if req.NumGames, err = m.asInt("num_games"); err != nil {
		return req, err
	}
	if req.MaxPoolSize, err = m.asInt("max_pool_size"); err != nil {
		return req, err
	}
	if req.NumAgents, err = m.asInt("num_agents"); err != nil {
		return req, err
	}
	if req.ExcludeCurrentFromOpponents, err = m.asBool("exclude_current_from_opponents"); err != nil {
		return req, err
	}
	if req.FixedOpponentPool, err = m.asBool("fixed_opponent_pool"); err != nil {
		return req, err
	}
	if req.Repeats, err = m.asInt("repeats"); err != nil {
		return req, err
	}
	if req.ConfigPath, err = m.asString("config_path"); err != nil {
		return req, err
	}
	seed, err := m.asString("seed")
	if err != nil {
		return req, err
	}
	if seed != "" {
		if req.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
			return req, fmt.Errorf("seed: %w", err)
		}
	}

	specs, err := m.asList("space")
	if err != nil {
		return req, err
	}
	for i, raw := range specs {
		sm, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("space[%d]: expected object", i)
		}
		f := fields{sm}
		var spec models.HyperparameterSpec
		var typ string
		if spec.Name, err = f.asString("name"); err != nil {
			return req, err
		}
		if spec.Lower, err = f.asFloat("lower"); err != nil {
			return req, err
		}
		if spec.Upper, err = f.asFloat("upper"); err != nil {
			return req, err
		}
		if spec.Floor, err = f.asFloat("floor"); err != nil {
			return req, err
		}
		if typ, err = f.asString("type"); err != nil {
			return req, err
		}
		spec.Type = models.ParamType(typ)
		req.Space = append(req.Space, spec)
	}

	overrides, err := m.asList("first_batch_overrides")
	if err != nil {
		return req, err
	}
	for i, raw := range overrides {
		v, err := decodeVector(raw)
		if err != nil {
			return req, fmt.Errorf("first_batch_overrides[%d]: %w", i, err)
		}
		req.FirstBatchOverrides = append(req.FirstBatchOverrides, v)
	}

	opponents, err := m.asList("opponent_paths")
	if err != nil {
		return req, err
	}
	for i, raw := range opponents {
		p, ok := raw.(string)
		if !ok {
			return req, fmt.Errorf("opponent_paths[%d]: expected string", i)
		}
		req.OpponentPaths = append(req.OpponentPaths, p)
	}
	return req, nil
}

func encodeResult(res PlayResult) (*structpb.Struct, error) {
	episodes := make([]any, len(res.Episodes))
	for i, ep := range res.Episodes {
		agents := make([]any, len(ep.Agents))
		for j, a := range ep.Agents {
			agents[j] = map[string]any{
				"label":       a.Label,
				"config_path": a.ConfigPath,
				"config":      encodeVector(a.Config),
				"reward":      a.Reward,
			}
		}
		episodes[i] = map[string]any{
			"id":        ep.ID,
			"timestamp": ep.Timestamp.UTC().Format(time.RFC3339Nano),
			"agents":    agents,
		}
	}
	opponents := make([]any, len(res.OpponentRewards))
	for i, o := range res.OpponentRewards {
		opponents[i] = map[string]any{
			"games_played": o.GamesPlayed,
			"total_reward": o.TotalReward,
			"label":        o.Label,
		}
	}
	return newStruct(map[string]any{
		"episodes":           episodes,
		"active_config_path": res.ActiveConfigPath,
		"average_reward":     res.AverageReward,
		"opponent_rewards":   opponents,
	})
}

func decodeResult(s *structpb.Struct) (PlayResult, error) {
	m := fields{s.AsMap()}
	var res PlayResult
	var err error
	if res.ActiveConfigPath, err = m.asString("active_config_path"); err != nil {
		return res, err
	}
	if res.AverageReward, err = m.asFloat("average_reward"); err != nil {
		return res, err
	}

	episodes, err := m.asList("episodes")
	if err != nil {
		return res, err
	}
	for i, raw := range episodes {
		em, ok := raw.(map[string]any)
		if !ok {
			return res, fmt.Errorf("episodes[%d]: expected object", i)
		}
		ep, err := decodeEpisode(fields{em})
		if err != nil {
			return res, fmt.Errorf("episodes[%d]: %w", i, err)
		}
		res.Episodes = append(res.Episodes, ep)
	}

	opponents, err := m.asList("opponent_rewards")
	if err != nil {
		return res, err
	}
	for i, raw := range opponents {
		om, ok := raw.(map[string]any)
		if !ok {
			return res, fmt.Errorf("opponent_rewards[%d]: expected object", i)
		}
		f := fields{om}
		var o models.OpponentReward
		if o.GamesPlayed, err = f.asInt("games_played"); err != nil {
			return res, err
		}
		if o.TotalReward, err = f.asFloat("total_reward"); err != nil {
			return res, err
		}
		if o.Label, err = f.asString("label"); err != nil {
			return res, err
		}
		res.OpponentRewards = append(res.OpponentRewards, o)
	}
	return res, nil
}

func decodeEpisode(f fields) (models.Episode, error) {
	var ep models.Episode
	var err error
	if ep.ID, err = f.asString("id"); err != nil {
		return ep, err
	}
	ts, err := f.asString("timestamp")
	if err != nil {
		return ep, err
	}
	if ts != "" {
		if ep.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return ep, fmt.Errorf("timestamp: %w", err)
		}
	}
	agents, err := f.asList("agents")
	if err != nil {
		return ep, err
	}
	for j, raw := range agents {
		am, ok := raw.(map[string]any)
		if !ok {
			return ep, fmt.Errorf("agents[%d]: expected object", j)
		}
		af := fields{am}
		var a models.AgentResult
		if a.Label, err = af.asString("label"); err != nil {
			return ep, err
		}
		if a.ConfigPath, err = af.asString("config_path"); err != nil {
			return ep, err
		}
		if a.Reward, err = af.asFloat("reward"); err != nil {
			return ep, err
		}
		if cfg, ok := am["config"]; ok && cfg != nil {
			if a.Config, err = decodeVector(cfg); err != nil {
				return ep, fmt.Errorf("agents[%d].config: %w", j, err)
			}
		}
		ep.Agents = append(ep.Agents, a)
	}
	return ep, nil
}

func encodeVector(v models.ConfigVector) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func decodeVector(raw any) (models.ConfigVector, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list of numbers")
	}
	out := make(models.ConfigVector, len(list))
	for i, x := range list {
		f, ok := toFloat(x)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = f
	}
	return out, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

// fields reads typed values out of a Struct's map form. Missing keys yield zero values.
type fields struct {
	m map[string]any
}

func (f fields) asString(key string) (string, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

func (f fields) asFloat(key string) (float64, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return 0, nil
	}
	x, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: expected number, got %T", key, v)
	}
	return x, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		switch x {
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		case "NaN":
			return math.NaN(), true
		}
	}
	return 0, false
}

func (f fields) asInt(key string) (int, error) {
	x, err := f.asFloat(key)
	if err != nil {
		return 0, err
	}
	n := int(x)
	if float64(n) != x {
		return 0, fmt.Errorf("%s: expected integer, got %v", key, x)
	}
	return n, nil
}

func (f fields) asBool(key string) (bool, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected bool, got %T", key, v)
	}
	return b, nil
}

func (f fields) asList(key string) ([]any, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected list, got %T", key, v)
	}
	return l, nil
}

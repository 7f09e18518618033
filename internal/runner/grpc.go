package runner

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
)

// ServiceName is the gRPC service exposing a GameRunner
const ServiceName = "agenttuner.v1.GameRunner"

const playMethod = "/" + ServiceName + "/Play"

// gameRunnerServer is the wire-level handler interface
type gameRunnerServer interface {
	Play(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var gameRunnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*gameRunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Play", Handler: playHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agenttuner/v1/game_runner.proto",
}

func playHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gameRunnerServer).Play(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: playMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(gameRunnerServer).Play(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer exposes impl on s
func RegisterServer(s grpc.ServiceRegistrar, impl GameRunner) {
	s.RegisterService(&gameRunnerServiceDesc, &grpcServer{impl: impl})
}

type grpcServer struct {
	impl GameRunner
}

func (s *grpcServer) Play(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ValidateRequest(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.impl.Play(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		default:
			logger.Error("play failed", "pool", req.PoolName, "games", req.NumGames, "error", err)
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	out, err := encodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	logger.Info("segment played", "pool", req.PoolName, "games", req.NumGames, "avg_reward", res.AverageReward)
	return out, nil
}

// GRPCClient is a GameRunner backed by a remote service
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient creates a client on conn
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// Play sends req and validates the answer
func (c *GRPCClient) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if err := ValidateRequest(req); err != nil {
		return PlayResult{}, err
	}
	in, err := encodeRequest(req)
	if err != nil {
		return PlayResult{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, playMethod, in, out); err != nil {
		return PlayResult{}, fmt.Errorf("remote play: %w", err)
	}
	res, err := decodeResult(out)
	if err != nil {
		return PlayResult{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if err := ValidateResult(req, res); err != nil {
		return PlayResult{}, err
	}
	return res, nil
}

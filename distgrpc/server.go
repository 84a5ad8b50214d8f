package distgrpc

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/gamex/fetch"
	"xdao.co/gamex/internal/logging"
	"xdao.co/gamex/pin"
	"xdao.co/gamex/probe"
	"xdao.co/gamex/upload"
)

// MaxFrameBytes bounds the payload of one Cat message so it stays below
// gRPC's default 4 MiB receive limit whatever the engine's chunk size is.
const MaxFrameBytes = 1 << 20

// TotalHeader carries the advertised content length on Cat streams when the
// daemon reports one.
const TotalHeader = "x-content-length"

// Server exposes probe, fetch, upload and pin over the Dist gRPC service.
type Server struct {
	UnimplementedDistServer

	Prober *probe.Prober
	Fetch  *fetch.Engine
	Upload *upload.Pipeline
	Pins   *pin.Manager

	// ProbeBudget bounds Available and the probe in front of Cat.
	ProbeBudget time.Duration
	// DownloadBudget bounds each Cat; zero is unbounded.
	DownloadBudget time.Duration

	Logger logrus.FieldLogger
}

// NewGRPCServer returns a grpc.Server with s registered.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	RegisterDistServer(gs, s)
	return gs
}

func (s *Server) log() logrus.FieldLogger { return logging.OrDiscard(s.Logger) }

func (s *Server) Available(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Prober == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing prober")
	}
	id, err := identifier(in)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(s.Prober.Check(ctx, id, s.ProbeBudget)), nil
}

func (s *Server) Pin(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if s == nil || s.Pins == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing pin manager")
	}
	id, err := identifier(in)
	if err != nil {
		return nil, err
	}
	if err := s.Pins.Pin(ctx, id); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

// Unpin always succeeds once the request is well formed.
func (s *Server) Unpin(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if s == nil || s.Pins == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing pin manager")
	}
	id, err := identifier(in)
	if err != nil {
		return nil, err
	}
	s.Pins.Unpin(ctx, id)
	return &emptypb.Empty{}, nil
}

func (s *Server) Add(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Upload == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing upload pipeline")
	}
	res, err := s.Upload.Small(ctx, in.GetValue(), "")
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(res.Identifier), nil
}

func (s *Server) AddJSON(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	if s == nil || s.Upload == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing upload pipeline")
	}
	res, err := s.Upload.JSON(ctx, in.AsMap(), "")
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(res.Identifier), nil
}

// Cat probes first and streams the content in the engine's chunk size,
// split into frames of at most MaxFrameBytes.
func (s *Server) Cat(in *wrapperspb.StringValue, stream Dist_CatServer) error {
	if s == nil || s.Fetch == nil {
		return status.Error(codes.FailedPrecondition, "missing fetch engine")
	}
	id, err := identifier(in)
	if err != nil {
		return err
	}
	first := true
	err = s.Fetch.StreamChecked(stream.Context(), id, func(chunk []byte, loaded, total uint64) error {
		if first {
			first = false
			if total > 0 {
				if err := stream.SetHeader(metadata.Pairs(TotalHeader, strconv.FormatUint(total, 10))); err != nil {
					return err
				}
			}
		}
		for len(chunk) > 0 {
			n := min(len(chunk), MaxFrameBytes)
			if err := stream.Send(wrapperspb.Bytes(chunk[:n])); err != nil {
				return err
			}
			chunk = chunk[n:]
		}
		return nil
	}, s.ProbeBudget, s.DownloadBudget)
	if err != nil {
		s.log().WithField("cid", id).WithError(err).Debug("cat failed")
		return mapErr(err)
	}
	return nil
}

func identifier(in *wrapperspb.StringValue) (string, error) {
	if in.GetValue() == "" {
		return "", status.Error(codes.InvalidArgument, "empty identifier")
	}
	return in.GetValue(), nil
}

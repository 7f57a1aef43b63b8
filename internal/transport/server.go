package transport

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server answers producer requests from a Source
type Server struct {
	source Source
	logger *slog.Logger
}

var _ ProducerServer = (*Server)(nil)

// NewServer creates a producer server
func NewServer(source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{source: source, logger: logger}
}

// Register adds the producer service to a gRPC server
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	RegisterProducerServer(reg, s)
}

// FetchSegment returns the requested segment
func (s *Server) FetchSegment(ctx context.Context, msg *structpb.Struct) (*wrapperspb.BytesValue, error) {
	req, err := decodeRequest(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	data, err := s.source.Segment(ctx, req.producer, req.stream, req.seq)
	switch {
	case err == nil:
	case errors.Is(err, ErrSegmentNotFound):
		return nil, status.Errorf(codes.NotFound, "no segment %d of %s%s", req.seq, req.producer, req.stream)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		s.logger.Error("Failed to read segment",
			"producer", req.producer.String(),
			"stream", req.stream.String(),
			"seq", req.seq,
			"error", err,
		)
		return nil, status.Error(codes.Internal, "failed to read segment")
	}

	s.logger.Debug("Serving segment",
		"producer", req.producer.String(),
		"stream", req.stream.String(),
		"seq", req.seq,
		"size", len(data),
	)
	return wrapperspb.Bytes(data), nil
}

// SegmentCount reports how many segments a stream has, when the source knows
func (s *Server) SegmentCount(ctx context.Context, msg *structpb.Struct) (*wrapperspb.Int64Value, error) {
	producer, stream, err := decodeStreamRequest(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	counter, ok := s.source.(Counter)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "source cannot count segments")
	}
	n, err := counter.SegmentCount(ctx, producer, stream)
	switch {
	case err == nil:
	case errors.Is(err, ErrSegmentNotFound):
		return nil, status.Errorf(codes.NotFound, "no stream %s%s", producer, stream)
	case errors.Is(err, ErrCountUnavailable):
		return nil, status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		s.logger.Error("Failed to count segments",
			"producer", producer.String(),
			"stream", stream.String(),
			"error", err,
		)
		return nil, status.Error(codes.Internal, "failed to count segments")
	}
	return wrapperspb.Int64(n), nil
}

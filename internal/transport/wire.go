// Package transport carries fetch requests to a producer over gRPC.
//
// The producer exposes two unary methods. FetchSegment requests travel as a
// google.protobuf.Struct naming the producer, stream, sequence number and
// optional forwarding hint; responses are a google.protobuf.BytesValue
// holding the segment payload. SegmentCount takes the producer and stream
// and answers with a google.protobuf.Int64Value, for producers that know
// where a stream ends.
package transport

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

const (
	serviceName        = "segfetch.v1.Producer"
	fetchSegmentMethod = "/" + serviceName + "/FetchSegment"
	segmentCountMethod = "/" + serviceName + "/SegmentCount"
)

// Request field names
const (
	fieldProducer = "producer"
	fieldStream   = "stream"
	fieldSeq      = "seq"
	fieldHint     = "forwarding_hint"
)

// maxExactSeq is the largest sequence number a protobuf double holds exactly
const maxExactSeq = fetch.MaxSequence

// ProducerServer is the server API for the producer service
type ProducerServer interface {
	FetchSegment(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error)
	SegmentCount(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error)
}

// RegisterProducerServer registers srv with a gRPC service registrar
func RegisterProducerServer(s grpc.ServiceRegistrar, srv ProducerServer) {
	s.RegisterService(&producerServiceDesc, srv)
}

func fetchSegmentHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProducerServer).FetchSegment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fetchSegmentMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProducerServer).FetchSegment(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func segmentCountHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProducerServer).SegmentCount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: segmentCountMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProducerServer).SegmentCount(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var producerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProducerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchSegment",
			Handler:    fetchSegmentHandler,
		},
		{
			MethodName: "SegmentCount",
			Handler:    segmentCountHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segfetch/v1/producer",
}

// segmentRequest is the decoded form of a FetchSegment request
type segmentRequest struct {
	producer fetch.Name
	stream   fetch.Name
	hint     fetch.Name
	seq      int64
}

func encodeRequest(req fetch.Request) (*structpb.Struct, error) {
	if req.Seq < 0 || req.Seq > maxExactSeq {
		return nil, fmt.Errorf("sequence number %d out of range", req.Seq)
	}
	fields := map[string]any{
		fieldProducer: req.Producer.String(),
		fieldStream:   req.Stream.String(),
		fieldSeq:      req.Seq,
	}
	if !req.ForwardingHint.IsEmpty() {
		fields[fieldHint] = req.ForwardingHint.String()
	}
	return structpb.NewStruct(fields)
}

func encodeStreamRequest(producer, stream fetch.Name) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldProducer: producer.String(),
		fieldStream:   stream.String(),
	})
}

// decodeStreamRequest reads the producer and stream names of any request
func decodeStreamRequest(msg *structpb.Struct) (producer, stream fetch.Name, err error) {
	fields := msg.GetFields()
	if producer, err = fetch.ParseName(fields[fieldProducer].GetStringValue()); err != nil {
		return "", "", fmt.Errorf("producer: %w", err)
	}
	if stream, err = fetch.ParseName(fields[fieldStream].GetStringValue()); err != nil {
		return "", "", fmt.Errorf("stream: %w", err)
	}
	return producer, stream, nil
}

func decodeRequest(msg *structpb.Struct) (segmentRequest, error) {
	var out segmentRequest
	fields := msg.GetFields()

	producer, stream, err := decodeStreamRequest(msg)
	if err != nil {
		return out, err
	}
	if h := fields[fieldHint].GetStringValue(); h != "" {
		if out.hint, err = fetch.ParseName(h); err != nil {
			return out, fmt.Errorf("forwarding hint: %w", err)
		}
	}

	v, ok := fields[fieldSeq]
	if !ok {
		return out, fmt.Errorf("seq is required")
	}
	num, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return out, fmt.Errorf("seq must be a number")
	}
	seq := num.NumberValue
	if seq < 0 || seq > maxExactSeq || seq != math.Trunc(seq) {
		return out, fmt.Errorf("seq %v is not a valid sequence number", seq)
	}

	out.producer = producer
	out.stream = stream
	out.seq = int64(seq)
	return out, nil
}

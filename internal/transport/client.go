package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

// Client sends fetch requests to one producer over gRPC.
// It implements fetch.Transport.
type Client struct {
	conn   *grpc.ClientConn
	owned  bool
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ fetch.Transport = (*Client)(nil)

// Dial creates a client for the producer at addr. dialTimeout bounds each
// connection attempt; zero keeps the gRPC default.
func Dial(addr string, dialTimeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if dialTimeout > 0 {
		dialOpts = append(dialOpts, grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: dialTimeout,
		}))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}
	c := NewClient(conn, logger)
	c.owned = true
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn *grpc.ClientConn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send issues req asynchronously. A response within req.Lifetime calls
// onData; anything else calls onTimeout once the lifetime has elapsed, so
// an error reply looks to the caller exactly like silence.
func (c *Client) Send(req fetch.Request, onData func([]byte), onTimeout func()) {
	msg, err := encodeRequest(req)
	if err != nil {
		c.logger.Warn("Dropping unencodable request", "seq", req.Seq, "error", err)
		go onTimeout()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go onTimeout()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, req.Lifetime)
		defer cancel()

		out := new(wrapperspb.BytesValue)
		if err := c.conn.Invoke(ctx, fetchSegmentMethod, msg, out); err != nil {
			c.logger.Debug("Segment request failed",
				"producer", req.Producer.String(),
				"stream", req.Stream.String(),
				"seq", req.Seq,
				"code", status.Code(err).String(),
			)
			<-ctx.Done()
			onTimeout()
			return
		}
		onData(out.GetValue())
	}()
}

// SegmentCount asks the producer how many segments a stream has. Producers
// that cannot tell answer with codes.Unimplemented.
func (c *Client) SegmentCount(ctx context.Context, producer, stream fetch.Name) (int64, error) {
	msg, err := encodeStreamRequest(producer, stream)
	if err != nil {
		return 0, err
	}
	out := new(wrapperspb.Int64Value)
	if err := c.conn.Invoke(ctx, segmentCountMethod, msg, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Close cancels in-flight requests, which resolve as timeouts, and waits for
// their callbacks to return.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.owned {
		return c.conn.Close()
	}
	return nil
}

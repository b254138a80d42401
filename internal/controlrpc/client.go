package controlrpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// conn is the client side shared by every control service
type conn struct {
	cc      *grpc.ClientConn
	target  string
	timeout time.Duration
}

func dial(target string, config Config) (*conn, error) {
	config.SetDefaults()
	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial control endpoint %s: %w", target, err)
	}
	return &conn{cc: cc, target: target, timeout: config.CallTimeout}, nil
}

func (c *conn) invoke(ctx context.Context, method string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.cc.Invoke(ctx, method, in, out)
}

// Target returns the address the client was dialed with
func (c *conn) Target() string {
	return c.target
}

// Healthy reports whether the remote control server answers SERVING
func (c *conn) Healthy(ctx context.Context) (bool, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close releases the underlying connection
func (c *conn) Close() error {
	return c.cc.Close()
}

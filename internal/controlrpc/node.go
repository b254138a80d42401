package controlrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/FelipeJared/mechOS/pkg/directive"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeServiceName is the gRPC service the broker pushes directives to
const NodeServiceName = "mechos.control.v1.Node"

// ErrDirectiveRejected is returned when a node answers a directive with ok=false
var ErrDirectiveRejected = errors.New("directive rejected by node")

// NodeServer is implemented by a node's control endpoint
type NodeServer interface {
	Dispatch(ctx context.Context, req *DispatchRequest) (*BoolReply, error)
}

// RegisterNodeServer attaches srv to a gRPC registrar
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&nodeServiceDesc, srv)
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: NodeServiceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler: unary(NodeServiceName, "Dispatch", func(srv any, ctx context.Context, req *DispatchRequest) (*BoolReply, error) {
				return srv.(NodeServer).Dispatch(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mechos/control/v1/node",
}

// HandlerServer exposes a directive.Handler as a NodeServer. Envelopes that
// do not decode are InvalidArgument; handler errors carry their gRPC status
// when they have one and Unknown otherwise.
type HandlerServer struct {
	Handler directive.Handler
}

var _ NodeServer = HandlerServer{}

// Dispatch decodes the envelope and runs the handler
func (h HandlerServer) Dispatch(ctx context.Context, req *DispatchRequest) (*BoolReply, error) {
	d, err := req.Directive.Unwrap()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := h.Handler.Handle(ctx, d); err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Unknown, err.Error())
	}
	return &BoolReply{OK: true}, nil
}

// NodeClient is the broker's handle on one node's control endpoint
type NodeClient struct {
	*conn
}

// DialNode creates a client for the node control endpoint at target
func DialNode(target string, config Config) (*NodeClient, error) {
	c, err := dial(target, config)
	if err != nil {
		return nil, err
	}
	return &NodeClient{conn: c}, nil
}

// Send delivers one directive and waits for the node to execute it
func (c *NodeClient) Send(ctx context.Context, d directive.Directive) error {
	in := &DispatchRequest{Directive: directive.Wrap(d)}
	out := new(BoolReply)
	if err := c.invoke(ctx, fullMethod(NodeServiceName, "Dispatch"), in, out); err != nil {
		return fmt.Errorf("%s to %s: %w", d.Kind(), c.Target(), err)
	}
	if !out.OK {
		return fmt.Errorf("%s to %s: %w", d.Kind(), c.Target(), ErrDirectiveRejected)
	}
	return nil
}

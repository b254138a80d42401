package controlrpc

import (
	"context"

	"github.com/FelipeJared/mechOS/pkg/mechos"
	"google.golang.org/grpc"
)

// BrokerServiceName is the gRPC service nodes call to register
const BrokerServiceName = "mechos.control.v1.Broker"

// BrokerServer is implemented by the broker's registry service
type BrokerServer interface {
	RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*BoolReply, error)
	UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) (*BoolReply, error)
	RegisterPublisher(ctx context.Context, req *RegisterEntityRequest) (*BoolReply, error)
	RegisterSubscriber(ctx context.Context, req *RegisterEntityRequest) (*BoolReply, error)
}

// RegisterBrokerServer attaches srv to a gRPC registrar
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&brokerServiceDesc, srv)
}

var brokerServiceDesc = grpc.ServiceDesc{
	ServiceName: BrokerServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterNode",
			Handler: unary(BrokerServiceName, "RegisterNode", func(srv any, ctx context.Context, req *RegisterNodeRequest) (*BoolReply, error) {
				return srv.(BrokerServer).RegisterNode(ctx, req)
			}),
		},
		{
			MethodName: "UnregisterNode",
			Handler: unary(BrokerServiceName, "UnregisterNode", func(srv any, ctx context.Context, req *UnregisterNodeRequest) (*BoolReply, error) {
				return srv.(BrokerServer).UnregisterNode(ctx, req)
			}),
		},
		{
			MethodName: "RegisterPublisher",
			Handler: unary(BrokerServiceName, "RegisterPublisher", func(srv any, ctx context.Context, req *RegisterEntityRequest) (*BoolReply, error) {
				return srv.(BrokerServer).RegisterPublisher(ctx, req)
			}),
		},
		{
			MethodName: "RegisterSubscriber",
			Handler: unary(BrokerServiceName, "RegisterSubscriber", func(srv any, ctx context.Context, req *RegisterEntityRequest) (*BoolReply, error) {
				return srv.(BrokerServer).RegisterSubscriber(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mechos/control/v1/broker",
}

// BrokerClient is a node's handle on the broker
type BrokerClient struct {
	*conn
}

// DialBroker creates a client for the broker at target. No I/O happens until the first call.
func DialBroker(target string, config Config) (*BrokerClient, error) {
	c, err := dial(target, config)
	if err != nil {
		return nil, err
	}
	return &BrokerClient{conn: c}, nil
}

// RegisterNode announces a node. false means the name is already taken.
func (c *BrokerClient) RegisterNode(ctx context.Context, name string, pid int, control mechos.Endpoint) (bool, error) {
	in := &RegisterNodeRequest{Name: name, PID: pid, Host: control.Host, Port: control.Port}
	return c.boolCall(ctx, "RegisterNode", in)
}

// UnregisterNode tears down a node and everything it owns
func (c *BrokerClient) UnregisterNode(ctx context.Context, name string) (bool, error) {
	return c.boolCall(ctx, "UnregisterNode", &UnregisterNodeRequest{Name: name})
}

// RegisterPublisher announces a publisher owned by node
func (c *BrokerClient) RegisterPublisher(ctx context.Context, node string, info mechos.EntityInfo) (bool, error) {
	return c.boolCall(ctx, "RegisterPublisher", newRegisterEntityRequest(node, info))
}

// RegisterSubscriber announces a subscriber owned by node
func (c *BrokerClient) RegisterSubscriber(ctx context.Context, node string, info mechos.EntityInfo) (bool, error) {
	return c.boolCall(ctx, "RegisterSubscriber", newRegisterEntityRequest(node, info))
}

func (c *BrokerClient) boolCall(ctx context.Context, method string, in any) (bool, error) {
	out := new(BoolReply)
	if err := c.invoke(ctx, fullMethod(BrokerServiceName, method), in, out); err != nil {
		return false, err
	}
	return out.OK, nil
}

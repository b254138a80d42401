package broker

import (
	"context"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service exposes a Broker as the control RPC broker service
type Service struct {
	Broker *Broker
}

var _ controlrpc.BrokerServer = (*Service)(nil)

// RegisterNode implements controlrpc.BrokerServer
func (s *Service) RegisterNode(_ context.Context, req *controlrpc.RegisterNodeRequest) (*controlrpc.BoolReply, error) {
	return reply(s.Broker.RegisterNode(req.Name, req.PID, req.Endpoint())), nil
}

// UnregisterNode implements controlrpc.BrokerServer
func (s *Service) UnregisterNode(ctx context.Context, req *controlrpc.UnregisterNodeRequest) (*controlrpc.BoolReply, error) {
	return reply(s.Broker.UnregisterNode(ctx, req.Name)), nil
}

// RegisterPublisher implements controlrpc.BrokerServer
func (s *Service) RegisterPublisher(ctx context.Context, req *controlrpc.RegisterEntityRequest) (*controlrpc.BoolReply, error) {
	if err := checkProtocol(req); err != nil {
		return nil, err
	}
	return reply(s.Broker.RegisterPublisher(ctx, req.Node, req.Info())), nil
}

// RegisterSubscriber implements controlrpc.BrokerServer
func (s *Service) RegisterSubscriber(ctx context.Context, req *controlrpc.RegisterEntityRequest) (*controlrpc.BoolReply, error) {
	if err := checkProtocol(req); err != nil {
		return nil, err
	}
	return reply(s.Broker.RegisterSubscriber(ctx, req.Node, req.Info())), nil
}

// checkProtocol normalizes the protocol name and rejects unknown ones
func checkProtocol(req *controlrpc.RegisterEntityRequest) error {
	p, err := mechos.ParseProtocol(string(req.Protocol))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	req.Protocol = p
	return nil
}

func reply(ok bool) *controlrpc.BoolReply {
	return &controlrpc.BoolReply{OK: ok}
}

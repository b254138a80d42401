package paramstore

import (
	"context"
	"errors"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service exposes a Store over the control RPC transport
type Service struct {
	Store *Store
}

var _ controlrpc.ParamServer = (*Service)(nil)

// UseParameterDatabase implements controlrpc.ParamServer
func (s *Service) UseParameterDatabase(_ context.Context, req *controlrpc.UseDatabaseRequest) (*controlrpc.BoolReply, error) {
	if err := s.Store.UseDatabase(req.Path); err != nil {
		return nil, toStatus(err)
	}
	return &controlrpc.BoolReply{OK: true}, nil
}

// SetParam implements controlrpc.ParamServer
func (s *Service) SetParam(_ context.Context, req *controlrpc.SetParamRequest) (*controlrpc.BoolReply, error) {
	if err := s.Store.Set(req.Path, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &controlrpc.BoolReply{OK: true}, nil
}

// GetParam implements controlrpc.ParamServer. A missing path is found=false, not an error.
func (s *Service) GetParam(_ context.Context, req *controlrpc.GetParamRequest) (*controlrpc.GetParamReply, error) {
	value, err := s.Store.Get(req.Path)
	if errors.Is(err, ErrNotFound) {
		return &controlrpc.GetParamReply{}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &controlrpc.GetParamReply{Value: value, Found: true}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNoDatabase), errors.Is(err, ErrNotLeaf), errors.Is(err, ErrNotMapping), errors.Is(err, ErrMalformed):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

package controlrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

var (
	// ErrServerStarted is returned by Start on a running server
	ErrServerStarted = errors.New("control server already started")
	// ErrServerStopped is returned by Start after Stop
	ErrServerStopped = errors.New("control server stopped")
)

// Server hosts control services over gRPC with the JSON codec and the
// standard health service.
type Server struct {
	config   Config
	logger   *zap.Logger
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewServer creates a control server. Services are registered on it before Start.
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		logger: logger,
		health: health.NewServer(),
	}
	s.grpc = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.loggingInterceptor),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

// RegisterService implements grpc.ServiceRegistrar
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.grpc.RegisterService(desc, impl)
}

var _ grpc.ServiceRegistrar = (*Server)(nil)

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.started {
		return ErrServerStarted
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener
	s.started = true

	go func() {
		if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("Control server stopped", zap.Error(err))
		}
	}()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("Control server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, zero before Start
func (s *Server) Addr() mechos.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return mechos.Endpoint{}
	}
	ep, err := mechos.EndpointFromAddr(s.listener.Addr())
	if err != nil {
		return mechos.Endpoint{}
	}
	return ep
}

// Stop drains in-flight calls until ctx is done, then closes hard. Safe to call repeatedly.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.health.Shutdown()
	if !started {
		s.grpc.Stop()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	s.logger.Debug("Control call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return resp, err
}

func (s *Server) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in control call",
				zap.String("method", info.FullMethod),
				zap.Any("panic", r),
			)
			err = status.Errorf(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/FelipeJared/mechOS/internal/paramstore"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server hosts a Broker and the parameter store on one control endpoint
type Server struct {
	config  Config
	logger  *zap.Logger
	broker  *Broker
	params  *paramstore.Store
	control *controlrpc.Server

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewServer builds the broker, the parameter store, and the control server.
// Options are applied to the Broker.
func NewServer(config Config, opts ...Option) (*Server, error) {
	config.SetDefaults()

	b, err := New(config, opts...)
	if err != nil {
		return nil, err
	}

	control, err := controlrpc.NewServer(controlrpc.Config{
		ListenAddress:  config.ListenAddress,
		CallTimeout:    config.DirectiveTimeout,
		MaxMessageSize: config.MaxMessageSize,
	}, b.logger.Named("control"))
	if err != nil {
		return nil, fmt.Errorf("failed to create control server: %w", err)
	}

	params := paramstore.New()
	controlrpc.RegisterBrokerServer(control, &Service{Broker: b})
	controlrpc.RegisterParamServer(control, &paramstore.Service{Store: params})

	return &Server{
		config:  config,
		logger:  b.logger,
		broker:  b,
		params:  params,
		control: control,
	}, nil
}

// Start selects the configured parameter database and begins serving
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("cannot start stopped broker server")
	}
	if s.started {
		return nil
	}

	if s.config.ParamDatabase != "" {
		if err := s.params.UseDatabase(s.config.ParamDatabase); err != nil {
			return fmt.Errorf("failed to open parameter database: %w", err)
		}
	}
	if err := s.control.Start(ctx); err != nil {
		return err
	}
	s.started = true

	s.logger.Info("Broker started",
		zap.Stringer("address", s.control.Addr()),
		zap.String("param_database", s.config.ParamDatabase),
	)
	return nil
}

// Stop unregisters every node, then stops the control server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	err := s.broker.Close(ctx)
	err = multierr.Append(err, s.control.Stop(ctx))

	s.logger.Info("Broker stopped")
	return err
}

// Addr returns the bound control address
func (s *Server) Addr() mechos.Endpoint {
	return s.control.Addr()
}

// Broker returns the hosted broker
func (s *Server) Broker() *Broker {
	return s.broker
}

// Params returns the hosted parameter store
func (s *Server) Params() *paramstore.Store {
	return s.params
}

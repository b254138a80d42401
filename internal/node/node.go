package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/FelipeJared/mechOS/pkg/codec"
	"github.com/FelipeJared/mechOS/pkg/directive"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateName is returned by Start when the broker already has a node of this name
	ErrDuplicateName = errors.New("node name already registered with broker")
	// ErrRegistrationRejected is returned when the broker refuses a publisher or subscriber
	ErrRegistrationRejected = errors.New("registration rejected by broker")
	// ErrNotStarted is returned when creating entities before Start
	ErrNotStarted = errors.New("node not started")
	// ErrNodeClosed is returned after Close
	ErrNodeClosed = errors.New("node closed")
	// ErrUnknownEntity is returned for directives naming a publisher or subscriber this node does not own
	ErrUnknownEntity = errors.New("unknown publisher or subscriber")
)

// Option configures a Node
type Option func(*Node)

// WithLogger sets the node logger
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics records data-plane counters on m
func WithMetrics(m *metrics.Node) Option {
	return func(n *Node) { n.metrics = m }
}

// WithKillFunc replaces what a KillNode directive does. The default sends
// SIGTERM to the current process.
func WithKillFunc(kill func() error) Option {
	return func(n *Node) {
		if kill != nil {
			n.kill = kill
		}
	}
}

// Node is one process's attachment to the broker. It serves the control
// endpoint the broker pushes directives to, and owns its publishers and
// subscribers, keyed by id.
//
// The node lock is never held across a call to the broker, since the broker
// calls back into this node while handling registrations.
type Node struct {
	config  Config
	logger  *zap.Logger
	metrics *metrics.Node
	kill    func() error

	server *controlrpc.Server
	broker *controlrpc.BrokerClient
	params *controlrpc.ParamClient

	mu          sync.RWMutex
	publishers  map[string]*Publisher
	subscribers map[string]*Subscriber
	started     bool
	closed      bool
}

var _ directive.Handler = (*Node)(nil)

// New creates a node. Call Start to register it with the broker.
func New(config Config, opts ...Option) (*Node, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config:      config,
		logger:      zap.NewNop(),
		kill:        terminateSelf,
		publishers:  make(map[string]*Publisher),
		subscribers: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(zap.String("node", config.Name))
	return n, nil
}

func terminateSelf() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

// Name returns the node name
func (n *Node) Name() string {
	return n.config.Name
}

// Start opens the control endpoint on Host:0 and registers the node with
// the broker. A duplicate name returns ErrDuplicateName; the node is then
// unusable and the caller should exit.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNodeClosed
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}

	rpcConfig := controlrpc.Config{
		ListenAddress: net.JoinHostPort(n.config.Host, "0"),
		CallTimeout:   n.config.CallTimeout,
	}
	server, err := controlrpc.NewServer(rpcConfig, n.logger.Named("control"))
	if err != nil {
		n.mu.Unlock()
		return err
	}
	controlrpc.RegisterNodeServer(server, controlrpc.HandlerServer{Handler: n})
	if err := server.Start(ctx); err != nil {
		n.mu.Unlock()
		return err
	}

	broker, err := controlrpc.DialBroker(n.config.BrokerAddress, rpcConfig)
	if err != nil {
		n.mu.Unlock()
		return multierr.Append(err, server.Stop(ctx))
	}
	params, err := controlrpc.DialParams(n.config.BrokerAddress, rpcConfig)
	if err != nil {
		n.mu.Unlock()
		return multierr.Combine(err, broker.Close(), server.Stop(ctx))
	}
	n.server = server
	n.broker = broker
	n.params = params
	n.mu.Unlock()

	control := mechos.Endpoint{Host: n.config.Host, Port: server.Addr().Port}
	ok, err := broker.RegisterNode(ctx, n.config.Name, os.Getpid(), control)
	if err == nil && !ok {
		err = ErrDuplicateName
	}
	if err != nil {
		n.logger.Error("Node registration failed", zap.Error(err))
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		return multierr.Combine(
			fmt.Errorf("register node %q: %w", n.config.Name, err),
			params.Close(),
			broker.Close(),
			server.Stop(ctx),
		)
	}

	n.mu.Lock()
	n.started = true
	n.mu.Unlock()

	n.logger.Info("Node registered", zap.Stringer("control", control), zap.String("broker", n.config.BrokerAddress))
	return nil
}

// ControlAddr returns the control endpoint advertised to the broker
func (n *Node) ControlAddr() mechos.Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.server == nil {
		return mechos.Endpoint{}
	}
	return mechos.Endpoint{Host: n.config.Host, Port: n.server.Addr().Port}
}

// Params returns a client for the parameter store hosted by the broker
func (n *Node) Params() (*controlrpc.ParamClient, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.params == nil {
		return nil, ErrNotStarted
	}
	return n.params, nil
}

func (n *Node) checkRunning() error {
	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return nil
}

// CreatePublisher binds a data socket for topic and registers it with the
// broker, which then attaches every matching subscriber.
func (n *Node) CreatePublisher(ctx context.Context, topic string, format codec.Format, opts PublisherOptions) (*Publisher, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if err := codec.Validate(format); err != nil {
		return nil, err
	}
	protocol, host, queueSize, err := n.entityDefaults(opts.Protocol, opts.Host, opts.QueueSize)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if err := n.checkRunning(); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	pub, err := newPublisher(topic, format, protocol, host, queueSize, n.timeouts(), n.logger, n.metrics)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.publishers[pub.ID()] = pub
	n.mu.Unlock()

	ok, err := n.broker.RegisterPublisher(ctx, n.config.Name, pub.Info())
	if err == nil && !ok {
		err = ErrRegistrationRejected
	}
	if err != nil {
		n.mu.Lock()
		delete(n.publishers, pub.ID())
		n.mu.Unlock()
		return nil, multierr.Append(fmt.Errorf("register publisher on %q: %w", topic, err), pub.Close())
	}

	n.logger.Info("Publisher created",
		zap.String("id", pub.ID()),
		zap.String("topic", topic),
		zap.Stringer("protocol", protocol),
		zap.Stringer("address", pub.Endpoint()),
	)
	return pub, nil
}

// CreateSubscriber binds (UDP) or reserves (TCP) a data address for topic
// and registers it with the broker, which then attaches every matching
// publisher. Messages reach callback only from SpinOnce.
func (n *Node) CreateSubscriber(ctx context.Context, topic string, format codec.Format, callback Callback, opts SubscriberOptions) (*Subscriber, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if err := codec.Validate(format); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, errors.New("callback cannot be nil")
	}
	protocol, host, queueSize, err := n.entityDefaults(opts.Protocol, opts.Host, opts.QueueSize)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if err := n.checkRunning(); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	sub, err := newSubscriber(topic, format, callback, protocol, host, queueSize, n.timeouts(), n.logger, n.metrics)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.subscribers[sub.ID()] = sub
	n.mu.Unlock()

	ok, err := n.broker.RegisterSubscriber(ctx, n.config.Name, sub.Info())
	if err == nil && !ok {
		err = ErrRegistrationRejected
	}
	if err != nil {
		n.mu.Lock()
		delete(n.subscribers, sub.ID())
		n.mu.Unlock()
		return nil, multierr.Append(fmt.Errorf("register subscriber on %q: %w", topic, err), sub.Close())
	}

	n.logger.Info("Subscriber created",
		zap.String("id", sub.ID()),
		zap.String("topic", topic),
		zap.Stringer("protocol", protocol),
		zap.Stringer("address", sub.Endpoint()),
	)
	return sub, nil
}

func (n *Node) entityDefaults(protocol mechos.Protocol, host string, queueSize int) (mechos.Protocol, string, int, error) {
	if protocol == "" {
		protocol = mechos.TCP
	}
	p, err := mechos.ParseProtocol(string(protocol))
	if err != nil {
		return "", "", 0, err
	}
	if host == "" {
		host = n.config.Host
	}
	if queueSize <= 0 {
		queueSize = n.config.QueueSize
	}
	return p, host, queueSize, nil
}

func (n *Node) timeouts() timeouts {
	return timeouts{handshake: n.config.HandshakeTimeout, send: n.config.SendTimeout}
}

// Publisher returns an owned publisher by id
func (n *Node) Publisher(id string) (*Publisher, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.publishers[id]
	return p, ok
}

// Subscriber returns an owned subscriber by id
func (n *Node) Subscriber(id string) (*Subscriber, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.subscribers[id]
	return s, ok
}

// SpinOnce polls every subscriber once, invoking callbacks synchronously,
// and returns the number of messages delivered. Nothing is delivered
// between calls.
func (n *Node) SpinOnce() int {
	n.mu.RLock()
	subs := make([]*Subscriber, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })

	delivered := 0
	for _, s := range subs {
		delivered += s.spinOnce()
	}
	return delivered
}

// Spin calls SpinOnce every interval until ctx is done
func (n *Node) Spin(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n.SpinOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Handle executes one directive from the broker
func (n *Node) Handle(ctx context.Context, d directive.Directive) error {
	n.logger.Debug("Directive received", zap.String("kind", string(d.Kind())))

	switch d := d.(type) {
	case directive.UpdatePublisher:
		p, ok := n.Publisher(d.PublisherID)
		if !ok {
			return fmt.Errorf("%w: publisher %s", ErrUnknownEntity, d.PublisherID)
		}
		return p.attach(d.SubscriberID, d.Subscriber)

	case directive.UpdateSubscriber:
		s, ok := n.Subscriber(d.SubscriberID)
		if !ok {
			return fmt.Errorf("%w: subscriber %s", ErrUnknownEntity, d.SubscriberID)
		}
		return s.attach(ctx, d.PublisherID, d.Publisher)

	case directive.KillPublisher:
		n.mu.Lock()
		p, ok := n.publishers[d.PublisherID]
		delete(n.publishers, d.PublisherID)
		n.mu.Unlock()
		if !ok {
			return nil
		}
		n.logger.Info("Publisher killed", zap.String("id", d.PublisherID))
		return p.Close()

	case directive.KillSubscriber:
		n.mu.Lock()
		s, ok := n.subscribers[d.SubscriberID]
		delete(n.subscribers, d.SubscriberID)
		n.mu.Unlock()
		if !ok {
			return nil
		}
		n.logger.Info("Subscriber killed", zap.String("id", d.SubscriberID))
		return s.Close()

	case directive.KillPublisherConnection:
		n.mu.RLock()
		defer n.mu.RUnlock()
		for _, p := range n.publishers {
			p.detach(d.SubscriberID)
		}
		return nil

	case directive.KillSubscriberConnection:
		n.mu.RLock()
		defer n.mu.RUnlock()
		for _, s := range n.subscribers {
			s.detach(d.PublisherID)
		}
		return nil

	case directive.KillNode:
		n.logger.Warn("Kill requested by broker")
		return n.kill()

	default:
		return fmt.Errorf("%w: %T", directive.ErrUnknownKind, d)
	}
}

// Close unregisters the node from the broker, stops the control endpoint,
// and closes every remaining publisher and subscriber. The broker's answer
// to the unregistration is not awaited beyond ctx. Safe to call repeatedly.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	if started {
		if _, err := n.broker.UnregisterNode(ctx, n.config.Name); err != nil {
			n.logger.Warn("Unregister from broker failed", zap.Error(err))
		}
	}

	var err error
	if n.server != nil {
		err = multierr.Append(err, n.server.Stop(ctx))
	}

	n.mu.Lock()
	pubs := n.publishers
	subs := n.subscribers
	n.publishers = make(map[string]*Publisher)
	n.subscribers = make(map[string]*Subscriber)
	n.mu.Unlock()

	for _, p := range pubs {
		err = multierr.Append(err, p.Close())
	}
	for _, s := range subs {
		err = multierr.Append(err, s.Close())
	}
	if n.params != nil {
		err = multierr.Append(err, n.params.Close())
	}
	if n.broker != nil {
		err = multierr.Append(err, n.broker.Close())
	}

	n.logger.Info("Node closed")
	return err
}

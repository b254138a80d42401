package broker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/FelipeJared/mechOS/pkg/directive"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dispatcher delivers directives to one node's control endpoint
type Dispatcher interface {
	Send(ctx context.Context, d directive.Directive) error
	Close() error
}

// DialFunc opens a Dispatcher for the node control endpoint at control
type DialFunc func(control mechos.Endpoint) (Dispatcher, error)

// Terminator ends the process of an unregistered node
type Terminator func(pid int) error

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the broker logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records registrations and directives on m
func WithMetrics(m *metrics.Broker) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithDialer replaces the gRPC node client factory
func WithDialer(dial DialFunc) Option {
	return func(b *Broker) {
		if dial != nil {
			b.dial = dial
		}
	}
}

// WithTerminator replaces the SIGTERM process terminator
func WithTerminator(t Terminator) Option {
	return func(b *Broker) {
		if t != nil {
			b.terminate = t
		}
	}
}

// Health is the broker's view of itself
type Health struct {
	Healthy     bool          `json:"healthy"`
	Nodes       int           `json:"nodes"`
	Publishers  int           `json:"publishers"`
	Subscribers int           `json:"subscribers"`
	Uptime      time.Duration `json:"uptime"`
}

// Broker is the registry and matcher. It owns every node's addressing
// metadata and a control client per node, and is the only writer of both.
//
// Each handler holds the broker lock from start to finish, including the
// directive fan-out, so handlers are serialized in arrival order.
type Broker struct {
	config    Config
	logger    *zap.Logger
	metrics   *metrics.Broker
	dial      DialFunc
	terminate Terminator
	self      int

	mu       sync.Mutex
	registry *registry
	clients  map[string]Dispatcher
	closed   bool
	started  time.Time
}

// New creates a broker with an empty registry
func New(config Config, opts ...Option) (*Broker, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Broker{
		config:    config,
		logger:    zap.NewNop(),
		terminate: signalTerminate,
		self:      os.Getpid(),
		registry:  newRegistry(),
		clients:   make(map[string]Dispatcher),
		started:   time.Now(),
	}
	b.dial = b.dialNode
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Broker) dialNode(control mechos.Endpoint) (Dispatcher, error) {
	client, err := controlrpc.DialNode(control.String(), controlrpc.Config{
		CallTimeout:    b.config.DirectiveTimeout,
		MaxMessageSize: b.config.MaxMessageSize,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func signalTerminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

// RegisterNode adds a node and opens its control client. It returns false
// when the name is already registered; the caller must treat that as fatal.
func (b *Broker) RegisterNode(name string, pid int, control mechos.Endpoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	logger := b.logger.With(zap.String("node", name))

	if b.closed || name == "" || control.IsZero() {
		b.metrics.Registration("node", metrics.ResultRejected)
		logger.Warn("Node registration rejected", zap.Bool("closed", b.closed), zap.Stringer("control", control))
		return false
	}
	if _, exists := b.registry.node(name); exists {
		b.metrics.Registration("node", metrics.ResultRejected)
		logger.Warn("Node name already registered")
		return false
	}

	client, err := b.dial(control)
	if err != nil {
		b.metrics.Registration("node", metrics.ResultError)
		logger.Error("Failed to open node control client", zap.Error(err))
		return false
	}

	b.registry.addNode(name, pid, control)
	b.clients[name] = client
	b.metrics.Registration("node", metrics.ResultOK)
	b.metrics.SetNodes(len(b.clients))

	logger.Info("Node registered", zap.Int("pid", pid), zap.Stringer("control", control))
	return true
}

// RegisterPublisher records a publisher of node and connects it to every
// matching subscriber. False when the node is unknown or info is invalid.
func (b *Broker) RegisterPublisher(ctx context.Context, node string, info mechos.EntityInfo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.acceptEntity(node, info, "publisher") {
		return false
	}
	b.registry.upsertPublisher(node, info)

	matches := b.registry.subscribersMatching(info)
	b.logger.Info("Publisher registered",
		zap.String("node", node),
		zap.String("id", info.ID),
		zap.String("topic", info.Topic),
		zap.Stringer("protocol", info.Protocol),
		zap.Int("matches", len(matches)),
	)

	for _, m := range matches {
		b.connect(ctx, node, info, m.node, m.entity)
	}
	return true
}

// RegisterSubscriber records a subscriber of node and connects it to every
// matching publisher. False when the node is unknown or info is invalid.
func (b *Broker) RegisterSubscriber(ctx context.Context, node string, info mechos.EntityInfo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.acceptEntity(node, info, "subscriber") {
		return false
	}
	b.registry.upsertSubscriber(node, info)

	matches := b.registry.publishersMatching(info)
	b.logger.Info("Subscriber registered",
		zap.String("node", node),
		zap.String("id", info.ID),
		zap.String("topic", info.Topic),
		zap.Stringer("protocol", info.Protocol),
		zap.Int("matches", len(matches)),
	)

	for _, m := range matches {
		b.connect(ctx, m.node, m.entity, node, info)
	}
	return true
}

func (b *Broker) acceptEntity(node string, info mechos.EntityInfo, kind string) bool {
	if b.closed {
		b.metrics.Registration(kind, metrics.ResultRejected)
		return false
	}
	if err := info.Validate(); err != nil {
		b.metrics.Registration(kind, metrics.ResultRejected)
		b.logger.Warn("Invalid registration", zap.String("kind", kind), zap.String("node", node), zap.Error(err))
		return false
	}
	if _, ok := b.registry.node(node); !ok {
		b.metrics.Registration(kind, metrics.ResultRejected)
		b.logger.Warn("Registration for unknown node", zap.String("kind", kind), zap.String("node", node))
		return false
	}
	b.metrics.Registration(kind, metrics.ResultOK)
	return true
}

// connect sends the directive pair for one matched publisher/subscriber:
// the subscriber side first, then the publisher side.
func (b *Broker) connect(ctx context.Context, pubNode string, pub mechos.EntityInfo, subNode string, sub mechos.EntityInfo) {
	b.send(ctx, subNode, directive.UpdateSubscriber{
		SubscriberID: sub.ID,
		PublisherID:  pub.ID,
		Publisher:    pub.Endpoint,
	})
	b.send(ctx, pubNode, directive.UpdatePublisher{
		PublisherID:  pub.ID,
		SubscriberID: sub.ID,
		Subscriber:   sub.Endpoint,
	})
}

// send delivers one directive. Failures are logged and counted, never retried.
func (b *Broker) send(ctx context.Context, node string, d directive.Directive) {
	client, ok := b.clients[node]
	if !ok {
		b.metrics.Directive(string(d.Kind()), metrics.ResultError)
		b.logger.Warn("No control client for node", zap.String("node", node), zap.String("kind", string(d.Kind())))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.DirectiveTimeout)
	defer cancel()

	if err := client.Send(ctx, d); err != nil {
		b.metrics.Directive(string(d.Kind()), metrics.ResultError)
		b.logger.Warn("Directive failed",
			zap.String("node", node),
			zap.String("kind", string(d.Kind())),
			zap.Error(err),
		)
		return
	}
	b.metrics.Directive(string(d.Kind()), metrics.ResultOK)
	b.logger.Debug("Directive sent", zap.String("node", node), zap.String("kind", string(d.Kind())))
}

// UnregisterNode tears a node down: peers on other nodes drop their
// connections to its entities, the node kills each of its entities, its
// entry is removed, and its process is terminated. False for an unknown name.
func (b *Broker) UnregisterNode(ctx context.Context, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok := b.unregisterLocked(ctx, name)
	if ok {
		b.metrics.Registration("unregister", metrics.ResultOK)
	} else {
		b.metrics.Registration("unregister", metrics.ResultRejected)
	}
	return ok
}

func (b *Broker) unregisterLocked(ctx context.Context, name string) bool {
	entry, ok := b.registry.node(name)
	if !ok {
		b.logger.Warn("Unregister for unknown node", zap.String("node", name))
		return false
	}

	for _, pub := range sortedEntities(entry.publishers) {
		for _, peer := range remoteNodes(b.registry.subscribersMatching(pub), name) {
			b.send(ctx, peer, directive.KillSubscriberConnection{PublisherID: pub.ID})
		}
		b.send(ctx, name, directive.KillPublisher{PublisherID: pub.ID})
	}
	for _, sub := range sortedEntities(entry.subscribers) {
		for _, peer := range remoteNodes(b.registry.publishersMatching(sub), name) {
			b.send(ctx, peer, directive.KillPublisherConnection{SubscriberID: sub.ID})
		}
		b.send(ctx, name, directive.KillSubscriber{SubscriberID: sub.ID})
	}

	if client, ok := b.clients[name]; ok {
		if err := client.Close(); err != nil {
			b.logger.Debug("Closing node control client", zap.String("node", name), zap.Error(err))
		}
		delete(b.clients, name)
	}
	b.registry.removeNode(name)
	b.metrics.SetNodes(len(b.clients))

	if entry.pid > 0 && entry.pid != b.self {
		if err := b.terminate(entry.pid); err != nil {
			b.logger.Warn("Failed to terminate node process", zap.String("node", name), zap.Int("pid", entry.pid), zap.Error(err))
		}
	}

	b.logger.Info("Node unregistered",
		zap.String("node", name),
		zap.Int("publishers", len(entry.publishers)),
		zap.Int("subscribers", len(entry.subscribers)),
	)
	return true
}

// remoteNodes returns the distinct owning nodes of matches, excluding self
func remoteNodes(matches []match, self string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		if m.node == self || seen[m.node] {
			continue
		}
		seen[m.node] = true
		out = append(out, m.node)
	}
	return out
}

// Close unregisters every node and refuses further registrations. Safe to call repeatedly.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, name := range b.registry.names() {
		b.unregisterLocked(ctx, name)
	}

	var err error
	for name, client := range b.clients {
		err = multierr.Append(err, client.Close())
		delete(b.clients, name)
	}
	return err
}

// Nodes returns a snapshot of every registered node ordered by name
func (b *Broker) Nodes() []NodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.snapshot()
}

// Node returns a snapshot of one node
func (b *Broker) Node(name string) (NodeInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.registry.node(name)
	if !ok {
		return NodeInfo{}, false
	}
	return e.info(), true
}

// Topics summarizes registered entities per topic and protocol
func (b *Broker) Topics() []TopicInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.topics()
}

// Health reports registry counts and uptime
func (b *Broker) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes, pubs, subs := b.registry.counts()
	return Health{
		Healthy:     !b.closed,
		Nodes:       nodes,
		Publishers:  pubs,
		Subscribers: subs,
		Uptime:      time.Since(b.started),
	}
}

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/FelipeJared/mechOS/pkg/directive"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sent is one directive observed by the fake network
type sent struct {
	node string
	d    directive.Directive
}

// fakeNetwork hands out dispatchers that record directives in global order
type fakeNetwork struct {
	mu      sync.Mutex
	byPort  map[int]string
	log     []sent
	failing map[string]bool
	closed  map[string]bool
	killed  []int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		byPort:  make(map[int]string),
		failing: make(map[string]bool),
		closed:  make(map[string]bool),
	}
}

type fakeDispatcher struct {
	net  *fakeNetwork
	node string
}

func (f *fakeDispatcher) Send(_ context.Context, d directive.Directive) error {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if f.net.failing[f.node] {
		return errors.New("control endpoint unreachable")
	}
	f.net.log = append(f.net.log, sent{node: f.node, d: d})
	return nil
}

func (f *fakeDispatcher) Close() error {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	f.net.closed[f.node] = true
	return nil
}

func (n *fakeNetwork) dial(control mechos.Endpoint) (Dispatcher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &fakeDispatcher{net: n, node: n.byPort[control.Port]}, nil
}

func (n *fakeNetwork) terminate(pid int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.killed = append(n.killed, pid)
	return nil
}

func (n *fakeNetwork) take() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.log
	n.log = nil
	return out
}

func (n *fakeNetwork) directivesTo(node string, log []sent) []directive.Directive {
	var out []directive.Directive
	for _, s := range log {
		if s.node == node {
			out = append(out, s.d)
		}
	}
	return out
}

type fixture struct {
	t      *testing.T
	broker *Broker
	net    *fakeNetwork
	ports  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := newFakeNetwork()
	b, err := New(Config{ListenAddress: "127.0.0.1:0"},
		WithDialer(net.dial),
		WithTerminator(net.terminate),
		WithMetrics(metrics.NewBroker(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	return &fixture{t: t, broker: b, net: net, ports: 40000}
}

func (f *fixture) node(name string, pid int) {
	f.t.Helper()
	f.ports++
	f.net.mu.Lock()
	f.net.byPort[f.ports] = name
	f.net.mu.Unlock()
	require.True(f.t, f.broker.RegisterNode(name, pid, mechos.Endpoint{Host: "127.0.0.1", Port: f.ports}))
}

func (f *fixture) entity(topic string, protocol mechos.Protocol) mechos.EntityInfo {
	f.ports++
	return mechos.EntityInfo{
		ID:       mechos.NewID(),
		Topic:    topic,
		Endpoint: mechos.Endpoint{Host: "127.0.0.1", Port: f.ports},
		Protocol: protocol,
	}
}

func TestBroker_RegisterNode_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.node("talker", 100)

	assert.False(t, f.broker.RegisterNode("talker", 200, mechos.Endpoint{Host: "127.0.0.1", Port: 1}))

	info, ok := f.broker.Node("talker")
	require.True(t, ok)
	assert.Equal(t, 100, info.PID, "existing registration is left untouched")
}

func TestBroker_RegisterEntity_UnknownNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.broker.RegisterPublisher(ctx, "ghost", f.entity("chatter", mechos.UDP)))
	assert.False(t, f.broker.RegisterSubscriber(ctx, "ghost", f.entity("chatter", mechos.UDP)))
	assert.Empty(t, f.net.take())
}

func TestBroker_RegisterEntity_Invalid(t *testing.T) {
	f := newFixture(t)
	f.node("a", 1)

	bad := f.entity("chatter", "sctp")
	assert.False(t, f.broker.RegisterPublisher(context.Background(), "a", bad))
}

func TestBroker_MatchOnPublisherArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("talker", 1)
	f.node("listener", 2)

	sub := f.entity("chatter", mechos.UDP)
	require.True(t, f.broker.RegisterSubscriber(ctx, "listener", sub))
	assert.Empty(t, f.net.take(), "no publisher yet, nothing to connect")

	pub := f.entity("chatter", mechos.UDP)
	require.True(t, f.broker.RegisterPublisher(ctx, "talker", pub))

	log := f.net.take()
	require.Len(t, log, 2)
	assert.Equal(t, sent{node: "listener", d: directive.UpdateSubscriber{
		SubscriberID: sub.ID, PublisherID: pub.ID, Publisher: pub.Endpoint,
	}}, log[0], "subscriber side goes first")
	assert.Equal(t, sent{node: "talker", d: directive.UpdatePublisher{
		PublisherID: pub.ID, SubscriberID: sub.ID, Subscriber: sub.Endpoint,
	}}, log[1])
}

func TestBroker_MatchOnSubscriberArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("talker", 1)
	f.node("listener", 2)

	pub := f.entity("chatter", mechos.TCP)
	require.True(t, f.broker.RegisterPublisher(ctx, "talker", pub))
	sub := f.entity("chatter", mechos.TCP)
	require.True(t, f.broker.RegisterSubscriber(ctx, "listener", sub))

	log := f.net.take()
	require.Len(t, log, 2)
	assert.Equal(t, "listener", log[0].node)
	assert.Equal(t, directive.KindUpdateSubscriber, log[0].d.Kind())
	assert.Equal(t, "talker", log[1].node)
	assert.Equal(t, directive.KindUpdatePublisher, log[1].d.Kind())
}

func TestBroker_MatchCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("a", 1)
	f.node("b", 2)

	p1 := f.entity("imu", mechos.UDP)
	p2 := f.entity("imu", mechos.UDP)
	s1 := f.entity("imu", mechos.UDP)
	s2 := f.entity("imu", mechos.UDP)

	require.True(t, f.broker.RegisterPublisher(ctx, "a", p1))
	require.True(t, f.broker.RegisterSubscriber(ctx, "b", s1))
	require.True(t, f.broker.RegisterPublisher(ctx, "b", p2))
	require.True(t, f.broker.RegisterSubscriber(ctx, "a", s2))

	type pair struct{ pub, sub string }
	pubSide := map[pair]bool{}
	subSide := map[pair]bool{}
	for _, s := range f.net.take() {
		switch d := s.d.(type) {
		case directive.UpdatePublisher:
			pubSide[pair{d.PublisherID, d.SubscriberID}] = true
		case directive.UpdateSubscriber:
			subSide[pair{d.PublisherID, d.SubscriberID}] = true
		}
	}

	for _, p := range []mechos.EntityInfo{p1, p2} {
		for _, s := range []mechos.EntityInfo{s1, s2} {
			assert.True(t, pubSide[pair{p.ID, s.ID}], "publisher side of %s-%s", p.ID, s.ID)
			assert.True(t, subSide[pair{p.ID, s.ID}], "subscriber side of %s-%s", p.ID, s.ID)
		}
	}
	assert.Len(t, pubSide, 4)
	assert.Len(t, subSide, 4)
}

func TestBroker_ProtocolIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("a", 1)
	f.node("b", 2)

	require.True(t, f.broker.RegisterPublisher(ctx, "a", f.entity("chatter", mechos.TCP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "b", f.entity("chatter", mechos.UDP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "b", f.entity("other", mechos.TCP)))

	assert.Empty(t, f.net.take())
}

func TestBroker_MultipleEntitiesPerNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("a", 1)

	first := f.entity("one", mechos.UDP)
	second := f.entity("two", mechos.TCP)
	require.True(t, f.broker.RegisterPublisher(ctx, "a", first))
	require.True(t, f.broker.RegisterPublisher(ctx, "a", second))

	info, ok := f.broker.Node("a")
	require.True(t, ok)
	assert.ElementsMatch(t, []mechos.EntityInfo{first, second}, info.Publishers)

	moved := first
	moved.Endpoint.Port = 1
	require.True(t, f.broker.RegisterPublisher(ctx, "a", moved))
	info, _ = f.broker.Node("a")
	assert.ElementsMatch(t, []mechos.EntityInfo{moved, second}, info.Publishers, "same id updates in place")
}

func TestBroker_DirectiveFailureIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("pub", 1)
	f.node("dead", 2)
	f.node("alive", 3)

	f.net.mu.Lock()
	f.net.failing["dead"] = true
	f.net.mu.Unlock()

	require.True(t, f.broker.RegisterSubscriber(ctx, "dead", f.entity("t", mechos.UDP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "alive", f.entity("t", mechos.UDP)))
	require.True(t, f.broker.RegisterPublisher(ctx, "pub", f.entity("t", mechos.UDP)))

	log := f.net.take()
	assert.Len(t, f.net.directivesTo("pub", log), 2, "publisher still learns about both subscribers")
	assert.Len(t, f.net.directivesTo("alive", log), 1)
	assert.Empty(t, f.net.directivesTo("dead", log))
}

func TestBroker_TeardownCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("n", 4242)
	f.node("m", 4343)

	pub := f.entity("chatter", mechos.TCP)
	ownSub := f.entity("status", mechos.UDP)
	remoteSub := f.entity("chatter", mechos.TCP)
	remotePub := f.entity("status", mechos.UDP)

	require.True(t, f.broker.RegisterPublisher(ctx, "n", pub))
	require.True(t, f.broker.RegisterSubscriber(ctx, "n", ownSub))
	require.True(t, f.broker.RegisterSubscriber(ctx, "m", remoteSub))
	require.True(t, f.broker.RegisterPublisher(ctx, "m", remotePub))
	f.net.take()

	require.True(t, f.broker.UnregisterNode(ctx, "n"))

	log := f.net.take()
	assert.ElementsMatch(t, []directive.Directive{
		directive.KillSubscriberConnection{PublisherID: pub.ID},
		directive.KillPublisherConnection{SubscriberID: ownSub.ID},
	}, f.net.directivesTo("m", log))
	assert.ElementsMatch(t, []directive.Directive{
		directive.KillPublisher{PublisherID: pub.ID},
		directive.KillSubscriber{SubscriberID: ownSub.ID},
	}, f.net.directivesTo("n", log))

	_, ok := f.broker.Node("n")
	assert.False(t, ok)
	f.net.mu.Lock()
	assert.Equal(t, []int{4242}, f.net.killed)
	assert.True(t, f.net.closed["n"])
	f.net.mu.Unlock()

	assert.False(t, f.broker.UnregisterNode(ctx, "n"), "unknown name")
}

func TestBroker_TeardownKillConnectionOncePerNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("n", 10)
	f.node("m", 11)

	pub := f.entity("chatter", mechos.UDP)
	require.True(t, f.broker.RegisterPublisher(ctx, "n", pub))
	require.True(t, f.broker.RegisterSubscriber(ctx, "m", f.entity("chatter", mechos.UDP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "m", f.entity("chatter", mechos.UDP)))
	f.net.take()

	require.True(t, f.broker.UnregisterNode(ctx, "n"))
	assert.Equal(t, []directive.Directive{
		directive.KillSubscriberConnection{PublisherID: pub.ID},
	}, f.net.directivesTo("m", f.net.take()))
}

func TestBroker_NeverTerminatesItself(t *testing.T) {
	f := newFixture(t)
	f.node("inproc", f.broker.self)
	f.node("nopid", 0)

	require.True(t, f.broker.UnregisterNode(context.Background(), "inproc"))
	require.True(t, f.broker.UnregisterNode(context.Background(), "nopid"))

	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	assert.Empty(t, f.net.killed)
}

func TestBroker_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("a", 7)
	f.node("b", 8)
	require.True(t, f.broker.RegisterPublisher(ctx, "a", f.entity("x", mechos.UDP)))

	require.NoError(t, f.broker.Close(ctx))
	require.NoError(t, f.broker.Close(ctx))

	assert.Empty(t, f.broker.Nodes())
	assert.False(t, f.broker.Health().Healthy)
	assert.False(t, f.broker.RegisterNode("c", 9, mechos.Endpoint{Host: "127.0.0.1", Port: 9}))

	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	assert.ElementsMatch(t, []int{7, 8}, f.net.killed)
}

func TestBroker_Introspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node("b", 1)
	f.node("a", 2)

	require.True(t, f.broker.RegisterPublisher(ctx, "a", f.entity("chatter", mechos.UDP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "b", f.entity("chatter", mechos.UDP)))
	require.True(t, f.broker.RegisterSubscriber(ctx, "b", f.entity("chatter", mechos.TCP)))

	nodes := f.broker.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].Name)
	assert.Equal(t, "b", nodes[1].Name)

	assert.Equal(t, []TopicInfo{
		{Topic: "chatter", Protocol: mechos.TCP, Publishers: 0, Subscribers: 1},
		{Topic: "chatter", Protocol: mechos.UDP, Publishers: 1, Subscribers: 1},
	}, f.broker.Topics())

	h := f.broker.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, 2, h.Nodes)
	assert.Equal(t, 1, h.Publishers)
	assert.Equal(t, 2, h.Subscribers)
}

func TestConfig_Defaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, "127.0.0.1:5959", c.ListenAddress)
	assert.NoError(t, c.Validate())

	bad := &Config{ListenAddress: "nope"}
	assert.Error(t, bad.Validate())
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidListenAddress)
}

package node

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FelipeJared/mechOS/internal/broker"
	"github.com/stretchr/testify/require"
)

// pipe returns both ends of a loopback TCP connection
func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// startBroker runs a broker on an ephemeral loopback port
func startBroker(t *testing.T) *broker.Server {
	t.Helper()
	srv, err := broker.NewServer(
		broker.Config{ListenAddress: "127.0.0.1:0"},
		broker.WithTerminator(func(int) error { return nil }),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

type testNode struct {
	*Node
	kills atomic.Int32
}

// startNode registers a node whose KillNode only counts
func startNode(t *testing.T, name string, brokerSrv *broker.Server) *testNode {
	t.Helper()
	cfg := NewConfig(name)
	cfg.BrokerAddress = brokerSrv.Addr().String()

	tn := &testNode{}
	n, err := New(*cfg, WithKillFunc(func() error {
		tn.kills.Add(1)
		return nil
	}))
	require.NoError(t, err)
	tn.Node = n

	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Close(ctx)
	})
	return tn
}

// inbox collects callback deliveries
type inbox struct {
	mu   sync.Mutex
	msgs [][]float32
}

func (i *inbox) callback(msg any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg.([]float32))
}

func (i *inbox) received() [][]float32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]float32(nil), i.msgs...)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

// pollUntil spins n until want messages have arrived in box
func pollUntil(t *testing.T, n *testNode, box *inbox, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n.SpinOnce()
		return box.len() >= want
	}, 3*time.Second, 5*time.Millisecond, "messages not delivered")
}

// waitPeers waits until peers() reports want entries
func waitPeers(t *testing.T, peers func() []string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(peers()) == want
	}, 3*time.Second, 5*time.Millisecond)
}

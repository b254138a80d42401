package node

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/FelipeJared/mechOS/pkg/codec"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/zap"
)

// ErrClosed is returned when using a killed publisher or subscriber
var ErrClosed = errors.New("entity is closed")

// PublisherOptions tune a publisher at creation
type PublisherOptions struct {
	// Protocol is tcp or udp; empty means tcp
	Protocol mechos.Protocol

	// QueueSize is the number of frames the send buffer is sized for; zero uses the node default
	QueueSize int

	// Host overrides the node host for the data socket
	Host string
}

// Publisher sends fixed-size frames of one topic to every attached subscriber
type Publisher struct {
	info      mechos.EntityInfo
	format    codec.Format
	queueSize int
	timeouts  timeouts
	logger    *zap.Logger
	metrics   *metrics.Node

	listener net.Listener // tcp
	sock     *net.UDPConn // udp

	mu     sync.Mutex
	peers  map[string]peer
	closed bool
	wg     sync.WaitGroup
}

type timeouts struct {
	handshake time.Duration
	send      time.Duration
}

// newPublisher binds the data socket on host:0 and takes the port from it
func newPublisher(topic string, format codec.Format, protocol mechos.Protocol, host string, queueSize int, t timeouts, logger *zap.Logger, m *metrics.Node) (*Publisher, error) {
	p := &Publisher{
		format:    format,
		queueSize: queueSize,
		timeouts:  t,
		metrics:   m,
		peers:     make(map[string]peer),
	}
	bind := net.JoinHostPort(host, "0")

	var addr net.Addr
	switch protocol {
	case mechos.TCP:
		l, err := net.Listen("tcp", bind)
		if err != nil {
			return nil, fmt.Errorf("listen for publisher: %w", err)
		}
		p.listener = l
		addr = l.Addr()
	case mechos.UDP:
		laddr, err := net.ResolveUDPAddr("udp", bind)
		if err != nil {
			return nil, fmt.Errorf("resolve publisher address: %w", err)
		}
		sock, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return nil, fmt.Errorf("bind publisher socket: %w", err)
		}
		if err := sock.SetWriteBuffer(queueSize * format.Size()); err != nil {
			logger.Debug("Could not size send buffer", zap.Error(err))
		}
		p.sock = sock
		addr = sock.LocalAddr()
	default:
		return nil, fmt.Errorf("%w: %q", mechos.ErrUnknownProtocol, protocol)
	}

	ep, err := mechos.EndpointFromAddr(addr)
	if err != nil {
		p.closeSockets()
		return nil, err
	}
	p.info = mechos.EntityInfo{
		ID:       mechos.NewID(),
		Topic:    topic,
		Endpoint: mechos.Endpoint{Host: host, Port: ep.Port},
		Protocol: protocol,
	}
	p.logger = logger.With(zap.String("publisher", p.info.ID), zap.String("topic", topic))
	return p, nil
}

// ID returns the publisher's unique id
func (p *Publisher) ID() string { return p.info.ID }

// Topic returns the topic the publisher sends on
func (p *Publisher) Topic() string { return p.info.Topic }

// Protocol returns the data-plane protocol
func (p *Publisher) Protocol() mechos.Protocol { return p.info.Protocol }

// Endpoint returns the bound data address
func (p *Publisher) Endpoint() mechos.Endpoint { return p.info.Endpoint }

// Info returns the addressing metadata registered with the broker
func (p *Publisher) Info() mechos.EntityInfo { return p.info }

// Peers returns the ids of attached subscribers
func (p *Publisher) Peers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerIDs(p.peers)
}

// Publish encodes msg and sends it to every attached subscriber. A failure
// on one peer is logged and skipped; the peer stays attached. Only encoding
// errors and use after close are returned.
func (p *Publisher) Publish(msg any) error {
	frame, err := p.format.Pack(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	peers := make([]peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mu.Unlock()

	protocol := p.info.Protocol.String()
	for _, pr := range peers {
		if err := pr.send(frame, p.timeouts.send); err != nil {
			p.metrics.SendError(protocol)
			p.logger.Debug("Send to subscriber failed", zap.String("subscriber", pr.remoteID()), zap.Error(err))
			continue
		}
		p.metrics.Published(protocol)
	}
	return nil
}

// attach handles an UpdatePublisher directive. UDP records the address
// directly; TCP starts an accept task for one connection.
func (p *Publisher) attach(subscriberID string, ep mechos.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	switch p.info.Protocol {
	case mechos.UDP:
		addr, err := net.ResolveUDPAddr("udp", ep.String())
		if err != nil {
			return fmt.Errorf("resolve subscriber %s: %w", subscriberID, err)
		}
		p.replaceLocked(&udpPeer{id: subscriberID, addr: addr, sock: p.sock})
		p.logger.Debug("Subscriber attached", zap.String("subscriber", subscriberID), zap.Stringer("address", ep))
	case mechos.TCP:
		p.wg.Add(1)
		go p.acceptOne(subscriberID)
	}
	return nil
}

// acceptOne accepts a single connection and keys it by the subscriber id
// the peer sends as its hello. The id that triggered the task is only used
// for logging, so racing accept tasks never mis-key a connection.
func (p *Publisher) acceptOne(expected string) {
	defer p.wg.Done()

	conn, err := p.listener.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			p.logger.Warn("Accept failed", zap.String("subscriber", expected), zap.Error(err))
		}
		return
	}

	id, err := readHello(conn, p.timeouts.handshake)
	if err != nil {
		p.logger.Warn("Bad subscriber hello", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		conn.Close()
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetWriteBuffer(p.queueSize * p.format.Size()); err != nil {
			p.logger.Debug("Could not size send buffer", zap.Error(err))
		}
		_ = tc.SetNoDelay(true)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		return
	}
	p.replaceLocked(&tcpPeer{id: id, conn: conn})
	p.logger.Debug("Subscriber connected", zap.String("subscriber", id), zap.String("remote", conn.RemoteAddr().String()))
}

// detach handles KillPublisherConnection for this publisher
func (p *Publisher) detach(subscriberID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.peers[subscriberID]
	if !ok {
		return false
	}
	delete(p.peers, subscriberID)
	if err := pr.close(); err != nil {
		p.logger.Debug("Closing subscriber connection", zap.String("subscriber", subscriberID), zap.Error(err))
	}
	return true
}

func (p *Publisher) replaceLocked(pr peer) {
	if old, ok := p.peers[pr.remoteID()]; ok {
		_ = old.close()
	}
	p.peers[pr.remoteID()] = pr
}

// Close closes every peer connection and the data socket, which also ends
// pending accept tasks. Safe to call repeatedly.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for id, pr := range p.peers {
		_ = pr.close()
		delete(p.peers, id)
	}
	p.mu.Unlock()

	err := p.closeSockets()
	p.wg.Wait()
	return err
}

func (p *Publisher) closeSockets() error {
	if p.listener != nil {
		return p.listener.Close()
	}
	if p.sock != nil {
		return p.sock.Close()
	}
	return nil
}

// readHello reads the fixed-length subscriber id sent after connecting
func readHello(conn net.Conn, timeout time.Duration) (string, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
		defer conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, mechos.IDLength)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", err
	}
	id := string(buf)
	if !mechos.IsID(id) {
		return "", fmt.Errorf("malformed subscriber id %q", id)
	}
	return id, nil
}

func peerIDs(m map[string]peer) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

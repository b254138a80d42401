package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/FelipeJared/mechOS/pkg/codec"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"go.uber.org/zap"
)

// datagram is a received udp frame tagged with the epoch it arrived in
type datagram struct {
	epoch uint64
	data  []byte
}

// Callback receives each decoded message, synchronously from SpinOnce
type Callback func(msg any)

// SubscriberOptions tune a subscriber at creation
type SubscriberOptions struct {
	// Protocol is tcp or udp; empty means tcp
	Protocol mechos.Protocol

	// QueueSize is the number of frames the receive buffer is sized for; zero uses the node default
	QueueSize int

	// Host overrides the node host for the data socket
	Host string
}

// inbound is one attached TCP publisher. Its reader goroutine reads whole
// frames into a one-slot channel; while the slot is full the reader blocks
// and further data waits in the kernel buffer.
type inbound struct {
	tcpPeer
	frames chan []byte
	done   chan struct{}
}

// Subscriber receives fixed-size frames of one topic from every attached
// publisher and hands them to its callback when polled
type Subscriber struct {
	info      mechos.EntityInfo
	format    codec.Format
	callback  Callback
	queueSize int
	timeouts  timeouts
	logger    *zap.Logger
	metrics   *metrics.Node

	sock      *net.UDPConn // udp
	udpFrames chan datagram
	udpEpoch  atomic.Uint64 // bumped when the last udp publisher detaches
	done      chan struct{}

	mu      sync.Mutex
	tcp     map[string]*inbound
	udp     map[string]mechos.Endpoint // recorded for provenance
	closed  bool
	readers sync.WaitGroup
}

func newSubscriber(topic string, format codec.Format, callback Callback, protocol mechos.Protocol, host string, queueSize int, t timeouts, logger *zap.Logger, m *metrics.Node) (*Subscriber, error) {
	s := &Subscriber{
		format:    format,
		callback:  callback,
		queueSize: queueSize,
		timeouts:  t,
		metrics:   m,
		done:      make(chan struct{}),
		tcp:       make(map[string]*inbound),
		udp:       make(map[string]mechos.Endpoint),
	}
	bind := net.JoinHostPort(host, "0")

	var port int
	switch protocol {
	case mechos.TCP:
		// The port is only advertised; connections are dialed out from
		// ephemeral ports.
		l, err := net.Listen("tcp", bind)
		if err != nil {
			return nil, fmt.Errorf("reserve subscriber port: %w", err)
		}
		port = l.Addr().(*net.TCPAddr).Port
		l.Close()
	case mechos.UDP:
		laddr, err := net.ResolveUDPAddr("udp", bind)
		if err != nil {
			return nil, fmt.Errorf("resolve subscriber address: %w", err)
		}
		sock, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return nil, fmt.Errorf("bind subscriber socket: %w", err)
		}
		if err := sock.SetReadBuffer(queueSize * format.Size()); err != nil {
			logger.Debug("Could not size receive buffer", zap.Error(err))
		}
		s.sock = sock
		s.udpFrames = make(chan datagram, 1)
		port = sock.LocalAddr().(*net.UDPAddr).Port
	default:
		return nil, fmt.Errorf("%w: %q", mechos.ErrUnknownProtocol, protocol)
	}

	s.info = mechos.EntityInfo{
		ID:       mechos.NewID(),
		Topic:    topic,
		Endpoint: mechos.Endpoint{Host: host, Port: port},
		Protocol: protocol,
	}
	s.logger = logger.With(zap.String("subscriber", s.info.ID), zap.String("topic", topic))

	if s.sock != nil {
		s.readers.Add(1)
		go s.readDatagrams()
	}
	return s, nil
}

// ID returns the subscriber's unique id
func (s *Subscriber) ID() string { return s.info.ID }

// Topic returns the subscribed topic
func (s *Subscriber) Topic() string { return s.info.Topic }

// Protocol returns the data-plane protocol
func (s *Subscriber) Protocol() mechos.Protocol { return s.info.Protocol }

// Endpoint returns the advertised data address
func (s *Subscriber) Endpoint() mechos.Endpoint { return s.info.Endpoint }

// Info returns the addressing metadata registered with the broker
func (s *Subscriber) Info() mechos.EntityInfo { return s.info }

// Peers returns the ids of attached publishers
func (s *Subscriber) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tcp)+len(s.udp))
	for id := range s.tcp {
		ids = append(ids, id)
	}
	for id := range s.udp {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attach handles an UpdateSubscriber directive. TCP dials the publisher and
// sends the subscriber id as a hello; UDP records the publisher address.
func (s *Subscriber) attach(ctx context.Context, publisherID string, ep mechos.Endpoint) error {
	if s.info.Protocol == mechos.UDP {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		s.udp[publisherID] = ep
		s.logger.Debug("Publisher recorded", zap.String("publisher", publisherID), zap.Stringer("address", ep))
		return nil
	}

	dialer := net.Dialer{Timeout: s.timeouts.handshake}
	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return fmt.Errorf("connect to publisher %s: %w", publisherID, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetReadBuffer(s.queueSize * s.format.Size()); err != nil {
			s.logger.Debug("Could not size receive buffer", zap.Error(err))
		}
	}
	hello := &tcpPeer{id: s.info.ID, conn: conn}
	if err := hello.send([]byte(s.info.ID), s.timeouts.handshake); err != nil {
		conn.Close()
		return fmt.Errorf("send hello to publisher %s: %w", publisherID, err)
	}

	in := &inbound{
		tcpPeer: tcpPeer{id: publisherID, conn: conn},
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return ErrClosed
	}
	if old, ok := s.tcp[publisherID]; ok {
		old.stop()
	}
	s.tcp[publisherID] = in
	s.readers.Add(1)
	go s.readFrames(in)

	s.logger.Debug("Connected to publisher", zap.String("publisher", publisherID), zap.Stringer("address", ep))
	return nil
}

func (in *inbound) stop() {
	close(in.done)
	_ = in.conn.Close()
}

func (s *Subscriber) readFrames(in *inbound) {
	defer s.readers.Done()
	defer close(in.frames)

	size := s.format.Size()
	for {
		frame := make([]byte, size)
		if _, err := io.ReadFull(in.conn, frame); err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				s.logger.Debug("Publisher stream ended", zap.String("publisher", in.id), zap.Error(err))
			}
			return
		}
		select {
		case in.frames <- frame:
		case <-in.done:
			return
		}
	}
}

func (s *Subscriber) readDatagrams() {
	defer s.readers.Done()

	size := s.format.Size()
	protocol := s.info.Protocol.String()
	buf := make([]byte, size+1)
	for {
		n, _, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("Receive failed", zap.Error(err))
			continue
		}
		if n != size {
			s.metrics.Dropped(protocol)
			s.logger.Debug("Dropped datagram of wrong size", zap.Int("size", n), zap.Int("expected", size))
			continue
		}
		frame := datagram{epoch: s.udpEpoch.Load(), data: make([]byte, size)}
		copy(frame.data, buf[:n])
		select {
		case s.udpFrames <- frame:
		case <-s.done:
			return
		}
	}
}

// spinOnce delivers at most one frame per attached publisher and returns
// the number of messages handed to the callback. It never blocks.
func (s *Subscriber) spinOnce() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	var frames [][]byte
	for _, in := range s.tcp {
		if f, ok := tryTake(in.frames); ok {
			frames = append(frames, f)
		}
	}
	epoch := s.udpEpoch.Load()
	for taken := 0; taken < len(s.udp); {
		f, ok := tryTake(s.udpFrames)
		if !ok {
			break
		}
		if f.epoch != epoch {
			// received before the last publisher detached
			continue
		}
		frames = append(frames, f.data)
		taken++
	}
	s.mu.Unlock()

	protocol := s.info.Protocol.String()
	delivered := 0
	for _, f := range frames {
		msg, err := s.format.Unpack(f)
		if err != nil {
			s.metrics.Dropped(protocol)
			s.logger.Debug("Dropped undecodable frame", zap.Error(err))
			continue
		}
		s.metrics.Received(protocol)
		s.callback(msg)
		delivered++
	}
	return delivered
}

// tryTake receives from ch without blocking; false when empty or closed
func tryTake[T any](ch chan T) (T, bool) {
	select {
	case f, ok := <-ch:
		return f, ok
	default:
		var zero T
		return zero, false
	}
}

// detach handles KillSubscriberConnection for this subscriber
func (s *Subscriber) detach(publisherID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, ok := s.tcp[publisherID]; ok {
		in.stop()
		delete(s.tcp, publisherID)
		return true
	}
	if _, ok := s.udp[publisherID]; ok {
		delete(s.udp, publisherID)
		if len(s.udp) == 0 {
			s.udpEpoch.Add(1)
			tryTake(s.udpFrames)
		}
		return true
	}
	return false
}

// Close closes every publisher connection and the UDP socket. Safe to call repeatedly.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	for id, in := range s.tcp {
		in.stop()
		delete(s.tcp, id)
	}
	clear(s.udp)
	s.mu.Unlock()

	var err error
	if s.sock != nil {
		err = s.sock.Close()
	}
	s.readers.Wait()
	return err
}

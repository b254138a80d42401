package node

import (
	"net"
	"time"
)

// peer is one attached remote entity. Publishers hold tcpPeer or udpPeer;
// subscribers hold tcpPeer only, since UDP intake is one shared socket.
type peer interface {
	// remoteID is the id of the entity on the other end
	remoteID() string
	send(frame []byte, timeout time.Duration) error
	close() error
}

// tcpPeer owns its connection
type tcpPeer struct {
	id   string
	conn net.Conn
}

func (p *tcpPeer) remoteID() string { return p.id }

func (p *tcpPeer) send(frame []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := p.conn.Write(frame)
	return err
}

func (p *tcpPeer) close() error {
	return p.conn.Close()
}

// udpPeer is an address on a socket owned by the publisher; closing the
// peer leaves the socket open
type udpPeer struct {
	id   string
	addr *net.UDPAddr
	sock *net.UDPConn
}

func (p *udpPeer) remoteID() string { return p.id }

func (p *udpPeer) send(frame []byte, _ time.Duration) error {
	_, err := p.sock.WriteToUDP(frame, p.addr)
	return err
}

func (p *udpPeer) close() error {
	return nil
}

var (
	_ peer = (*tcpPeer)(nil)
	_ peer = (*udpPeer)(nil)
)

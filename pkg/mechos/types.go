package mechos

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultBrokerHost is the address mechoscore listens on when none is configured
	DefaultBrokerHost = "127.0.0.1"

	// DefaultBrokerPort is the well-known control port of mechoscore
	DefaultBrokerPort = 5959

	// DefaultAdminPort is the port of the broker's read-only admin HTTP API
	DefaultAdminPort = 5960

	// IDLength is the length in characters of ids returned by NewID
	IDLength = 32
)

var (
	// ErrUnknownProtocol is returned when a protocol string is neither tcp nor udp
	ErrUnknownProtocol = errors.New("protocol must be tcp or udp")
	// ErrInvalidEndpoint is returned when an endpoint cannot be parsed
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Protocol is the data-plane transport used between a publisher and its subscribers.
// A publisher only ever matches subscribers of the same protocol.
type Protocol string

const (
	// TCP connections are accepted by the publisher and dialed by the subscriber
	TCP Protocol = "tcp"
	// UDP publishers send datagrams to every recorded subscriber address
	UDP Protocol = "udp"
)

// ParseProtocol converts a string into a Protocol
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case TCP:
		return TCP, nil
	case UDP:
		return UDP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// Valid reports whether p is a supported protocol
func (p Protocol) Valid() bool {
	return p == TCP || p == UDP
}

func (p Protocol) String() string {
	return string(p)
}

// Endpoint is an (IP, port) pair used for both control and data endpoints
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ParseEndpoint parses "host:port"
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, portStr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// EndpointFromAddr extracts the endpoint of a bound TCP or UDP address
func EndpointFromAddr(addr net.Addr) (Endpoint, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return Endpoint{Host: a.IP.String(), Port: a.Port}, nil
	case *net.UDPAddr:
		return Endpoint{Host: a.IP.String(), Port: a.Port}, nil
	default:
		return ParseEndpoint(addr.String())
	}
}

// String returns the endpoint in "host:port" form
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// EntityInfo is the addressing metadata of one publisher or subscriber.
// The broker only ever holds this, never the entity itself.
type EntityInfo struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic"`
	Endpoint Endpoint `json:"endpoint"`
	Protocol Protocol `json:"protocol"`
}

// Validate checks that the entity can be registered
func (e EntityInfo) Validate() error {
	if e.ID == "" {
		return errors.New("entity ID cannot be empty")
	}
	if e.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	if !e.Protocol.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, e.Protocol)
	}
	return nil
}

// Matches reports whether two entities share topic and protocol.
// There is no wildcard or prefix matching.
func (e EntityInfo) Matches(other EntityInfo) bool {
	return e.Topic == other.Topic && e.Protocol == other.Protocol
}

// NewID generates a unique publisher or subscriber id: a random UUID in
// 32-character lowercase hex form without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsID reports whether s has the shape of an id produced by NewID
func IsID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

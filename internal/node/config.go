package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/FelipeJared/mechOS/internal/discovery"
	"github.com/FelipeJared/mechOS/pkg/mechos"
)

var (
	// ErrEmptyName is returned when node name is empty
	ErrEmptyName = errors.New("node name cannot be empty")
	// ErrInvalidHost is returned when the bind host is empty
	ErrInvalidHost = errors.New("host cannot be empty")
	// ErrInvalidBrokerAddress is returned when the broker address is not host:port
	ErrInvalidBrokerAddress = errors.New("broker address must be host:port")
)

// Config represents configuration for a Node
type Config struct {
	// Name must be unique among all nodes registered with the broker
	Name string `yaml:"name"`

	// Host is the address control and data sockets bind to and advertise.
	// It must be reachable by the broker and by peer nodes.
	Host string `yaml:"host"`

	// BrokerAddress is the broker's control endpoint
	// Format: "host:port" (e.g., "127.0.0.1:5959"). Defaults to
	// $MECHOS_BROKER, then the well-known address.
	BrokerAddress string `yaml:"broker_address"`

	// QueueSize is the default number of frames socket buffers are sized for
	QueueSize int `yaml:"queue_size"`

	// CallTimeout bounds each call to the broker
	CallTimeout time.Duration `yaml:"call_timeout"`

	// HandshakeTimeout bounds TCP connect and hello exchange
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SendTimeout bounds each per-peer TCP write; zero means no deadline
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// NewConfig creates a node configuration with safe defaults
func NewConfig(name string) *Config {
	c := &Config{Name: name}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.BrokerAddress == "" {
		c.BrokerAddress = discovery.BrokerAddress()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 2 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.Host == "" {
		return ErrInvalidHost
	}
	if _, err := mechos.ParseEndpoint(c.BrokerAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBrokerAddress, err)
	}
	if c.SendTimeout < 0 {
		return errors.New("send timeout cannot be negative")
	}
	return nil
}

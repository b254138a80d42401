package broker

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

var (
	// ErrInvalidListenAddress is returned when the control listen address is empty
	ErrInvalidListenAddress = errors.New("listen address cannot be empty")
	// ErrInvalidTimeout is returned for a negative directive timeout
	ErrInvalidTimeout = errors.New("directive timeout cannot be negative")
)

// Config represents configuration for the broker
type Config struct {
	// ListenAddress is the well-known control address nodes register with
	// Format: "host:port" (e.g., "127.0.0.1:5959")
	ListenAddress string `yaml:"listen_address"`

	// DirectiveTimeout bounds each directive call to a node
	DirectiveTimeout time.Duration `yaml:"directive_timeout"`

	// MaxMessageSize caps control message sizes in bytes
	MaxMessageSize int `yaml:"max_message_size"`

	// ParamDatabase is the parameter store file selected at startup; empty
	// leaves the store unselected until a client calls UseParameterDatabase
	ParamDatabase string `yaml:"param_database"`
}

// NewConfig creates a broker configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = mechos.DefaultBrokerHost + ":" + strconv.Itoa(mechos.DefaultBrokerPort)
	}
	if c.DirectiveTimeout == 0 {
		c.DirectiveTimeout = 2 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return ErrInvalidListenAddress
	}
	if _, err := mechos.ParseEndpoint(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if c.DirectiveTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

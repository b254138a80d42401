package controlrpc

import (
	"errors"
	"time"
)

// Config holds configuration shared by control servers and clients
type Config struct {
	// ListenAddress is the host:port a server binds; port 0 asks the OS for one
	ListenAddress string `yaml:"listen_address"`

	// CallTimeout bounds each client call that has no earlier deadline
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxMessageSize caps encoded request and response sizes in bytes
	MaxMessageSize int `yaml:"max_message_size"`
}

// Validate checks if the configuration can back a server
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.CallTimeout < 0 {
		return errors.New("call timeout cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
}

// Package config loads the broker daemon configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/FelipeJared/mechOS/internal/broker"
	"github.com/FelipeJared/mechOS/internal/httpapi"
	"github.com/FelipeJared/mechOS/internal/logging"
	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable consulted when no file is given
const EnvFile = "MECHOS_CONFIG"

// Params configures the parameter store hosted by the broker
type Params struct {
	// Database is the YAML document selected at startup
	Database string `yaml:"database"`
}

// Config is the daemon configuration file
type Config struct {
	Broker broker.Config  `yaml:"broker"`
	Admin  AdminConfig    `yaml:"admin"`
	Params Params         `yaml:"params"`
	Log    logging.Config `yaml:"log"`
}

// AdminConfig adds an on/off switch to the admin API settings
type AdminConfig struct {
	httpapi.Config `yaml:",inline"`

	// Disabled turns the admin API off
	Disabled bool `yaml:"disabled"`
}

// Default returns a configuration with every section defaulted
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields in every section
func (c *Config) SetDefaults() {
	if c.Broker.ParamDatabase == "" {
		c.Broker.ParamDatabase = c.Params.Database
	}
	c.Broker.SetDefaults()
	c.Admin.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if !c.Admin.Disabled {
		if err := c.Admin.Validate(); err != nil {
			return fmt.Errorf("admin: %w", err)
		}
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Path returns explicit if set, otherwise the value of MECHOS_CONFIG
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(EnvFile)
}

// Load reads the file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML document, applies defaults and validates. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Package discovery locates the broker. Nodes default to the well-known
// control address; MECHOS_BROKER overrides it.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// EnvBroker names the environment variable holding the broker host:port
const EnvBroker = "MECHOS_BROKER"

// Static always returns a fixed address
type Static struct {
	address string
}

// NewStatic creates a static discovery for address
func NewStatic(address string) *Static {
	return &Static{address: address}
}

// FindBroker parses the configured address
func (s *Static) FindBroker(ctx context.Context) (mechos.Endpoint, error) {
	if s.address == "" {
		return mechos.Endpoint{}, ErrNotFound
	}
	return mechos.ParseEndpoint(s.address)
}

// Env reads the broker address from an environment variable
type Env struct {
	name string
}

// NewEnv creates an environment discovery; an empty name means MECHOS_BROKER
func NewEnv(name string) *Env {
	if name == "" {
		name = EnvBroker
	}
	return &Env{name: name}
}

// FindBroker returns ErrNotFound when the variable is unset or empty
func (e *Env) FindBroker(ctx context.Context) (mechos.Endpoint, error) {
	v := os.Getenv(e.name)
	if v == "" {
		return mechos.Endpoint{}, ErrNotFound
	}
	ep, err := mechos.ParseEndpoint(v)
	if err != nil {
		return mechos.Endpoint{}, fmt.Errorf("%s: %w", e.name, err)
	}
	return ep, nil
}

// Chain tries each mechanism in order and returns the first address found
type Chain []Discovery

// FindBroker skips mechanisms reporting ErrNotFound; other errors stop the chain
func (c Chain) FindBroker(ctx context.Context) (mechos.Endpoint, error) {
	for _, d := range c {
		ep, err := d.FindBroker(ctx)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return ep, err
	}
	return mechos.Endpoint{}, ErrNotFound
}

// Default is MECHOS_BROKER, then the well-known control address
func Default() Discovery {
	return Chain{
		NewEnv(EnvBroker),
		NewStatic(mechos.Endpoint{Host: mechos.DefaultBrokerHost, Port: mechos.DefaultBrokerPort}.String()),
	}
}

// BrokerAddress resolves Default to host:port, falling back to the
// well-known address when MECHOS_BROKER is malformed
func BrokerAddress() string {
	ep, err := Default().FindBroker(context.Background())
	if err != nil {
		return mechos.DefaultBrokerHost + ":" + strconv.Itoa(mechos.DefaultBrokerPort)
	}
	return ep.String()
}

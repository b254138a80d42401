package adminclient

import (
	"fmt"
	"time"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the broker admin API (e.g., "http://127.0.0.1:5960")
	ServerURL string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://127.0.0.1:5960"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Node is a registered node as reported by the broker
type Node struct {
	Name         string              `json:"name"`
	PID          int                 `json:"pid"`
	Control      mechos.Endpoint     `json:"control"`
	Publishers   []mechos.EntityInfo `json:"publishers"`
	Subscribers  []mechos.EntityInfo `json:"subscribers"`
	RegisteredAt time.Time           `json:"registered_at"`
}

// Topic summarizes one (topic, protocol) pair
type Topic struct {
	Topic       string          `json:"topic"`
	Protocol    mechos.Protocol `json:"protocol"`
	Publishers  int             `json:"publishers"`
	Subscribers int             `json:"subscribers"`
}

// Health is the broker health report
type Health struct {
	Healthy     bool          `json:"healthy"`
	Nodes       int           `json:"nodes"`
	Publishers  int           `json:"publishers"`
	Subscribers int           `json:"subscribers"`
	Uptime      time.Duration `json:"uptimeNanos"`
	Message     string        `json:"message"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for any response with status >= 400
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

type nodesResponse struct {
	Nodes []Node `json:"nodes"`
}

type topicsResponse struct {
	Topics []Topic `json:"topics"`
}

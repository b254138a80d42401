package httpapi

import (
	"time"

	"github.com/FelipeJared/mechOS/internal/broker"
)

// Request/Response types for the admin API

// NodesResponse lists registered nodes
type NodesResponse struct {
	Nodes []broker.NodeInfo `json:"nodes"`
}

// TopicsResponse lists (topic, protocol) pairs with entity counts
type TopicsResponse struct {
	Topics []broker.TopicInfo `json:"topics"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool          `json:"healthy"`
	Nodes       int           `json:"nodes"`
	Publishers  int           `json:"publishers"`
	Subscribers int           `json:"subscribers"`
	Uptime      time.Duration `json:"uptimeNanos"`
	Message     string        `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

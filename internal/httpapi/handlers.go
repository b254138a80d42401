package httpapi

import (
	"net/http"
	"strings"

	"github.com/FelipeJared/mechOS/internal/broker"
)

// Registry is the read-only view of the broker served by the admin API
type Registry interface {
	Nodes() []broker.NodeInfo
	Node(name string) (broker.NodeInfo, bool)
	Topics() []broker.TopicInfo
	Health() broker.Health
}

var _ Registry = (*broker.Broker)(nil)

// Handlers contains all HTTP request handlers
type Handlers struct {
	registry Registry
}

// NewHandlers creates a new handlers instance
func NewHandlers(registry Registry) *Handlers {
	return &Handlers{registry: registry}
}

// ListNodes handles GET /api/v1/nodes
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.Nodes()
	if nodes == nil {
		nodes = []broker.NodeInfo{}
	}
	writeJSON(w, NodesResponse{Nodes: nodes}, http.StatusOK)
}

// GetNode handles GET /api/v1/nodes/{name}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	name := parsePathParam(r.URL.Path, "/api/v1/nodes/")
	if name == "" {
		writeError(w, "Node name required", http.StatusBadRequest)
		return
	}

	info, ok := h.registry.Node(name)
	if !ok {
		writeError(w, "Node not registered: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// ListTopics handles GET /api/v1/topics
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics := h.registry.Topics()
	if topics == nil {
		topics = []broker.TopicInfo{}
	}
	writeJSON(w, TopicsResponse{Topics: topics}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.registry.Health()

	resp := HealthResponse{
		Healthy:     health.Healthy,
		Nodes:       health.Nodes,
		Publishers:  health.Publishers,
		Subscribers: health.Subscribers,
		Uptime:      health.Uptime,
		Message:     "broker is serving",
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		resp.Message = "broker is shutting down"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// parsePathParam returns the single path segment following prefix, or ""
func parsePathParam(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	param := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if strings.Contains(param, "/") {
		return ""
	}
	return param
}

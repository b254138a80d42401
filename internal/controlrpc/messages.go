package controlrpc

import (
	"github.com/FelipeJared/mechOS/pkg/directive"
	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// RegisterNodeRequest announces a node and its control endpoint to the broker
type RegisterNodeRequest struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Endpoint returns the node's control address
func (r *RegisterNodeRequest) Endpoint() mechos.Endpoint {
	return mechos.Endpoint{Host: r.Host, Port: r.Port}
}

// UnregisterNodeRequest removes a node and everything it owns
type UnregisterNodeRequest struct {
	Name string `json:"name"`
}

// RegisterEntityRequest announces a publisher or subscriber owned by a node
type RegisterEntityRequest struct {
	Node     string          `json:"node"`
	ID       string          `json:"id"`
	Topic    string          `json:"topic"`
	Host     string          `json:"host"`
	Port     int             `json:"port"`
	Protocol mechos.Protocol `json:"protocol"`
}

// Info returns the registry view of the entity
func (r *RegisterEntityRequest) Info() mechos.EntityInfo {
	return mechos.EntityInfo{
		ID:       r.ID,
		Topic:    r.Topic,
		Endpoint: mechos.Endpoint{Host: r.Host, Port: r.Port},
		Protocol: r.Protocol,
	}
}

func newRegisterEntityRequest(node string, info mechos.EntityInfo) *RegisterEntityRequest {
	return &RegisterEntityRequest{
		Node:     node,
		ID:       info.ID,
		Topic:    info.Topic,
		Host:     info.Endpoint.Host,
		Port:     info.Endpoint.Port,
		Protocol: info.Protocol,
	}
}

// BoolReply is the answer to every call that only succeeds or fails
type BoolReply struct {
	OK bool `json:"ok"`
}

// DispatchRequest carries one directive to a node
type DispatchRequest struct {
	Directive directive.Envelope `json:"directive"`
}

// UseDatabaseRequest selects the parameter document file
type UseDatabaseRequest struct {
	Path string `json:"path"`
}

// SetParamRequest stores value under a slash-delimited path
type SetParamRequest struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// GetParamRequest looks up a slash-delimited path
type GetParamRequest struct {
	Path string `json:"path"`
}

// GetParamReply holds the value found, if any
type GetParamReply struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// Package controlrpc is the control-plane transport between nodes and the
// broker.
//
// Three gRPC services are defined by hand rather than generated:
//
//	mechos.control.v1.Broker  node -> broker registration
//	mechos.control.v1.Node    broker -> node directives
//	mechos.control.v1.Params  parameter store hosted by the broker
//
// Messages are plain Go structs encoded as JSON (gRPC content subtype
// "json"). Every Server also serves grpc.health.v1.Health.
package controlrpc

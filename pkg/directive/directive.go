// Package directive defines the closed set of instructions the broker sends
// to a node's control endpoint.
//
// Directives are tagged variants. In memory each is its own struct type and a
// node dispatches with a type switch; on the wire every directive travels as
// an Envelope whose Kind field names the variant.
//
//	switch d := d.(type) {
//	case directive.UpdatePublisher:
//		// accept or record subscriber d.SubscriberID
//	case directive.KillNode:
//		// terminate
//	}
package directive

import (
	"context"
	"errors"
	"fmt"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// Kind names a directive variant on the wire
type Kind string

const (
	KindUpdatePublisher          Kind = "update_publisher"
	KindUpdateSubscriber         Kind = "update_subscriber"
	KindKillPublisher            Kind = "kill_publisher"
	KindKillSubscriber           Kind = "kill_subscriber"
	KindKillPublisherConnection  Kind = "kill_publisher_connection"
	KindKillSubscriberConnection Kind = "kill_subscriber_connection"
	KindKillNode                 Kind = "kill_node"
)

var (
	// ErrUnknownKind is returned when an envelope names no known directive
	ErrUnknownKind = errors.New("unknown directive kind")
	// ErrMissingField is returned when an envelope lacks a field its kind requires
	ErrMissingField = errors.New("directive is missing a required field")
)

// Directive is one broker-to-node instruction. The set of implementations is
// closed to this package.
type Directive interface {
	Kind() Kind
	isDirective()
}

// Handler is implemented by anything that executes directives, normally a node
type Handler interface {
	Handle(ctx context.Context, d Directive) error
}

// UpdatePublisher tells a publisher to attach a matched subscriber.
// TCP publishers accept one connection for it; UDP publishers record its address.
type UpdatePublisher struct {
	PublisherID  string
	SubscriberID string
	Subscriber   mechos.Endpoint
}

// UpdateSubscriber tells a subscriber to attach a matched publisher.
// TCP subscribers dial the publisher; UDP subscribers record it for provenance.
type UpdateSubscriber struct {
	SubscriberID string
	PublisherID  string
	Publisher    mechos.Endpoint
}

// KillPublisher closes every connection of a publisher and removes it from its node
type KillPublisher struct {
	PublisherID string
}

// KillSubscriber closes every connection of a subscriber and removes it from its node
type KillSubscriber struct {
	SubscriberID string
}

// KillPublisherConnection drops one remote subscriber from every local publisher holding it
type KillPublisherConnection struct {
	SubscriberID string
}

// KillSubscriberConnection drops one remote publisher from every local subscriber holding it
type KillSubscriberConnection struct {
	PublisherID string
}

// KillNode terminates the node's process
type KillNode struct{}

func (UpdatePublisher) Kind() Kind          { return KindUpdatePublisher }
func (UpdateSubscriber) Kind() Kind         { return KindUpdateSubscriber }
func (KillPublisher) Kind() Kind            { return KindKillPublisher }
func (KillSubscriber) Kind() Kind           { return KindKillSubscriber }
func (KillPublisherConnection) Kind() Kind  { return KindKillPublisherConnection }
func (KillSubscriberConnection) Kind() Kind { return KindKillSubscriberConnection }
func (KillNode) Kind() Kind                 { return KindKillNode }

func (UpdatePublisher) isDirective()          {}
func (UpdateSubscriber) isDirective()         {}
func (KillPublisher) isDirective()            {}
func (KillSubscriber) isDirective()           {}
func (KillPublisherConnection) isDirective()  {}
func (KillSubscriberConnection) isDirective() {}
func (KillNode) isDirective()                 {}

// Envelope is the wire form of a directive
type Envelope struct {
	Kind         Kind   `json:"kind"`
	PublisherID  string `json:"publisher_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
}

// Wrap converts a directive into its envelope
func Wrap(d Directive) Envelope {
	switch d := d.(type) {
	case UpdatePublisher:
		return Envelope{Kind: d.Kind(), PublisherID: d.PublisherID, SubscriberID: d.SubscriberID,
			Host: d.Subscriber.Host, Port: d.Subscriber.Port}
	case UpdateSubscriber:
		return Envelope{Kind: d.Kind(), PublisherID: d.PublisherID, SubscriberID: d.SubscriberID,
			Host: d.Publisher.Host, Port: d.Publisher.Port}
	case KillPublisher:
		return Envelope{Kind: d.Kind(), PublisherID: d.PublisherID}
	case KillSubscriber:
		return Envelope{Kind: d.Kind(), SubscriberID: d.SubscriberID}
	case KillPublisherConnection:
		return Envelope{Kind: d.Kind(), SubscriberID: d.SubscriberID}
	case KillSubscriberConnection:
		return Envelope{Kind: d.Kind(), PublisherID: d.PublisherID}
	default:
		return Envelope{Kind: d.Kind()}
	}
}

// Unwrap converts an envelope back into a typed directive, checking that the
// fields its kind needs are present.
func (e Envelope) Unwrap() (Directive, error) {
	endpoint := mechos.Endpoint{Host: e.Host, Port: e.Port}

	switch e.Kind {
	case KindUpdatePublisher:
		if err := e.require(true, true, true); err != nil {
			return nil, err
		}
		return UpdatePublisher{PublisherID: e.PublisherID, SubscriberID: e.SubscriberID, Subscriber: endpoint}, nil
	case KindUpdateSubscriber:
		if err := e.require(true, true, true); err != nil {
			return nil, err
		}
		return UpdateSubscriber{SubscriberID: e.SubscriberID, PublisherID: e.PublisherID, Publisher: endpoint}, nil
	case KindKillPublisher:
		if err := e.require(true, false, false); err != nil {
			return nil, err
		}
		return KillPublisher{PublisherID: e.PublisherID}, nil
	case KindKillSubscriber:
		if err := e.require(false, true, false); err != nil {
			return nil, err
		}
		return KillSubscriber{SubscriberID: e.SubscriberID}, nil
	case KindKillPublisherConnection:
		if err := e.require(false, true, false); err != nil {
			return nil, err
		}
		return KillPublisherConnection{SubscriberID: e.SubscriberID}, nil
	case KindKillSubscriberConnection:
		if err := e.require(true, false, false); err != nil {
			return nil, err
		}
		return KillSubscriberConnection{PublisherID: e.PublisherID}, nil
	case KindKillNode:
		return KillNode{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

func (e Envelope) require(publisher, subscriber, endpoint bool) error {
	if publisher && e.PublisherID == "" {
		return fmt.Errorf("%w: %s needs publisher_id", ErrMissingField, e.Kind)
	}
	if subscriber && e.SubscriberID == "" {
		return fmt.Errorf("%w: %s needs subscriber_id", ErrMissingField, e.Kind)
	}
	if endpoint && (e.Host == "" || e.Port <= 0) {
		return fmt.Errorf("%w: %s needs host and port", ErrMissingField, e.Kind)
	}
	return nil
}

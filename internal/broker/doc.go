// Package broker implements mechoscore, the central registry and matcher.
//
// Nodes register themselves, their publishers, and their subscribers. On
// every publisher or subscriber arrival the broker scans the opposite side
// of the registry for entries with the same topic and protocol and pushes an
// UpdateSubscriber directive to the subscriber's node, then an
// UpdatePublisher directive to the publisher's node, for every matching pair.
// Data never flows through the broker.
//
// Unregistering a node tears down every connection into its entities on
// other nodes, kills its entities, and terminates its process.
package broker

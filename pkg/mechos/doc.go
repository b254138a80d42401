// Package mechos provides the shared vocabulary of a mechOS network.
//
// A mechOS network is a set of processes (nodes) that publish and subscribe
// to named topics. A central broker (mechoscore) keeps a registry of every
// node's publishers and subscribers, matches them on (topic, protocol) and
// tells both ends to open a direct TCP or UDP connection. Payload traffic
// never flows through the broker.
//
// This package defines the types that every other package agrees on:
//   - Protocol: the data-plane transport of a publisher or subscriber
//   - Endpoint: a host and port pair
//   - EntityInfo: the addressing metadata the broker holds for a publisher
//     or subscriber
//
// Example usage:
//
//	info := mechos.EntityInfo{
//		ID:       mechos.NewID(),
//		Topic:    "chatter",
//		Endpoint: mechos.Endpoint{Host: "127.0.0.1", Port: 40123},
//		Protocol: mechos.UDP,
//	}
//	if info.Matches(other) {
//		// same topic, same protocol
//	}
package mechos

// Package federation groups the inter-node federation subsystem: identity
// and role tracking per organization, the partnership request ledger, the
// principle-side partner registry, handshake coordination, heartbeat
// liveness, and disconnection handling.
//
// Nodes are independently deployed Flowdeck instances. A bilateral handshake
// (request, accept or reject, acknowledge callback) establishes a trust
// relationship in which one node acts as Principle for a set of Partner
// nodes. Trust rides on a shared secret agreed during the handshake; the
// secret is the correlation key for callbacks and the bearer credential for
// heartbeats. All cross-node notifications are best effort: local state is
// committed first and the remote side reconciles through heartbeats.
package federation

// Package exchange implements the two-path key-exchange protocol.
//
// The initiator mints a session key, caches it immediately (it can encrypt
// outgoing messages before the peer acknowledges), then distributes the key
// wrapped under the recipient's public key: first over the relay endpoints
// as a first-success-wins race, and if no endpoint acks in time, as a
// durable transfer record the recipient polls for. Status rides a
// pending -> sent -> received -> active state machine driven entirely by
// conditional record-store updates, which is what makes activation
// idempotent and path-agnostic.
package exchange

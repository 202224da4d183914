// Package crypto wraps the primitive cryptographic capabilities the bulk
// broadcast protocol treats as opaque external collaborators: a fixed-size
// hash, X25519 Diffie-Hellman key agreement, a pseudorandom byte generator
// seeded from a shared secret, and Ed25519 signatures.
//
// Nothing in this package is protocol-specific; bulk and group only ever
// touch it through the small set of functions declared here, so a different
// primitive suite can be swapped in without touching the state machine.
package crypto

// Package group implements the ordered, immutable membership roster that
// every other part of the anonymous broadcast protocol is indexed against.
//
// A Group pairs each member's long-term identity with their asymmetric
// public key and Diffie-Hellman public component, sorted into a single
// total order that doubles as the slot-index assignment used by the bulk
// round. Groups are value types backed by a shared, copy-on-write roster:
// AddMember and RemoveMember never mutate an existing Group, they return a
// new one that may share storage with the old.
package group

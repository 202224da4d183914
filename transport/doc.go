// Package transport defines the network collaborator a bulk round is built
// against (point-to-point send plus broadcast, at-least-once delivery) and
// the wire encoding of the three post-shuffle message types. It ships an
// in-memory Network for tests and local demos; an HTTP-backed one lives in
// package service.
package transport

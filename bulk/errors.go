package bulk

import "errors"

// Error kinds raised by descriptor parsing, the round state machine, and
// blame processing, per spec §7.
var (
	ErrMalformedDescriptor = errors.New("bulk: malformed descriptor")
	ErrMalformedMessage    = errors.New("bulk: malformed message")
	ErrLengthMismatch      = errors.New("bulk: xor length mismatch")
	ErrHashMismatch        = errors.New("bulk: xor-mask hash did not match its descriptor commitment")
	ErrSlotCollision       = errors.New("bulk: anon_dh matches more than one descriptor")
	ErrSlotMissing         = errors.New("bulk: anon_dh matches no descriptor")
	ErrShuffleFailed       = errors.New("bulk: shuffle round reported failure")
	ErrTimeout             = errors.New("bulk: phase deadline expired")
	ErrLeaderEquivocation  = errors.New("bulk: leader's aggregated output contradicts its logged inputs")
	ErrUnknownState        = errors.New("bulk: unknown round state")
	ErrWrongRound          = errors.New("bulk: event is for a different round id")
	ErrNotReady            = errors.New("bulk: round is not in a state that accepts this event")
)

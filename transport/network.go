package transport

import (
	"context"

	"github.com/nblp/dcnet/group"
)

// Network is the point-to-point + broadcast collaborator a bulk round
// consumes. Delivery is at-least-once and unordered; Broadcast delivers to
// every group member including the sender.
type Network interface {
	Send(ctx context.Context, to group.ID, payload []byte) error
	Broadcast(ctx context.Context, payload []byte) error
}

// Handler is invoked for every payload a Network delivers to the local
// node, whether by unicast Send or Broadcast.
type Handler func(from group.ID, payload []byte)

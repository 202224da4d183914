package shuffle

import (
	"context"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/transport"
)

// Credentials are the local node's long-term identity, passed to a shuffle
// round so it can authenticate its own contribution.
type Credentials struct {
	ID   group.ID
	Priv crypto.PrivateKey
}

// GetDataFunc supplies the local node's contribution for this round,
// chunked; hasMore is false once the final chunk has been returned.
type GetDataFunc func(maxBytes int) (data []byte, hasMore bool)

// Round is the shuffle collaborator a bulk round drives. Start begins the
// shuffle; Output blocks until the shuffle finishes and returns the
// permuted sequence of opaque blobs (one per participant, in shuffle
// order), or the error the shuffle failed with.
type Round interface {
	Start(ctx context.Context) error
	Output(ctx context.Context) ([][]byte, error)
	Cancel()
}

// Factory constructs a fresh Round for one bulk round's descriptor
// (or blame) shuffle.
type Factory func(g *group.Group, creds Credentials, roundID group.ID, net transport.Network, getData GetDataFunc) (Round, error)

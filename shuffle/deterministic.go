package shuffle

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/transport"
)

// ErrCancelled is returned by Output when Cancel was called before the
// shuffle collected every participant's contribution.
var ErrCancelled = errors.New("shuffle: round cancelled")

// Hub coordinates a deterministic stand-in shuffle across every member of a
// single Group: it is not an anonymity-preserving shuffle at all — it just
// sorts contributions lexicographically — which is exactly why it belongs
// only in tests and local demos, never in a real deployment.
type Hub struct {
	size int

	mu     sync.Mutex
	rounds map[group.ID]*pending
}

type pending struct {
	mu        sync.Mutex
	contribs  [][]byte
	done      chan struct{}
	closed    bool
	output    [][]byte
	cancelled bool
}

// finish closes done exactly once, whether triggered by reaching size
// contributions or by an explicit Cancel.
func (p *pending) finish() {
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}

// NewHub builds a Hub for a group of the given size. One Hub drives any
// number of sequential rounds among that fixed membership.
func NewHub(size int) *Hub {
	return &Hub{size: size, rounds: make(map[group.ID]*pending)}
}

func (h *Hub) roundFor(roundID group.ID) *pending {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.rounds[roundID]
	if !ok {
		p = &pending{done: make(chan struct{})}
		h.rounds[roundID] = p
	}
	return p
}

// NewFactory returns a shuffle.Factory backed by this hub.
func (h *Hub) NewFactory() Factory {
	return func(g *group.Group, creds Credentials, roundID group.ID, net transport.Network, getData GetDataFunc) (Round, error) {
		return &deterministicRound{hub: h, roundID: roundID, getData: getData}, nil
	}
}

type deterministicRound struct {
	hub     *Hub
	roundID group.ID
	getData GetDataFunc
}

func (r *deterministicRound) Start(ctx context.Context) error {
	p := r.hub.roundFor(r.roundID)

	var contribution []byte
	for {
		chunk, hasMore := r.getData(1 << 20)
		contribution = append(contribution, chunk...)
		if !hasMore {
			break
		}
	}

	p.mu.Lock()
	p.contribs = append(p.contribs, contribution)
	ready := len(p.contribs) == r.hub.size
	if ready && !p.cancelled {
		sorted := make([][]byte, len(p.contribs))
		copy(sorted, p.contribs)
		sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
		p.output = sorted
		p.finish()
	}
	p.mu.Unlock()

	return nil
}

func (r *deterministicRound) Output(ctx context.Context) ([][]byte, error) {
	p := r.hub.roundFor(r.roundID)
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return nil, ErrCancelled
	}
	return p.output, nil
}

func (r *deterministicRound) Cancel() {
	p := r.hub.roundFor(r.roundID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	p.finish()
}

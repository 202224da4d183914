package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/transport"
)

// envelope is the JSON body a peer's Node posts to another peer's /message
// or /broadcast endpoint: the raw wire payload plus who sent it, since HTTP
// carries no notion of "sender" the way transport.Memory's hub does.
type envelope struct {
	From    group.ID `json:"from"`
	Payload []byte   `json:"payload"`
}

// HTTPNetwork POSTs wire messages to peer HTTP addresses. It is shared by
// every round a Node runs for a given local identity, mirroring how
// transport.Memory's hub is shared by every round its peers run; the
// transport.Network a single round uses comes from ForRound, which puts the
// round id into the request path.
type HTTPNetwork struct {
	self    group.ID
	client  *http.Client
	mu      sync.RWMutex
	peers   map[group.ID]string // roster id -> base URL, e.g. "http://10.0.0.2:8090"
}

// NewHTTPNetwork constructs an HTTPNetwork for the given local identity.
// Peer addresses are added with SetPeerAddr as they become known (typically
// from a static roster config the operator supplies at startup).
func NewHTTPNetwork(self group.ID) *HTTPNetwork {
	return &HTTPNetwork{
		self:   self,
		client: &http.Client{Timeout: 10 * time.Second},
		peers:  make(map[group.ID]string),
	}
}

// SetPeerAddr records the base URL used to reach a roster member.
func (n *HTTPNetwork) SetPeerAddr(id group.ID, baseURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = baseURL
}

func (n *HTTPNetwork) peerAddr(id group.ID) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.peers[id]
	return addr, ok
}

func (n *HTTPNetwork) knownPeers() []group.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]group.ID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

func (n *HTTPNetwork) post(ctx context.Context, baseURL, path string, payload []byte) error {
	body, err := json.Marshal(envelope{From: n.self, Payload: payload})
	if err != nil {
		return fmt.Errorf("service: encoding envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("service: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("service: posting to %s%s: %w", baseURL, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("service: peer at %s%s replied %d", baseURL, path, resp.StatusCode)
	}
	return nil
}

// ForRound returns a transport.Network scoped to one round id, so its
// Send/Broadcast target that round's /round/{id}/message and
// /round/{id}/broadcast endpoints on each peer. transport.Network itself
// carries no round id (the same wire connection serves every round a pair
// of peers ever runs), so the scoping happens here rather than in the
// interface.
func (n *HTTPNetwork) ForRound(roundID group.ID) transport.Network {
	return &roundScopedNetwork{parent: n, roundID: roundID}
}

type roundScopedNetwork struct {
	parent  *HTTPNetwork
	roundID group.ID
}

func (rn *roundScopedNetwork) Send(ctx context.Context, to group.ID, payload []byte) error {
	addr, ok := rn.parent.peerAddr(to)
	if !ok {
		return fmt.Errorf("service: %w: %s", transport.ErrUnknownPeer, to)
	}
	return rn.parent.post(ctx, addr, "/round/"+rn.roundID.String()+"/message", payload)
}

// Broadcast POSTs to every known peer's /round/{id}/broadcast endpoint,
// including this node's own address if it registered itself as a peer,
// matching transport.Memory's self-delivery semantics.
func (rn *roundScopedNetwork) Broadcast(ctx context.Context, payload []byte) error {
	var firstErr error
	for _, id := range rn.parent.knownPeers() {
		addr, _ := rn.parent.peerAddr(id)
		if err := rn.parent.post(ctx, addr, "/round/"+rn.roundID.String()+"/broadcast", payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

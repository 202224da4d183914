package transport

import (
	"context"
	"sync"

	"github.com/nblp/dcnet/group"
)

// Memory is an in-process Network used by tests and local demos: every
// member registered on the same Memory hub can reach every other. It is
// not meant to survive process restarts.
type Memory struct {
	mu       sync.Mutex
	self     group.ID
	peers    map[group.ID]*Memory
	handlers []Handler
}

// NewMemoryHub builds a fully-connected set of in-memory nodes, one per id
// in members, each dispatching delivered payloads to its own Handler once
// OnReceive is called.
func NewMemoryHub(members []group.ID) map[group.ID]*Memory {
	hub := make(map[group.ID]*Memory, len(members))
	for _, id := range members {
		hub[id] = &Memory{self: id, peers: hub}
	}
	return hub
}

// OnReceive registers the callback invoked for every payload delivered to
// this node. Multiple handlers may be registered; all run synchronously in
// registration order.
func (m *Memory) OnReceive(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Memory) deliver(from group.ID, payload []byte) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(from, payload)
	}
}

func (m *Memory) Send(_ context.Context, to group.ID, payload []byte) error {
	peer, ok := m.peers[to]
	if !ok {
		return ErrUnknownPeer
	}
	peer.deliver(m.self, payload)
	return nil
}

func (m *Memory) Broadcast(_ context.Context, payload []byte) error {
	for _, peer := range m.peers {
		peer.deliver(m.self, payload)
	}
	return nil
}

package service

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nblp/dcnet/bulk"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/transport"
)

// Node is an ambient HTTP wrapper around one or more concurrently running
// bulk.Round instances for a single local identity. It is purely wiring:
// the cryptographic core lives entirely in package bulk, and Node never
// makes a protocol decision on its own, it only routes wire bytes between
// bulk.Round.OnEvent and the network, and exposes read-only status and
// metrics for operators.
type Node struct {
	self    group.ID
	net     *HTTPNetwork
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	rounds map[group.ID]*roundEntry
}

type roundEntry struct {
	round     *bulk.Round
	startedAt time.Time
}

// NewNode constructs a Node for the local identity self, POSTing outbound
// wire traffic through an HTTPNetwork the caller populates with peer
// addresses via Network().SetPeerAddr.
func NewNode(self group.ID, metrics *Metrics, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		self:    self,
		net:     NewHTTPNetwork(self),
		metrics: metrics,
		logger:  logger.With(slog.String("node", self.String())),
		rounds:  make(map[group.ID]*roundEntry),
	}
}

// Network returns the HTTPNetwork backing this node's rounds, so callers
// can register peer addresses before starting a round.
func (n *Node) Network() *HTTPNetwork { return n.net }

// NetworkFor returns a transport.Network scoped to roundID, suitable to
// pass as bulk.New's net argument.
func (n *Node) NetworkFor(roundID group.ID) transport.Network {
	return n.net.ForRound(roundID)
}

// Track registers an already-constructed round so the HTTP surface can
// route wire deliveries and status queries to it. The round must have been
// built with n.NetworkFor(roundID) as its Network.
func (n *Node) Track(roundID group.ID, round *bulk.Round) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rounds[roundID] = &roundEntry{round: round, startedAt: time.Now()}

	go func() {
		<-round.Done()
		n.recordOutcome(roundID, round)
	}()
}

func (n *Node) recordOutcome(roundID group.ID, round *bulk.Round) {
	n.mu.RLock()
	entry, ok := n.rounds[roundID]
	n.mu.RUnlock()
	if !ok {
		return
	}

	outcome := "ok"
	bad := round.BadMembers()
	faulty := round.FaultySlots()
	switch {
	case len(bad) > 0 || len(faulty) > 0:
		outcome = "faulty"
		n.metrics.IncBlameRound()
	case round.Cleartexts() == nil:
		outcome = "cancelled"
	}
	n.metrics.ObserveRoundDuration(outcome, time.Since(entry.startedAt).Seconds())
	n.metrics.AddBadMembers(roundID.String(), len(bad))
}

func (n *Node) lookup(w http.ResponseWriter, r *http.Request) (*bulk.Round, bool) {
	id, err := group.IDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "malformed round id", http.StatusBadRequest)
		return nil, false
	}
	n.mu.RLock()
	entry, ok := n.rounds[id]
	n.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown round", http.StatusNotFound)
		return nil, false
	}
	return entry.round, true
}

func (n *Node) handleMessage(w http.ResponseWriter, r *http.Request) {
	n.deliver(w, r)
}

func (n *Node) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	n.deliver(w, r)
}

// deliver decodes the wire envelope, classifies its tag, and feeds it into
// the round's state machine via OnEvent. /message and /broadcast share this
// handler: dispatch is identical either way, the split into two routes
// exists so operators can tell unicast from broadcast traffic apart in
// access logs and per-route request metrics.
func (n *Node) deliver(w http.ResponseWriter, r *http.Request) {
	round, ok := n.lookup(w, r)
	if !ok {
		return
	}

	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	tag, err := transport.DecodeTag(env.Payload)
	if err != nil {
		http.Error(w, "malformed wire payload", http.StatusBadRequest)
		return
	}

	var kind bulk.MessageKind
	switch tag {
	case transport.TagBulkData:
		kind = bulk.KindBulkData
	case transport.TagLoggedBulkData:
		kind = bulk.KindLoggedBulkData
	case transport.TagAggregatedBulkData:
		kind = bulk.KindAggregatedBulkData
	default:
		http.Error(w, "unrecognized wire tag", http.StatusBadRequest)
		return
	}

	if err := round.OnEvent(bulk.Event{
		Kind:    bulk.EventIncomingMessage,
		Sender:  env.From,
		MsgKind: kind,
		Payload: env.Payload,
	}); err != nil {
		n.logger.Warn("dispatching incoming message failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusAccepted)
}

// blameStatus is the read-only view /round/{id}/blame returns: the
// externally observable result of the blame subprotocol, for operators and
// dashboards polling round health rather than a wire transport endpoint.
type blameStatus struct {
	State       string `json:"state"`
	BadMembers  []int  `json:"bad_members"`
	FaultySlots []int  `json:"faulty_slots"`
	Finished    bool   `json:"finished"`
}

func (n *Node) handleBlameStatus(w http.ResponseWriter, r *http.Request) {
	round, ok := n.lookup(w, r)
	if !ok {
		return
	}
	status := blameStatus{
		State:       round.State().String(),
		BadMembers:  round.BadMembers(),
		FaultySlots: round.FaultySlots(),
	}
	select {
	case <-round.Done():
		status.Finished = true
	default:
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Router builds the chi router exposing this node's HTTP surface. metricsHandler
// is typically promhttp.HandlerFor(reg, promhttp.HandlerOpts{}); passed in
// rather than constructed here so a Node doesn't need to own the registry.
func (n *Node) Router(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(accessLog(n.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/round/{id}", func(rr chi.Router) {
		rr.Post("/message", n.handleMessage)
		rr.Post("/broadcast", n.handleBroadcast)
		rr.Get("/blame", n.handleBlameStatus)
	})

	if metricsHandler != nil {
		r.Get("/metrics", metricsHandler.ServeHTTP)
	}

	return r
}

// Shutdown cancels every round still running. Rounds that have already
// finished are unaffected.
func (n *Node) Shutdown() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, entry := range n.rounds {
		select {
		case <-entry.round.Done():
			continue
		default:
			_ = entry.round.OnEvent(bulk.Event{Kind: bulk.EventCancel})
		}
	}
}

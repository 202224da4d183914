package bulk

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/shuffle"
	"github.com/nblp/dcnet/transport"
)

// dhInfo domain-separates shared-secret derivation between the main
// descriptor/mask DH exchange and the long-term registration exchange a
// service layer might also perform over the same key pairs.
var dhInfo = []byte("dcnet-bulk-mask-v1")

// Credentials is the local node's long-term identity: its signing key (for
// a service layer to authenticate wire messages) and the private half of
// the long-term DH component the group roster publishes for it. The round
// mints a separate, round-local anonymous DH keypair on top of this; the
// two must never be confused (see buildMyXorMessageLocked).
type Credentials struct {
	ID     group.ID
	Priv   crypto.PrivateKey
	DHPriv crypto.DHPrivateKey
}

// Round is the bulk round state machine: phase transitions, descriptor
// shuffle orchestration, mask generation, aggregation, and blame. Advance
// it only through OnEvent; the zero value is not usable, construct with
// New.
type Round struct {
	id       group.ID
	self     Credentials
	grp      *group.Group
	cfg      Config
	isLeader bool

	net            transport.Network
	getData        GetDataFunc
	shuffleFactory shuffle.Factory
	blameFactory   shuffle.Factory
	logger         *slog.Logger

	mu    sync.Mutex
	state State

	offlineLog *Log
	log        *Log
	logStore   LogStore

	ctx context.Context

	anonPriv crypto.DHPrivateKey
	anonPub  crypto.DHPublicKey

	myCleartext  []byte
	myOwnMask    []byte // M_me: xor of all peer masks, xor'd with cleartext
	maskSecrets  []crypto.SharedKey

	shuffleRound shuffle.Round
	blameRound   shuffle.Round
	blameRoundID group.ID

	pendingBlameEntries []BlameEntry
	pendingFaultySlots  []int

	descriptors      []Descriptor
	myIdx            int
	expectedBulkSize int32
	slotOffsets      []int32

	accumulator  []byte
	receivedFrom map[group.ID]bool

	receivedPerPeer map[group.ID][]byte

	badMembers map[int]struct{}
	faultySlots []int
	cleartexts  [][]byte

	outbox []outboxItem

	finished atomic.Bool
	done     chan struct{}
}

// outboxKind distinguishes a point-to-point outbox item from a broadcast.
type outboxKind uint8

const (
	outboxBroadcast outboxKind = iota
	outboxSend
)

// outboxItem is an outbound wire message queued while OnEvent holds r.mu,
// to be dispatched by flush only after the lock is released. A Network
// implementation may deliver synchronously, including back to the sender
// (transport.Memory does); calling Send/Broadcast while still holding r.mu
// would re-enter OnEvent for that very delivery and deadlock on a
// non-reentrant mutex.
type outboxItem struct {
	kind    outboxKind
	to      group.ID
	payload []byte
}

// New constructs a Round in state Offline. It mints a fresh anonymous DH
// keypair whose public half is committed inside the descriptor; the
// private half never leaves the round and is never serialized.
func New(
	roundID group.ID,
	self Credentials,
	grp *group.Group,
	cfg Config,
	net transport.Network,
	getData GetDataFunc,
	shuffleFactory shuffle.Factory,
	blameFactory shuffle.Factory,
	logger *slog.Logger,
) (*Round, error) {
	anonPub, anonPriv, err := crypto.GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("bulk: generating anonymous dh keypair: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Round{
		id:              roundID,
		self:            self,
		grp:             grp,
		cfg:             cfg,
		isLeader:        self.ID == grp.Leader(),
		net:             net,
		getData:         getData,
		shuffleFactory:  shuffleFactory,
		blameFactory:    blameFactory,
		logger:          logger.With(slog.String("round_id", roundID.String())),
		state:           Offline,
		offlineLog:      NewLog(),
		log:             NewLog(),
		anonPriv:        anonPriv,
		anonPub:         anonPub,
		myIdx:           -1,
		receivedFrom:    make(map[group.ID]bool),
		receivedPerPeer: make(map[group.ID][]byte),
		badMembers:      make(map[int]struct{}),
		done:            make(chan struct{}),
	}, nil
}

// SetLogStore attaches optional persistence for this round's message log.
// Must be called before Start; a nil store (the default) disables
// persistence entirely.
func (r *Round) SetLogStore(store LogStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logStore = store
}

// appendLog records an entry in the in-memory log and, if a LogStore is
// attached, mirrors it there. A persistence failure is logged and
// otherwise ignored: the in-memory log remains authoritative for the
// running round.
func (r *Round) appendLog(sender group.ID, kind MessageKind, payload []byte, parseErr error) {
	r.log.Append(sender, kind, payload, parseErr)
	if r.logStore == nil {
		return
	}
	if err := r.logStore.Append(r.id, Entry{Sender: sender, Kind: kind, Payload: payload, Err: parseErr}); err != nil {
		r.logger.Warn("persisting log entry failed", slog.Any("error", err))
	}
}

// State returns the round's current phase.
func (r *Round) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BadMembers returns the roster indices implicated so far. Readable at any
// state.
func (r *Round) BadMembers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.badMembers))
	for idx := range r.badMembers {
		out = append(out, idx)
	}
	return out
}

// Cleartexts returns the recovered messages in slot order, or nil if the
// round has not finished successfully.
func (r *Round) Cleartexts() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleartexts
}

// FaultySlots returns the slot indices whose cleartext failed to
// reconstruct even though every contributing peer's revealed secret
// checked out against its public commitment. Unlike BadMembers, these
// cannot be attributed to a roster identity: the fault lies with the
// descriptor the anonymous slot owner itself published.
func (r *Round) FaultySlots() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.faultySlots))
	copy(out, r.faultySlots)
	return out
}

// Done is closed once the round reaches Finished.
func (r *Round) Done() <-chan struct{} { return r.done }

// Start hands control to a freshly constructed shuffle round, per §4.5. The
// data transmitted anonymously on the local node's behalf is the serialized
// Descriptor built from the node's cleartext contribution.
func (r *Round) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Offline {
		r.mu.Unlock()
		return ErrNotReady
	}
	r.ctx = ctx
	r.state = Shuffling

	descriptorBytes, err := r.buildDescriptor()
	if err != nil {
		r.mu.Unlock()
		return err
	}

	round, err := r.shuffleFactory(r.grp, shuffle.Credentials{ID: r.self.ID, Priv: r.self.Priv}, r.id, r.net,
		func(maxBytes int) ([]byte, bool) { return descriptorBytes, false })
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("bulk: creating shuffle round: %w", err)
	}
	r.shuffleRound = round
	r.mu.Unlock()

	if err := round.Start(ctx); err != nil {
		return fmt.Errorf("bulk: starting shuffle round: %w", err)
	}

	go func() {
		output, err := round.Output(ctx)
		r.OnEvent(Event{Kind: EventShuffleFinished, ShuffleOutput: output, ShuffleErr: err})
	}()

	return nil
}

// buildDescriptor implements §4.5's "Shuffle phase" recipe for a cleartext m
// of length L: derive one PRG mask per other peer from a DH shared secret,
// fold them with m into this node's own mask, and commit to every mask's
// hash plus the cleartext's hash.
func (r *Round) buildDescriptor() ([]byte, error) {
	var cleartext []byte
	for {
		chunk, hasMore := r.getData(1 << 20)
		cleartext = append(cleartext, chunk...)
		if !hasMore {
			break
		}
	}

	n := r.grp.Size()
	xorHashes := make([]crypto.Hash, n)
	ownMask := make([]byte, len(cleartext))

	for idx, member := range r.grp.Roster() {
		if member.ID == r.self.ID {
			continue
		}
		secret, err := crypto.DeriveSharedSecret(r.anonPriv, member.DH, dhInfo)
		if err != nil {
			return nil, fmt.Errorf("bulk: deriving mask secret for peer %s: %w", member.ID, err)
		}
		prg, err := crypto.NewPRG(secret)
		if err != nil {
			return nil, fmt.Errorf("bulk: seeding prg for peer %s: %w", member.ID, err)
		}
		mask := prg.Mask(len(cleartext))
		xorHashes[idx] = crypto.HashBytes(mask)
		ownMask, _ = XorInto(ownMask, ownMask, mask)
	}
	ownMask, _ = XorInto(ownMask, ownMask, cleartext)
	selfIdx, err := r.grp.IndexOf(r.self.ID)
	if err != nil {
		return nil, fmt.Errorf("bulk: local id is not a group member: %w", err)
	}
	xorHashes[selfIdx] = crypto.HashBytes(ownMask)

	r.myCleartext = cleartext
	r.myOwnMask = ownMask

	descriptor := Descriptor{
		Length:        int32(len(cleartext)),
		AnonDH:        r.anonPub,
		XorHashes:     xorHashes,
		CleartextHash: crypto.HashBytes(cleartext),
	}
	return EncodeDescriptor(descriptor), nil
}

// OnEvent is the single mutation entrypoint for the state machine: every
// external stimulus (shuffle completion, an incoming message, a timer,
// cancellation) is fed through here as a tagged Event, per §9. Any wire
// messages the transition produces are queued and sent only after r.mu is
// released (see outboxItem).
func (r *Round) OnEvent(ev Event) error {
	r.mu.Lock()
	err := r.dispatchLocked(ev)
	outbox := r.outbox
	r.outbox = nil
	r.mu.Unlock()

	if flushErr := r.flush(outbox); err == nil {
		err = flushErr
	}
	return err
}

func (r *Round) dispatchLocked(ev Event) error {
	if ev.Kind == EventCancel {
		return r.handleCancelLocked()
	}
	if r.state == Finished {
		return nil
	}

	switch ev.Kind {
	case EventShuffleFinished:
		return r.handleShuffleFinishedLocked(ev)
	case EventIncomingMessage:
		return r.handleIncomingMessageLocked(ev)
	case EventTimeout:
		return r.handleTimeoutLocked()
	case EventBlameShuffleFinished:
		return r.handleBlameShuffleFinishedLocked(ev)
	default:
		return fmt.Errorf("bulk: unknown event kind %d", ev.Kind)
	}
}

// flush dispatches queued outbox items after the lock that produced them
// has been released.
func (r *Round) flush(outbox []outboxItem) error {
	var first error
	for _, item := range outbox {
		var err error
		switch item.kind {
		case outboxBroadcast:
			err = r.net.Broadcast(r.ctx, item.payload)
		case outboxSend:
			err = r.net.Send(r.ctx, item.to, item.payload)
		}
		if err != nil && first == nil {
			first = fmt.Errorf("bulk: dispatching queued wire message: %w", err)
		}
	}
	return first
}

func (r *Round) handleCancelLocked() error {
	if r.state == Finished {
		return nil
	}
	if r.shuffleRound != nil {
		r.shuffleRound.Cancel()
	}
	if r.blameRound != nil {
		r.blameRound.Cancel()
	}
	r.cleartexts = nil
	r.badMembers = make(map[int]struct{})
	r.finishLocked()
	return nil
}

func (r *Round) finishLocked() {
	r.state = Finished
	if r.finished.CompareAndSwap(false, true) {
		close(r.done)
	}
}

func (r *Round) handleShuffleFinishedLocked(ev Event) error {
	if r.state != Shuffling {
		return ErrNotReady
	}

	if ev.ShuffleErr != nil {
		r.logger.Warn("shuffle failed", slog.Any("error", ev.ShuffleErr))
		if reporter, ok := ev.ShuffleErr.(interface{ BadMembers() []int }); ok {
			for _, idx := range reporter.BadMembers() {
				r.badMembers[idx] = struct{}{}
			}
		}
		r.finishLocked()
		return nil
	}

	n := r.grp.Size()
	descriptors := make([]Descriptor, 0, len(ev.ShuffleOutput))
	for _, blob := range ev.ShuffleOutput {
		d, err := DecodeDescriptor(blob, n)
		if err != nil {
			r.logger.Warn("malformed descriptor in shuffle output; cannot localize under anonymity")
			r.finishLocked()
			return nil
		}
		descriptors = append(descriptors, d)
	}
	r.descriptors = descriptors

	myIdx := -1
	matches := 0
	var total int32
	offsets := make([]int32, len(descriptors))
	for i, d := range descriptors {
		offsets[i] = total
		total += d.Length
		if d.AnonDH == r.anonPub {
			myIdx = i
			matches++
		}
	}
	if matches != 1 {
		r.logger.Warn("slot identification failed", slog.Int("matches", matches))
		r.finishLocked()
		return nil
	}
	r.myIdx = myIdx
	r.expectedBulkSize = total
	r.slotOffsets = offsets
	r.maskSecrets = make([]crypto.SharedKey, len(descriptors))

	r.state = DataSharing
	r.prepareBlameShuffleLocked()

	myMessage, err := r.buildMyXorMessageLocked()
	if err != nil {
		r.logger.Error("building xor message failed", slog.Any("error", err))
		r.finishLocked()
		return nil
	}

	if err := r.transmitLocked(myMessage); err != nil {
		return err
	}
	return r.replayOfflineLocked()
}

// replayOfflineLocked drains messages buffered in the offline log while the
// round was not yet ready for them and dispatches each in arrival order, as
// if it had just been received. Draining first means a message this round
// still can't place (rare, e.g. AggregatedBulkData before leader mode is
// resolved) gets appended straight back to the offline log rather than
// looping, and once a drained entry is accepted it is recorded in the
// (non-offline) phase log, so a redelivery of the same message afterward is
// caught by the ordinary at-least-once dedup instead of being dropped
// permanently by offlineLog.Seen.
func (r *Round) replayOfflineLocked() error {
	for _, e := range r.offlineLog.Drain() {
		if err := r.handleIncomingMessageLocked(Event{
			Kind:    EventIncomingMessage,
			Sender:  e.Sender,
			MsgKind: e.Kind,
			Payload: e.Payload,
		}); err != nil {
			return err
		}
		if r.state == Finished {
			return nil
		}
	}
	return nil
}

// buildMyXorMessageLocked concatenates, in slot order, this node's
// contribution to every slot: the retained own-slot mask for myIdx, and a
// freshly re-derived pairwise PRG mask for every other slot, per §4.5
// "Mask generation and distribution".
//
// The shared secret for slot i must be derived from this node's LONG-TERM
// DH key against that slot's anonymous DH key, not this node's own
// round-local anonymous key: the slot owner computed its commitment to
// xor_hashes[myIdx] using (their anon priv, my long-term pub) in
// buildDescriptor, and X25519 agreement is symmetric, so the matching value
// here is (my long-term priv, their anon pub).
func (r *Round) buildMyXorMessageLocked() ([]byte, error) {
	buf := &bytes.Buffer{}
	for i, d := range r.descriptors {
		if i == r.myIdx {
			buf.Write(r.myOwnMask)
			continue
		}
		secret, err := crypto.DeriveSharedSecret(r.self.DHPriv, d.AnonDH, dhInfo)
		if err != nil {
			return nil, fmt.Errorf("bulk: deriving mask secret for slot %d: %w", i, err)
		}
		r.maskSecrets[i] = secret
		prg, err := crypto.NewPRG(secret)
		if err != nil {
			return nil, fmt.Errorf("bulk: seeding prg for slot %d: %w", i, err)
		}
		buf.Write(prg.Mask(int(d.Length)))
	}
	return buf.Bytes(), nil
}

func (r *Round) transmitLocked(myMessage []byte) error {
	if !r.grp.Contains(r.self.ID) {
		return fmt.Errorf("bulk: local id is not a group member")
	}

	if r.cfg.AppBroadcast {
		if r.isLeader {
			r.receivedPerPeer[r.self.ID] = myMessage
			r.appendLog(r.self.ID, KindBulkData, myMessage, nil)
			return r.maybeAggregateLocked()
		}
		leaderID := r.grp.Leader()
		wire := transport.EncodeBulkData(transport.BulkData{RoundID: r.id, Payload: myMessage})
		r.outbox = append(r.outbox, outboxItem{kind: outboxSend, to: leaderID, payload: wire})
		return nil
	}

	r.receivedFrom[r.self.ID] = true
	r.accumulator = XorAccumulate(r.accumulator, myMessage)
	r.appendLog(r.self.ID, KindBulkData, myMessage, nil)
	wire := transport.EncodeBulkData(transport.BulkData{RoundID: r.id, Payload: myMessage})
	r.outbox = append(r.outbox, outboxItem{kind: outboxBroadcast, payload: wire})
	return r.maybeFinishNonLeaderLocked()
}

func (r *Round) handleIncomingMessageLocked(ev Event) error {
	if r.log.Seen(ev.Sender, ev.MsgKind) || r.offlineLog.Seen(ev.Sender, ev.MsgKind) {
		return nil
	}

	switch {
	case r.state == DataSharing && !r.cfg.AppBroadcast && ev.MsgKind == KindBulkData:
		return r.handleBroadcastBulkDataLocked(ev)
	case r.state == DataSharing && r.cfg.AppBroadcast && r.isLeader && ev.MsgKind == KindBulkData:
		return r.handleLeaderBulkDataLocked(ev)
	case r.state == DataSharing && r.cfg.AppBroadcast && !r.isLeader && ev.MsgKind == KindAggregatedBulkData:
		return r.handleAggregatedBulkDataLocked(ev)
	case r.state == DataSharing && r.cfg.AppBroadcast && !r.isLeader && ev.MsgKind == KindLoggedBulkData:
		return r.handleLoggedBulkDataLocked(ev)
	default:
		r.offlineLog.Append(ev.Sender, ev.MsgKind, ev.Payload, nil)
		return nil
	}
}

func (r *Round) handleBroadcastBulkDataLocked(ev Event) error {
	msg, err := transport.DecodeBulkData(ev.Payload)
	if err != nil || msg.RoundID != r.id {
		r.appendLog(ev.Sender, ev.MsgKind, ev.Payload, ErrMalformedMessage)
		if idx := r.rosterIndexOrSelf(ev.Sender); idx >= 0 {
			r.badMembers[idx] = struct{}{}
		}
		return nil
	}
	if r.receivedFrom[ev.Sender] {
		return nil
	}

	r.appendLog(ev.Sender, ev.MsgKind, msg.Payload, nil)
	r.receivedFrom[ev.Sender] = true
	r.accumulator = XorAccumulate(r.accumulator, msg.Payload)

	return r.maybeFinishNonLeaderLocked()
}

func (r *Round) maybeFinishNonLeaderLocked() error {
	if len(r.receivedFrom) != r.grp.Size() {
		return nil
	}
	return r.verifyAndFinishLocked(r.accumulator, r.log)
}

func (r *Round) handleLeaderBulkDataLocked(ev Event) error {
	msg, err := transport.DecodeBulkData(ev.Payload)
	if err != nil || msg.RoundID != r.id {
		r.appendLog(ev.Sender, ev.MsgKind, ev.Payload, ErrMalformedMessage)
		if idx := r.rosterIndexOrSelf(ev.Sender); idx >= 0 {
			r.badMembers[idx] = struct{}{}
		}
		return nil
	}
	if _, ok := r.receivedPerPeer[ev.Sender]; ok {
		return nil
	}

	r.appendLog(ev.Sender, ev.MsgKind, msg.Payload, nil)
	r.receivedPerPeer[ev.Sender] = msg.Payload

	return r.maybeAggregateLocked()
}

func (r *Round) maybeAggregateLocked() error {
	if len(r.receivedPerPeer) != r.grp.Size() {
		return nil
	}
	r.state = ProcessingLeaderData

	badPairs := r.checkPerPeerHashesLocked(r.receivedPerPeer)
	if len(badPairs) > 0 {
		for _, pair := range badPairs {
			r.badMembers[pair.peerIdx] = struct{}{}
		}
		peers := make([]transport.PeerPayload, 0, len(r.receivedPerPeer))
		for id, payload := range r.receivedPerPeer {
			peers = append(peers, transport.PeerPayload{PeerID: id, Payload: payload})
		}
		wire := transport.EncodeLoggedBulkData(transport.LoggedBulkData{RoundID: r.id, Peers: peers})
		r.outbox = append(r.outbox, outboxItem{kind: outboxBroadcast, payload: wire})
		r.finishLocked()
		return nil
	}

	var combined []byte
	for _, payload := range r.receivedPerPeer {
		combined = XorAccumulate(combined, payload)
	}
	return r.verifyAndFinishLocked(combined, r.log)
}

type badPair struct {
	slotIdx int
	peerIdx int
}

// checkPerPeerHashesLocked implements §4.5's "Aggregation invariants": for
// every peer's full message and every slot, hash the peer's chunk for that
// slot and compare with the slot descriptor's public commitment. All
// failures are recorded before any abort.
func (r *Round) checkPerPeerHashesLocked(perPeer map[group.ID][]byte) []badPair {
	var bad []badPair
	for sender, payload := range perPeer {
		peerIdx, err := r.grp.IndexOf(sender)
		if err != nil {
			continue
		}
		for slotIdx, d := range r.descriptors {
			start, end := r.slotBoundsLocked(slotIdx)
			if end > len(payload) {
				bad = append(bad, badPair{slotIdx, peerIdx})
				continue
			}
			chunk := payload[start:end]
			if !crypto.HashBytes(chunk).Equal(d.XorHashes[peerIdx]) {
				bad = append(bad, badPair{slotIdx, peerIdx})
			}
		}
	}
	return bad
}

func (r *Round) slotBoundsLocked(slotIdx int) (start, end int) {
	start = int(r.slotOffsets[slotIdx])
	end = start + int(r.descriptors[slotIdx].Length)
	return
}

// verifyAndFinishLocked splits combined by descriptor length and checks
// each slot's cleartext hash. Since every peer's contribution already
// passed checkPerPeerHashesLocked when that check was run (app-broadcast
// mode), a residual mismatch here can only originate with the slot owner's
// own commitment — the case the blame subprotocol exists to localize.
func (r *Round) verifyAndFinishLocked(combined []byte, replayLog *Log) error {
	if len(combined) != int(r.expectedBulkSize) {
		r.finishLocked()
		return nil
	}

	var faulty []int
	cleartexts := make([][]byte, len(r.descriptors))
	for i, d := range r.descriptors {
		start, end := r.slotBoundsLocked(i)
		chunk := combined[start:end]
		if crypto.HashBytes(chunk).Equal(d.CleartextHash) {
			cleartexts[i] = chunk
			continue
		}
		faulty = append(faulty, i)
	}

	if len(faulty) == 0 {
		r.cleartexts = cleartexts
		if r.cfg.AppBroadcast && r.isLeader {
			wire := transport.EncodeAggregatedBulkData(transport.AggregatedBulkData{RoundID: r.id, Payload: combined})
			r.outbox = append(r.outbox, outboxItem{kind: outboxBroadcast, payload: wire})
		}
		r.finishLocked()
		return nil
	}

	// Every peer's contribution already checks out against its public
	// commitment (or this is non-app-broadcast mode, where per-peer chunks
	// were never individually checked): run that direct check now using
	// whatever per-peer log we have.
	perPeer := r.perPeerPayloadsFromLogLocked(replayLog)
	r.receivedPerPeer = perPeer
	badPairs := r.checkPerPeerHashesLocked(perPeer)
	if len(badPairs) > 0 {
		for _, pair := range badPairs {
			r.badMembers[pair.peerIdx] = struct{}{}
		}
		r.finishLocked()
		return nil
	}

	// The leader's own per-peer chunks all check out, so the only remaining
	// explanation is the anonymous slot owner's own commitment; every other
	// peer needs the same per-peer view to reach that conclusion themselves
	// and start blame in step, not just take the leader's word for it.
	if r.cfg.AppBroadcast && r.isLeader {
		peers := make([]transport.PeerPayload, 0, len(perPeer))
		for id, payload := range perPeer {
			peers = append(peers, transport.PeerPayload{PeerID: id, Payload: payload})
		}
		wire := transport.EncodeLoggedBulkData(transport.LoggedBulkData{RoundID: r.id, Peers: peers})
		r.outbox = append(r.outbox, outboxItem{kind: outboxBroadcast, payload: wire})
	}

	return r.beginBlameLocked(faulty)
}

func (r *Round) perPeerPayloadsFromLogLocked(replayLog *Log) map[group.ID][]byte {
	perPeer := make(map[group.ID][]byte)
	for _, e := range replayLog.Entries() {
		if e.Kind == KindBulkData && e.Err == nil {
			perPeer[e.Sender] = e.Payload
		}
	}
	return perPeer
}

// senderSlotChunkLocked returns the bytes sender actually transmitted for
// slotIdx, drawn from whichever per-peer view blame has available (a
// leader's direct receipts, a replayed LoggedBulkData dump, or the phase
// log's own BulkData entries), or nil if none is known.
func (r *Round) senderSlotChunkLocked(sender group.ID, slotIdx int) []byte {
	payload, ok := r.receivedPerPeer[sender]
	if !ok {
		for _, e := range r.log.BySender(sender) {
			if e.Kind == KindBulkData && e.Err == nil {
				payload = e.Payload
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil
	}
	start, end := r.slotBoundsLocked(slotIdx)
	if end > len(payload) {
		return nil
	}
	return payload[start:end]
}

func (r *Round) handleAggregatedBulkDataLocked(ev Event) error {
	r.state = ReceivingLeaderData
	msg, err := transport.DecodeAggregatedBulkData(ev.Payload)
	if err != nil || msg.RoundID != r.id {
		return nil
	}
	r.appendLog(ev.Sender, ev.MsgKind, msg.Payload, nil)
	r.state = ProcessingLeaderData
	return r.verifyLeaderEquivocationThenFinishLocked(msg.Payload)
}

// verifyLeaderEquivocationThenFinishLocked checks the leader's aggregated
// payload against cleartext commitments. A mismatch here — after the
// per-peer logged data (if any) checked out — means the leader's output
// contradicts what it was given, i.e. leader equivocation: detected,
// recovery out of scope.
func (r *Round) verifyLeaderEquivocationThenFinishLocked(combined []byte) error {
	if len(combined) != int(r.expectedBulkSize) {
		r.finishLocked()
		return nil
	}
	cleartexts := make([][]byte, len(r.descriptors))
	for i, d := range r.descriptors {
		start, end := r.slotBoundsLocked(i)
		chunk := combined[start:end]
		if !crypto.HashBytes(chunk).Equal(d.CleartextHash) {
			r.logger.Warn("leader equivocation detected", slog.Any("error", ErrLeaderEquivocation))
			r.finishLocked()
			return nil
		}
		cleartexts[i] = chunk
	}
	r.cleartexts = cleartexts
	r.finishLocked()
	return nil
}

func (r *Round) handleLoggedBulkDataLocked(ev Event) error {
	msg, err := transport.DecodeLoggedBulkData(ev.Payload)
	if err != nil || msg.RoundID != r.id {
		return nil
	}
	r.appendLog(ev.Sender, ev.MsgKind, ev.Payload, nil)
	r.state = ProcessingLeaderData

	perPeer := make(map[group.ID][]byte, len(msg.Peers))
	for _, p := range msg.Peers {
		perPeer[p.PeerID] = p.Payload
	}
	// Kept on the round, not just this call's local scope, so a later blame
	// round can still look up what a peer actually sent for a given slot.
	r.receivedPerPeer = perPeer

	badPairs := r.checkPerPeerHashesLocked(perPeer)
	if len(badPairs) > 0 {
		for _, pair := range badPairs {
			r.badMembers[pair.peerIdx] = struct{}{}
		}
		r.finishLocked()
		return nil
	}

	var combined []byte
	for _, payload := range perPeer {
		combined = XorAccumulate(combined, payload)
	}

	var faulty []int
	for i, d := range r.descriptors {
		start, end := r.slotBoundsLocked(i)
		if end > len(combined) || !crypto.HashBytes(combined[start:end]).Equal(d.CleartextHash) {
			faulty = append(faulty, i)
		}
	}
	if len(faulty) == 0 {
		r.finishLocked()
		return nil
	}
	return r.beginBlameLocked(faulty)
}

func (r *Round) rosterIndexOrSelf(id group.ID) int {
	idx, err := r.grp.IndexOf(id)
	if err != nil {
		return -1
	}
	return idx
}

func (r *Round) handleTimeoutLocked() error {
	var merr *multierror.Error
	expected := make(map[group.ID]bool, r.grp.Size())
	for _, m := range r.grp.Roster() {
		expected[m.ID] = true
	}

	var responded map[group.ID]bool
	switch {
	case r.state == Shuffling:
		r.finishLocked()
		return nil
	case r.cfg.AppBroadcast && r.isLeader:
		responded = r.receivedPerPeer2BoolLocked()
	default:
		responded = r.receivedFrom
	}

	for id := range expected {
		if !responded[id] {
			idx, err := r.grp.IndexOf(id)
			if err == nil {
				r.badMembers[idx] = struct{}{}
			}
			merr = multierror.Append(merr, fmt.Errorf("bulk: peer %s did not respond before deadline", id))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		r.logger.Warn("round timed out waiting for peers", slog.Any("error", err))
	}
	r.finishLocked()
	return nil
}

func (r *Round) receivedPerPeer2BoolLocked() map[group.ID]bool {
	out := make(map[group.ID]bool, len(r.receivedPerPeer))
	for id := range r.receivedPerPeer {
		out[id] = true
	}
	return out
}

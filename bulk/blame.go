package bulk

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/shuffle"
)

// BlameEntry is one peer's anonymous revelation of the DH shared secret it
// used to derive its mask contribution to a slot. DescriptorIndex names the
// slot; PeerIndex names the roster slot of the contributor (not of the
// slot's anonymous owner) whose xor_hashes entry this secret should
// reproduce.
type BlameEntry struct {
	DescriptorIndex int32
	PeerIndex       int32
	SharedSecret    crypto.SharedKey
}

// EncodeBlameEntry serializes e as descriptor_index:i32 | peer_index:i32 |
// secret_len:i32 | secret_bytes.
func EncodeBlameEntry(e BlameEntry) []byte {
	buf := &bytes.Buffer{}
	writeI32(buf, e.DescriptorIndex)
	writeI32(buf, e.PeerIndex)
	secret := e.SharedSecret.Bytes()
	writeI32(buf, int32(len(secret)))
	buf.Write(secret)
	return buf.Bytes()
}

// DecodeBlameEntry parses data into a BlameEntry.
func DecodeBlameEntry(data []byte) (BlameEntry, error) {
	r := bytes.NewReader(data)

	di, err := readI32(r)
	if err != nil {
		return BlameEntry{}, ErrMalformedMessage
	}
	pi, err := readI32(r)
	if err != nil {
		return BlameEntry{}, ErrMalformedMessage
	}
	secret, err := readLenBytes(r)
	if err != nil {
		return BlameEntry{}, ErrMalformedMessage
	}

	return BlameEntry{DescriptorIndex: di, PeerIndex: pi, SharedSecret: crypto.NewSharedKey(secret)}, nil
}

// blameRoundID derives the round id the blame shuffle runs under from the
// bulk round id, keeping the two shuffles distinguishable on the wire
// without needing a second id to be agreed out of band.
func blameRoundID(roundID group.ID) group.ID {
	digest := crypto.HashBytes(append([]byte("dcnet-blame-round-v1"), roundID.Bytes()...))
	id, _ := group.IDFromBytes(digest.Bytes()[:group.IDSize])
	return id
}

// prepareBlameShuffleLocked constructs (but does not start) the blame
// round's shuffle the moment a bulk round enters DataSharing, so it is
// ready to go the instant a hash mismatch is discovered. The data it will
// eventually shuffle is filled in by beginBlameLocked, right before Start
// is called from the same call stack.
func (r *Round) prepareBlameShuffleLocked() {
	if r.blameFactory == nil {
		return
	}
	r.blameRoundID = blameRoundID(r.id)

	getData := func(maxBytes int) ([]byte, bool) {
		var buf bytes.Buffer
		writeI32(&buf, int32(len(r.pendingBlameEntries)))
		for _, e := range r.pendingBlameEntries {
			entry := EncodeBlameEntry(e)
			writeI32(&buf, int32(len(entry)))
			buf.Write(entry)
		}
		return buf.Bytes(), false
	}

	round, err := r.blameFactory(r.grp, shuffle.Credentials{ID: r.self.ID, Priv: r.self.Priv}, r.blameRoundID, r.net, getData)
	if err != nil {
		r.logger.Warn("preparing blame shuffle failed", slog.Any("error", err))
		return
	}
	r.blameRound = round
}

// beginBlameLocked is entered once a reconstructed slot's cleartext fails
// its commitment despite every peer's direct per-slot hash check passing:
// the fault can only be pinned on the anonymous slot owner's own
// descriptor, which direct checks cannot reach (§4.5 "Blame"). Every other
// peer anonymously reveals, for each faulty slot, the shared secret it
// used to build its own contribution, so the group can recompute and
// verify every contributing mask without learning who contributed it.
func (r *Round) beginBlameLocked(faulty []int) error {
	if r.blameRound == nil {
		r.logger.Warn("cannot run blame subprotocol: no blame shuffle available")
		r.finishLocked()
		return nil
	}

	myIdx, err := r.grp.IndexOf(r.self.ID)
	if err != nil {
		return fmt.Errorf("bulk: local id is not a group member: %w", err)
	}

	var entries []BlameEntry
	for _, slotIdx := range faulty {
		if slotIdx == r.myIdx {
			// This node owns the faulty slot; it has no secret to reveal
			// about its own descriptor.
			continue
		}
		entries = append(entries, BlameEntry{
			DescriptorIndex: int32(slotIdx),
			PeerIndex:       int32(myIdx),
			SharedSecret:    r.maskSecrets[slotIdx],
		})
	}
	r.pendingBlameEntries = entries
	r.pendingFaultySlots = append([]int(nil), faulty...)

	if err := r.blameRound.Start(r.ctx); err != nil {
		return fmt.Errorf("bulk: starting blame shuffle: %w", err)
	}

	go func() {
		output, err := r.blameRound.Output(r.ctx)
		r.OnEvent(Event{Kind: EventBlameShuffleFinished, ShuffleOutput: output, ShuffleErr: err})
	}()

	return nil
}

func (r *Round) handleBlameShuffleFinishedLocked(ev Event) error {
	if r.state == Finished {
		return nil
	}
	if ev.ShuffleErr != nil {
		r.logger.Warn("blame shuffle failed", slog.Any("error", ev.ShuffleErr))
		r.finishLocked()
		return nil
	}

	var entries []BlameEntry
	for _, blob := range ev.ShuffleOutput {
		rdr := bytes.NewReader(blob)
		peerCount, err := readI32(rdr)
		if err != nil {
			continue
		}
		for i := int32(0); i < peerCount; i++ {
			entryBytes, err := readLenBytes(rdr)
			if err != nil {
				break
			}
			e, err := DecodeBlameEntry(entryBytes)
			if err != nil {
				continue
			}
			entries = append(entries, e)
		}
	}

	r.processBlameLocked(r.pendingFaultySlots, entries)
	r.finishLocked()
	return nil
}

// processBlameLocked verifies each revealed secret two ways. d.XorHashes[pi]
// was committed by the slot's anonymous owner as
// Hash(PRG(DeriveSharedSecret(anon_priv, roster[pi].DH))); by X25519's
// symmetry that value equals DeriveSharedSecret(roster[pi].priv, d.AnonDH),
// the very secret pi claims to reveal here. So:
//
//  1. DH-consistency: regenerating the mask from e.SharedSecret and hashing
//     it must reproduce d.XorHashes[pi]. A mismatch means the revealed
//     secret could not have come from the (d.AnonDH, roster[pi].DH) pair —
//     pi is lying about what it used, which implicates pi directly.
//  2. Transmission integrity: if the secret checks out, compare the mask it
//     regenerates against the chunk roster[pi] actually sent for this slot.
//     A mismatch there proves pi derived honestly but sent something else —
//     also pi's fault.
//
// A faulty slot whose every revealer passes both checks is recorded in
// FaultySlots instead: the fault is real but, since no revealer could be
// implicated, it can only be the anonymous slot owner's own commitment, and
// that owner's identity is exactly what the shuffle keeps hidden.
func (r *Round) processBlameLocked(faulty []int, entries []BlameEntry) {
	resolved := make(map[int]bool, len(faulty))
	roster := r.grp.Roster()

	for _, e := range entries {
		di := int(e.DescriptorIndex)
		if di < 0 || di >= len(r.descriptors) {
			continue
		}
		d := r.descriptors[di]
		pi := int(e.PeerIndex)
		if pi < 0 || pi >= len(d.XorHashes) || pi >= len(roster) {
			continue
		}

		prg, err := crypto.NewPRG(e.SharedSecret)
		if err != nil {
			r.badMembers[pi] = struct{}{}
			resolved[di] = true
			continue
		}
		mask := prg.Mask(int(d.Length))

		if !crypto.HashBytes(mask).Equal(d.XorHashes[pi]) {
			r.badMembers[pi] = struct{}{}
			resolved[di] = true
			continue
		}

		sent := r.senderSlotChunkLocked(roster[pi].ID, di)
		if sent != nil && !bytes.Equal(sent, mask) {
			r.badMembers[pi] = struct{}{}
			resolved[di] = true
		}
	}

	for _, slotIdx := range faulty {
		if !resolved[slotIdx] {
			r.faultySlots = append(r.faultySlots, slotIdx)
		}
	}
}

package bulk

import (
	"testing"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/stretchr/testify/require"
)

func TestBlameEntryRoundTrip(t *testing.T) {
	e := BlameEntry{
		DescriptorIndex: 2,
		PeerIndex:       1,
		SharedSecret:    crypto.NewSharedKey([]byte("some shared secret material")),
	}
	decoded, err := DecodeBlameEntry(EncodeBlameEntry(e))
	require.NoError(t, err)
	require.Equal(t, e.DescriptorIndex, decoded.DescriptorIndex)
	require.Equal(t, e.PeerIndex, decoded.PeerIndex)
	require.Equal(t, e.SharedSecret.Bytes(), decoded.SharedSecret.Bytes())
}

func TestDecodeBlameEntryRejectsTruncated(t *testing.T) {
	e := BlameEntry{DescriptorIndex: 0, PeerIndex: 0, SharedSecret: crypto.NewSharedKey([]byte("secret"))}
	encoded := EncodeBlameEntry(e)
	_, err := DecodeBlameEntry(encoded[:len(encoded)-4])
	require.Error(t, err)
}

func TestBlameRoundIDDeterministicAndDistinctFromBulkRound(t *testing.T) {
	roundID := group.NewID()
	a := blameRoundID(roundID)
	b := blameRoundID(roundID)
	require.Equal(t, a, b)
	require.NotEqual(t, roundID, a)
}

func newBlameTestDescriptor(t *testing.T, secrets []crypto.SharedKey, length int32) Descriptor {
	t.Helper()
	hashes := make([]crypto.Hash, len(secrets))
	for i, secret := range secrets {
		prg, err := crypto.NewPRG(secret)
		require.NoError(t, err)
		hashes[i] = crypto.HashBytes(prg.Mask(int(length)))
	}
	return Descriptor{Length: length, XorHashes: hashes, CleartextHash: crypto.HashBytes([]byte("whatever"))}
}

// newBlameTestRound builds a bare Round with just enough state for
// processBlameLocked: a two-member group (so PeerIndex 0/1 resolve) and an
// empty phase log (so a lookup for a peer's actually-sent chunk finds
// nothing rather than panicking on a nil log).
func newBlameTestRound(t *testing.T, descriptors []Descriptor) *Round {
	t.Helper()
	roster := []group.Member{
		{ID: group.NewID(), Key: group.EmptyKey, DH: group.EmptyDH},
		{ID: group.NewID(), Key: group.EmptyKey, DH: group.EmptyDH},
	}
	grp, err := group.New(roster, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	return &Round{
		grp:             grp,
		descriptors:     descriptors,
		badMembers:      make(map[int]struct{}),
		log:             NewLog(),
		receivedPerPeer: make(map[group.ID][]byte),
	}
}

// TestProcessBlameLockedDetectsBadPeerWithFakeSecret exercises the
// DH-consistency branch: a revealed secret that fails to reproduce its
// committed hash could not have come from the (AnonDH, peer's long-term DH)
// pair, so the revealing peer's roster index is blamed and the slot is
// resolved.
func TestProcessBlameLockedDetectsBadPeerWithFakeSecret(t *testing.T) {
	goodSecret := crypto.NewSharedKey([]byte("peer-1-honest-secret"))
	d := newBlameTestDescriptor(t, []crypto.SharedKey{goodSecret, goodSecret}, 32)
	r := newBlameTestRound(t, []Descriptor{d})

	wrongSecret := crypto.NewSharedKey([]byte("a totally different secret"))
	entries := []BlameEntry{
		{DescriptorIndex: 0, PeerIndex: 1, SharedSecret: wrongSecret},
	}

	r.processBlameLocked([]int{0}, entries)

	require.Contains(t, r.badMembers, 1)
	require.Empty(t, r.faultySlots)
}

// TestProcessBlameLockedDetectsBadPeerWithCorruptedTransmission exercises
// the transmission-integrity branch: the revealed secret is DH-consistent
// (it reproduces the committed hash), but what the peer actually sent for
// this slot differs from the mask that secret regenerates — proof the peer
// derived its contribution honestly but transmitted something else.
func TestProcessBlameLockedDetectsBadPeerWithCorruptedTransmission(t *testing.T) {
	secret := crypto.NewSharedKey([]byte("peer-1-honest-secret"))
	d := newBlameTestDescriptor(t, []crypto.SharedKey{secret, secret}, 32)
	r := newBlameTestRound(t, []Descriptor{d})
	r.slotOffsets = []int32{0}

	prg, err := crypto.NewPRG(secret)
	require.NoError(t, err)
	honestMask := prg.Mask(32)
	corrupted := append([]byte(nil), honestMask...)
	corrupted[0] ^= 0xFF
	r.receivedPerPeer[r.grp.Roster()[1].ID] = corrupted

	entries := []BlameEntry{
		{DescriptorIndex: 0, PeerIndex: 1, SharedSecret: secret},
	}

	r.processBlameLocked([]int{0}, entries)

	require.Contains(t, r.badMembers, 1)
	require.Empty(t, r.faultySlots)
}

// TestProcessBlameLockedLeavesSlotFaultyWhenNoPeerIsAtFault exercises the
// residual case: every contributor's revealed secret is DH-consistent and
// matches what they actually sent, so the fault must belong to the
// anonymous slot owner, which cannot be attributed to a roster identity.
func TestProcessBlameLockedLeavesSlotFaultyWhenNoPeerIsAtFault(t *testing.T) {
	secret := crypto.NewSharedKey([]byte("peer-1-honest-secret"))
	d := newBlameTestDescriptor(t, []crypto.SharedKey{secret, secret}, 32)
	r := newBlameTestRound(t, []Descriptor{d})
	r.slotOffsets = []int32{0}

	prg, err := crypto.NewPRG(secret)
	require.NoError(t, err)
	r.receivedPerPeer[r.grp.Roster()[1].ID] = prg.Mask(32)

	entries := []BlameEntry{
		{DescriptorIndex: 0, PeerIndex: 1, SharedSecret: secret},
	}

	r.processBlameLocked([]int{0}, entries)

	require.Empty(t, r.badMembers)
	require.Equal(t, []int{0}, r.faultySlots)
}

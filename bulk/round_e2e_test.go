package bulk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/shuffle"
	"github.com/nblp/dcnet/transport"
	"github.com/stretchr/testify/require"
)

type testPeer struct {
	member group.Member
	creds  Credentials
}

func newTestPeer(t *testing.T) testPeer {
	t.Helper()
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	dhPub, dhPriv, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)
	id := group.NewID()

	return testPeer{
		member: group.Member{ID: id, Key: pub, DH: dhPub},
		creds:  Credentials{ID: id, Priv: priv, DHPriv: dhPriv},
	}
}

// wireIncoming translates raw wire deliveries on mem into EventIncomingMessage
// calls against round, the way a service layer's HTTP handler would.
func wireIncoming(mem *transport.Memory, round *Round) {
	mem.OnReceive(func(from group.ID, payload []byte) {
		tag, err := transport.DecodeTag(payload)
		if err != nil {
			return
		}
		var kind MessageKind
		switch tag {
		case transport.TagBulkData:
			kind = KindBulkData
		case transport.TagLoggedBulkData:
			kind = KindLoggedBulkData
		case transport.TagAggregatedBulkData:
			kind = KindAggregatedBulkData
		default:
			return
		}
		_ = round.OnEvent(Event{Kind: EventIncomingMessage, Sender: from, MsgKind: kind, Payload: payload})
	})
}

func staticData(payload []byte) GetDataFunc {
	return func(maxBytes int) ([]byte, bool) { return payload, false }
}

func waitAllDone(t *testing.T, rounds []*Round) {
	t.Helper()
	for _, r := range rounds {
		select {
		case <-r.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("round did not finish before timeout")
		}
	}
}

// TestHonestBroadcastRoundRecoversAllCleartexts covers spec scenario S1: three
// honest peers, non-application-broadcast mode, no faults.
func TestHonestBroadcastRoundRecoversAllCleartexts(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member, peers[2].member}
	grp, err := group.New(members, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID, members[2].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(3)
	cfg := Config{AppBroadcast: false}

	cleartexts := [][]byte{[]byte("alpha message"), []byte("bravo message"), []byte("charlie msg!!")}

	rounds := make([]*Round, 3)
	roundID := group.NewID()
	for i, p := range peers {
		r, err := New(roundID, p.creds, grp, cfg, hub[p.member.ID], staticData(cleartexts[i]),
			shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
		require.NoError(t, err)
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	for _, r := range rounds {
		require.Empty(t, r.BadMembers())
		require.Empty(t, r.FaultySlots())
		got := r.Cleartexts()
		require.Len(t, got, 3)

		gotSet := map[string]bool{}
		for _, c := range got {
			gotSet[string(c)] = true
		}
		for _, want := range cleartexts {
			require.True(t, gotSet[string(want)], "missing cleartext %q", want)
		}
	}
}

// TestAppBroadcastLeaderAggregatesAllPeers covers spec scenario S3: leader
// aggregation mode with every peer honest.
func TestAppBroadcastLeaderAggregatesAllPeers(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member, peers[2].member}
	leader := members[0].ID
	grp, err := group.New(members, leader, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID, members[2].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(3)
	cfg := Config{AppBroadcast: true}

	cleartexts := [][]byte{[]byte("leader-slot"), []byte("peer-two-slot"), []byte("peer-three-slot")}

	rounds := make([]*Round, 3)
	roundID := group.NewID()
	for i, p := range peers {
		r, err := New(roundID, p.creds, grp, cfg, hub[p.member.ID], staticData(cleartexts[i]),
			shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
		require.NoError(t, err)
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	for _, r := range rounds {
		require.Empty(t, r.BadMembers())
		got := r.Cleartexts()
		require.Len(t, got, 3)
	}
}

// TestBroadcastModeHandlesHeterogeneousSlotLengths checks that peers
// contributing cleartexts of different lengths still recombine correctly:
// slot boundaries come from each descriptor's own committed Length, not a
// fixed per-round slot size.
func TestBroadcastModeHandlesHeterogeneousSlotLengths(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member}
	grp, err := group.New(members, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(2)
	cfg := Config{AppBroadcast: false}

	roundID := group.NewID()
	rounds := make([]*Round, 2)
	data := [][]byte{[]byte("short"), []byte("a rather longer message")}
	for i, p := range peers {
		r, err := New(roundID, p.creds, grp, cfg, hub[p.member.ID], staticData(data[i]),
			shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
		require.NoError(t, err)
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	for _, r := range rounds {
		require.Empty(t, r.BadMembers())
		got := r.Cleartexts()
		require.Len(t, got, 2)
		gotSet := map[string]bool{}
		for _, c := range got {
			gotSet[string(c)] = true
		}
		for _, want := range data {
			require.True(t, gotSet[string(want)], "missing cleartext %q", want)
		}
	}
}

// TestCancelStopsRoundImmediately exercises EventCancel: a round cancelled
// before the shuffle completes finishes with no recovered cleartexts.
func TestCancelStopsRoundImmediately(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member}
	grp, err := group.New(members, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(2)
	cfg := Config{AppBroadcast: false}

	roundID := group.NewID()
	r, err := New(roundID, peers[0].creds, grp, cfg, hub[peers[0].member.ID], staticData([]byte("won't finish")),
		shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
	require.NoError(t, err)
	wireIncoming(hub[peers[0].member.ID], r)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.OnEvent(Event{Kind: EventCancel}))

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled round did not finish")
	}
	require.Nil(t, r.Cleartexts())
}

// corruptingNetwork wraps a transport.Network and flips a bit in the first
// byte of any outgoing BulkData payload, simulating a peer whose mask
// contribution arrives corrupted in transit.
type corruptingNetwork struct {
	transport.Network
}

func corruptBulkDataWire(payload []byte) []byte {
	tag, err := transport.DecodeTag(payload)
	if err != nil || tag != transport.TagBulkData {
		return payload
	}
	msg, err := transport.DecodeBulkData(payload)
	if err != nil || len(msg.Payload) == 0 {
		return payload
	}
	corrupted := append([]byte(nil), msg.Payload...)
	corrupted[0] ^= 0xFF
	return transport.EncodeBulkData(transport.BulkData{RoundID: msg.RoundID, Payload: corrupted})
}

func (c corruptingNetwork) Send(ctx context.Context, to group.ID, payload []byte) error {
	return c.Network.Send(ctx, to, corruptBulkDataWire(payload))
}

func (c corruptingNetwork) Broadcast(ctx context.Context, payload []byte) error {
	return c.Network.Broadcast(ctx, corruptBulkDataWire(payload))
}

// TestBroadcastModeBlamesCorruptedSender covers spec scenario S2: one peer's
// xor-mask chunk is corrupted in transit, non-application-broadcast mode, so
// the mismatch is caught directly against that sender's own committed hash
// without ever invoking the blame subprotocol.
func TestBroadcastModeBlamesCorruptedSender(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member, peers[2].member}
	grp, err := group.New(members, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID, members[2].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(3)
	cfg := Config{AppBroadcast: false}

	cleartexts := [][]byte{[]byte("alpha message"), []byte("bravo message!"), []byte("charlie msg!!")}

	rounds := make([]*Round, 3)
	roundID := group.NewID()
	for i, p := range peers {
		var net transport.Network = hub[p.member.ID]
		if i == 1 {
			net = corruptingNetwork{hub[p.member.ID]}
		}
		r, err := New(roundID, p.creds, grp, cfg, net, staticData(cleartexts[i]),
			shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
		require.NoError(t, err)
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	badIdx, err := grp.IndexOf(members[1].ID)
	require.NoError(t, err)

	// Only the two honest peers get to observe the corrupted sender; the
	// corrupting wrapper only mangles what leaves peer 1 over the wire, so
	// peer 1's own local accumulation (recorded before the wrapper runs)
	// stays uncorrupted from its own point of view.
	for _, i := range []int{0, 2} {
		require.Equal(t, []int{badIdx}, rounds[i].BadMembers())
		require.Empty(t, rounds[i].FaultySlots())
	}
}

// corruptingBlameFactory wraps a shuffle.Factory so every blame entry the
// wrapped round contributes carries a fabricated shared secret instead of
// the one it actually used, simulating a contributor that lies about its
// mask derivation once blame is underway.
func corruptingBlameFactory(real shuffle.Factory) shuffle.Factory {
	return func(g *group.Group, creds shuffle.Credentials, roundID group.ID, net transport.Network, getData shuffle.GetDataFunc) (shuffle.Round, error) {
		corrupted := func(maxBytes int) ([]byte, bool) {
			data, hasMore := getData(maxBytes)
			return corruptBlameEntries(data), hasMore
		}
		return real(g, creds, roundID, net, corrupted)
	}
}

func corruptBlameEntries(data []byte) []byte {
	r := bytes.NewReader(data)
	count, err := readI32(r)
	if err != nil {
		return data
	}
	var buf bytes.Buffer
	writeI32(&buf, count)
	for i := int32(0); i < count; i++ {
		entryBytes, err := readLenBytes(r)
		if err != nil {
			return data
		}
		e, err := DecodeBlameEntry(entryBytes)
		if err != nil {
			return data
		}
		e.SharedSecret = crypto.NewSharedKey([]byte("fabricated secret, not what was used"))
		corruptedEntry := EncodeBlameEntry(e)
		writeI32(&buf, int32(len(corruptedEntry)))
		buf.Write(corruptedEntry)
	}
	return buf.Bytes()
}

// corruptingShuffleFactory wraps a shuffle.Factory so the descriptor whose
// anon_dh equals targetAnonDH has its committed cleartext hash replaced,
// simulating an anonymous slot owner who published a commitment that
// disagrees with its own later contribution. Every direct per-peer hash
// check still passes since xor_hashes is untouched, so the mismatch only
// surfaces at final cleartext verification and must be resolved by blame.
func corruptingShuffleFactory(real shuffle.Factory, groupSize int, targetAnonDH crypto.DHPublicKey) shuffle.Factory {
	return func(g *group.Group, creds shuffle.Credentials, roundID group.ID, net transport.Network, getData shuffle.GetDataFunc) (shuffle.Round, error) {
		round, err := real(g, creds, roundID, net, getData)
		if err != nil {
			return nil, err
		}
		return corruptedShuffleRound{Round: round, groupSize: groupSize, targetAnonDH: targetAnonDH}, nil
	}
}

type corruptedShuffleRound struct {
	shuffle.Round
	groupSize    int
	targetAnonDH crypto.DHPublicKey
}

func (c corruptedShuffleRound) Output(ctx context.Context) ([][]byte, error) {
	out, err := c.Round.Output(ctx)
	if err != nil {
		return nil, err
	}
	copied := append([][]byte(nil), out...)
	for i, blob := range copied {
		d, err := DecodeDescriptor(blob, c.groupSize)
		if err != nil || d.AnonDH != c.targetAnonDH {
			continue
		}
		d.CleartextHash = crypto.HashBytes([]byte("a commitment that cannot match any real cleartext"))
		copied[i] = EncodeDescriptor(d)
		break
	}
	return copied, nil
}

// TestAppBroadcastLeaderBlamesLyingContributorAfterReplay covers spec
// scenario S4: an anonymous slot owner's cleartext commitment disagrees with
// its own contribution (every direct per-peer hash check still passes), the
// leader aggregates and broadcasts the logged per-peer dump for everyone to
// replay independently, and the blame subprotocol that follows is resolved
// because one contributor lies about the secret it used.
func TestAppBroadcastLeaderBlamesLyingContributorAfterReplay(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member, peers[2].member}
	leader := members[0].ID
	grp, err := group.New(members, leader, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID, members[2].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(3)
	cfg := Config{AppBroadcast: true}

	ownerAnonPub, ownerAnonPriv, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)

	cleartexts := [][]byte{[]byte("leader-slot"), []byte("owner-slot-data"), []byte("lying-peer-slot")}

	rounds := make([]*Round, 3)
	roundID := group.NewID()
	for i, p := range peers {
		mainFactory := corruptingShuffleFactory(shuffleHub.NewFactory(), 3, ownerAnonPub)
		blameFactory := shuffleHub.NewFactory()
		if i == 2 {
			blameFactory = corruptingBlameFactory(blameFactory)
		}
		r, err := New(roundID, p.creds, grp, cfg, hub[p.member.ID], staticData(cleartexts[i]),
			mainFactory, blameFactory, nil)
		require.NoError(t, err)
		if i == 1 {
			r.anonPub = ownerAnonPub
			r.anonPriv = ownerAnonPriv
		}
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	lyingIdx, err := grp.IndexOf(members[2].ID)
	require.NoError(t, err)

	for _, r := range rounds {
		require.Equal(t, []int{lyingIdx}, r.BadMembers())
		require.Empty(t, r.FaultySlots())
	}
}

// TestSlotCollisionAbortsWithNoCleartextsOrBlame covers spec scenario S6: two
// descriptors commit to the same anonymous DH key, leaving slot ownership
// ambiguous. A round whose own key matches more than one descriptor cannot
// safely proceed and aborts without recovering anything or blaming anyone,
// since from its own point of view it cannot tell which descriptor is
// genuinely its own.
func TestSlotCollisionAbortsWithNoCleartextsOrBlame(t *testing.T) {
	peers := []testPeer{newTestPeer(t), newTestPeer(t)}
	members := []group.Member{peers[0].member, peers[1].member}
	grp, err := group.New(members, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	ids := []group.ID{members[0].ID, members[1].ID}
	hub := transport.NewMemoryHub(ids)
	shuffleHub := shuffle.NewHub(2)
	cfg := Config{AppBroadcast: false}

	roundID := group.NewID()
	rounds := make([]*Round, 2)
	data := [][]byte{[]byte("alpha"), []byte("bravo")}
	for i, p := range peers {
		r, err := New(roundID, p.creds, grp, cfg, hub[p.member.ID], staticData(data[i]),
			shuffleHub.NewFactory(), shuffleHub.NewFactory(), nil)
		require.NoError(t, err)
		wireIncoming(hub[p.member.ID], r)
		rounds[i] = r
	}

	sharedPub, sharedPriv, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)
	for _, r := range rounds {
		r.anonPub = sharedPub
		r.anonPriv = sharedPriv
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	waitAllDone(t, rounds)

	for _, r := range rounds {
		require.Empty(t, r.BadMembers())
		require.Empty(t, r.Cleartexts())
	}
}

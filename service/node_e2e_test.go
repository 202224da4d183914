package service

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/nblp/dcnet/bulk"
	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/shuffle"
)

type testMember struct {
	id     group.ID
	creds  bulk.Credentials
	dhPub  crypto.DHPublicKey
	node   *Node
	server *httptest.Server
}

func newTestMember(t *testing.T) *testMember {
	t.Helper()
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	dhPub, dhPriv, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)
	id := group.NewID()

	registry := prometheus.NewRegistry()
	node := NewNode(id, NewMetrics(registry), nil)
	server := httptest.NewServer(node.Router(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &testMember{
		id:     id,
		creds:  bulk.Credentials{ID: id, Priv: priv, DHPriv: dhPriv},
		dhPub:  dhPub,
		node:   node,
		server: server,
	}
}

// TestNodeHTTPTransportCompletesHonestRound wires three real HTTP servers
// together through HTTPNetwork and confirms a bulk round run entirely over
// the wire transport, not transport.Memory, still recovers every cleartext.
func TestNodeHTTPTransportCompletesHonestRound(t *testing.T) {
	members := []*testMember{newTestMember(t), newTestMember(t), newTestMember(t)}
	defer func() {
		for _, m := range members {
			m.server.Close()
		}
	}()

	var roster []group.Member
	for _, m := range members {
		roster = append(roster, group.Member{ID: m.id, Key: nil, DH: m.dhPub})
	}
	grp, err := group.New(roster, group.ZeroID, group.CompleteGroup)
	require.NoError(t, err)

	for _, m := range members {
		for _, peer := range members {
			m.node.Network().SetPeerAddr(peer.id, peer.server.URL)
		}
	}

	hub := shuffle.NewHub(len(members))
	cfg := bulk.Config{AppBroadcast: false}
	roundID := group.NewID()

	cleartexts := [][]byte{[]byte("wire-alpha"), []byte("wire-bravo"), []byte("wire-charlie")}
	rounds := make([]*bulk.Round, len(members))
	for i, m := range members {
		data := cleartexts[i]
		round, err := bulk.New(roundID, m.creds, grp, cfg, m.node.NetworkFor(roundID),
			func(maxBytes int) ([]byte, bool) { return data, false },
			hub.NewFactory(), hub.NewFactory(), nil)
		require.NoError(t, err)
		m.node.Track(roundID, round)
		rounds[i] = round
	}

	ctx := context.Background()
	for _, r := range rounds {
		require.NoError(t, r.Start(ctx))
	}

	for _, r := range rounds {
		select {
		case <-r.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("round did not finish over http transport before timeout")
		}
	}

	for _, r := range rounds {
		require.Empty(t, r.BadMembers())
		got := r.Cleartexts()
		require.Len(t, got, len(cleartexts))
	}
}

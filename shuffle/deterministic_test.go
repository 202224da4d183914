package shuffle

import (
	"context"
	"sync"
	"testing"

	"github.com/nblp/dcnet/group"
	"github.com/stretchr/testify/require"
)

func TestHubPermutesAndDeliversSameOutputToAll(t *testing.T) {
	hub := NewHub(3)
	factory := hub.NewFactory()
	roundID := group.NewID()
	contributions := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie")}

	var wg sync.WaitGroup
	outputs := make([][][]byte, 3)
	for i := 0; i < 3; i++ {
		i := i
		r, err := factory(nil, Credentials{}, roundID, nil, func(max int) ([]byte, bool) {
			return contributions[i], false
		})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, r.Start(context.Background()))
			out, err := r.Output(context.Background())
			require.NoError(t, err)
			outputs[i] = out
		}()
	}
	wg.Wait()

	for i := 1; i < 3; i++ {
		require.Equal(t, outputs[0], outputs[i])
	}
	require.Len(t, outputs[0], 3)
}

func TestHubCancelBeforeReadyReturnsErrCancelled(t *testing.T) {
	hub := NewHub(2)
	factory := hub.NewFactory()
	roundID := group.NewID()

	r, err := factory(nil, Credentials{}, roundID, nil, func(max int) ([]byte, bool) { return []byte("only-one"), false })
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	r.Cancel()

	_, err = r.Output(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
}

package bulk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXorIntoRecoversOriginal(t *testing.T) {
	a := []byte("the quick brown fox")
	b := []byte("jumps over the lazy")

	masked, err := XorInto(nil, a, b)
	require.NoError(t, err)

	recovered, err := XorInto(nil, masked, b)
	require.NoError(t, err)
	require.Equal(t, a, recovered)
}

func TestXorIntoLengthMismatch(t *testing.T) {
	_, err := XorInto(nil, []byte("short"), []byte("longer string"))
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestXorIntoReusesCapacity(t *testing.T) {
	dst := make([]byte, 0, 8)
	out, err := XorInto(dst, []byte("abcd"), []byte("efgh"))
	require.NoError(t, err)
	require.Len(t, out, 4)
}

func TestXorAccumulateFoldsMultipleDeltas(t *testing.T) {
	var acc []byte
	acc = XorAccumulate(acc, []byte{0x01, 0x02, 0x03})
	acc = XorAccumulate(acc, []byte{0x01, 0x00, 0x00})
	require.Equal(t, []byte{0x00, 0x02, 0x03}, acc)
}

func TestXorAccumulateGrowsForLongerDelta(t *testing.T) {
	acc := []byte{0xff}
	acc = XorAccumulate(acc, []byte{0x00, 0xff, 0xff})
	require.Equal(t, []byte{0xff, 0xff, 0xff}, acc)
}

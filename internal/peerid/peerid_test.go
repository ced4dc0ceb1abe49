package peerid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkIDOrdering(t *testing.T) {
	require.True(t, Public.Less(VFN))
	require.True(t, VFN.Less(Validator))
	require.False(t, Validator.Less(Public))
}

func TestPeerKeyOrdersNetworkFirst(t *testing.T) {
	low := PeerKey{Network: Public, ID: ParseOrPanic("0xff")}
	high := PeerKey{Network: Validator, ID: ParseOrPanic("0x01")}

	require.True(t, low.Less(high))
	require.Equal(t, -1, Compare(low, high))
	require.Equal(t, 1, Compare(high, low))
	require.Equal(t, 0, Compare(low, low))
}

func TestPeerKeyTiebreaksOnPeerID(t *testing.T) {
	a := PeerKey{Network: VFN, ID: ParseOrPanic("0x01")}
	b := PeerKey{Network: VFN, ID: ParseOrPanic("0x02")}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestPeerKeyIsHashable(t *testing.T) {
	set := map[PeerKey]bool{}
	set[PeerKey{Network: Public, ID: ParseOrPanic("0x01")}] = true
	require.True(t, set[PeerKey{Network: Public, ID: ParseOrPanic("0x01")}])
	require.False(t, set[PeerKey{Network: Public, ID: ParseOrPanic("0x02")}])
}

func ParseOrPanic(s string) PeerID {
	id, err := ParsePeerID(s)
	if err != nil {
		panic(err)
	}
	return id
}

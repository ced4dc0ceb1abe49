package metadata

import (
	"testing"

	"github.com/harmony-bft/node/internal/peerid"
	"github.com/stretchr/testify/require"
)

func peerID(t *testing.T, s string) peerid.PeerID {
	t.Helper()
	id, err := peerid.ParsePeerID(s)
	require.NoError(t, err)
	return id
}

func TestDiscoveredPeerEligibility(t *testing.T) {
	dp := NewDiscoveredPeer()
	require.True(t, dp.Empty())
	require.False(t, dp.Eligible())
	require.False(t, dp.Dialable())

	dp.SetSource(OnChainValidatorSet, nil, map[string]struct{}{"key1": {}})
	require.True(t, dp.Eligible())
	require.False(t, dp.Dialable(), "eligible but no address yet")

	dp.SetSource(Config, map[string]struct{}{"/ip4/1.2.3.4/tcp/9/": {}}, nil)
	require.True(t, dp.Dialable())
	require.False(t, dp.Empty())
}

func TestDiscoveredPeerEmptyWhenAllSourcesCleared(t *testing.T) {
	dp := NewDiscoveredPeer()
	dp.SetSource(File, map[string]struct{}{"/ip4/1.2.3.4/tcp/9/": {}}, map[string]struct{}{"k": {}})
	require.False(t, dp.Empty())

	dp.SetSource(File, map[string]struct{}{}, map[string]struct{}{})
	require.True(t, dp.Empty())
}

func TestDiscoveryStateUpdateSourceIsIdempotent(t *testing.T) {
	ds := DiscoveryState{}
	id := peerID(t, "0x01")

	update := map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{
		id: {Addrs: map[string]struct{}{"/ip4/1.2.3.4/tcp/9/": {}}, Keys: map[string]struct{}{"k1": {}}},
	}

	changed1 := ds.UpdateSource(OnChainValidatorSet, update)
	require.True(t, changed1)
	require.Len(t, ds, 1)

	changed2 := ds.UpdateSource(OnChainValidatorSet, update)
	require.False(t, changed2, "second identical update must be a no-op on the key set")
	require.Len(t, ds, 1)
}

func TestDiscoveryStateGCsEmptyPeers(t *testing.T) {
	ds := DiscoveryState{}
	id := peerID(t, "0x02")

	ds.UpdateSource(File, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{
		id: {Keys: map[string]struct{}{"k": {}}},
	})
	require.Len(t, ds, 1)

	ds.UpdateSource(File, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{})
	require.Len(t, ds, 0)
}

func TestTrustedPeerSetDerivedAsUnion(t *testing.T) {
	ds := DiscoveryState{}
	onchain := peerID(t, "0x03")
	fileOnly := peerID(t, "0x04")

	ds.UpdateSource(OnChainValidatorSet, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{onchain: {Keys: map[string]struct{}{"k": {}}}})
	ds.UpdateSource(File, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{fileOnly: {Keys: map[string]struct{}{"k2": {}}}})

	trusted := ds.TrustedPeerSet()
	require.Contains(t, trusted, onchain)
	require.Contains(t, trusted, fileOnly)
}

func TestPeersAndMetadataSnapshotIsolation(t *testing.T) {
	pm := NewPeersAndMetadata()
	key := peerid.PeerKey{Network: peerid.Public, ID: peerID(t, "0x05")}

	pm.Upsert(key, PeerEntry{Connection: ConnectionMetadata{Peer: key}})
	snap1 := pm.Snapshot()
	require.Len(t, snap1, 1)

	pm.Remove(key)
	require.Len(t, snap1, 1, "previously-returned snapshot must remain unaffected")
	require.Len(t, pm.Snapshot(), 0)
}

func TestPeersAndMetadataUpdateMonitoringIsNoOpWhenDisconnected(t *testing.T) {
	pm := NewPeersAndMetadata()
	key := peerid.PeerKey{Network: peerid.Public, ID: peerID(t, "0x06")}

	latency := 0.1
	pm.UpdateMonitoring(key, PeerMonitoringMetadata{PingLatencySecs: &latency})
	_, ok := pm.Get(key)
	require.False(t, ok)
}

func TestTrustedPeerSetSwap(t *testing.T) {
	ts := NewTrustedPeerSet()
	id := peerID(t, "0x07")
	require.False(t, ts.Contains(id))

	ts.Swap(map[peerid.PeerID]struct{}{id: {}})
	require.True(t, ts.Contains(id))
}

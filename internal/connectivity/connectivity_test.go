package connectivity

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

func peerIDFor(t *testing.T, seed string) peerid.PeerID {
	t.Helper()
	var id peerid.PeerID
	copy(id[:], seed)
	return id
}

// TestDialBackoffRotation implements spec.md §8 scenario 4: three
// addresses, three failed dials choose 0,1,2, the fourth wraps to 0, and
// a discovery update resets the index to 0.
func TestDialBackoffRotation(t *testing.T) {
	state := NewDialState()
	addrs := []string{"addr-0", "addr-1", "addr-2"}

	for i, want := range []string{"addr-0", "addr-1", "addr-2", "addr-0"} {
		got, ok := state.NextAddr(addrs)
		require.True(t, ok)
		require.Equalf(t, want, got, "attempt %d", i)
	}

	state.Reset()
	got, ok := state.NextAddr(addrs)
	require.True(t, ok)
	require.Equal(t, "addr-0", got)
}

func TestDialStateNextDelayCapsAtMaxDelay(t *testing.T) {
	state := NewDialState()
	for i := 0; i < 20; i++ {
		d := state.NextDelay(2 * time.Second)
		require.LessOrEqual(t, d, 2*time.Second+100*time.Millisecond)
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    map[string]bool
	dialed  []string
}

func (f *fakeDialer) Dial(ctx context.Context, addr string) (session.Conn, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, addr)
	shouldFail := f.fail[addr]
	f.mu.Unlock()
	if shouldFail {
		return nil, errors.New("fake dial failure")
	}
	client, server := net.Pipe()
	_ = server
	return client, nil
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawned []peerid.PeerKey
	fail    bool
}

func (f *fakeSpawner) Spawn(ctx context.Context, key peerid.PeerKey, connID metadata.ConnectionID, conn session.Conn, origin metadata.ConnectionOrigin, role metadata.ConnectionRole) error {
	if f.fail {
		return errors.New("fake spawn failure")
	}
	f.mu.Lock()
	f.spawned = append(f.spawned, key)
	f.mu.Unlock()
	return nil
}

func newTestManager(cfg Config) (*Manager, *fakeDialer, *fakeSpawner) {
	dialer := &fakeDialer{fail: map[string]bool{}}
	spawner := &fakeSpawner{}
	m := New(cfg, testLogger(), dialer, spawner, metadata.NewPeersAndMetadata(), metadata.NewTrustedPeerSet())
	return m, dialer, spawner
}

func TestUpdateDiscoveredPeersSwapsTrustedSetOnKeyChange(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id := peerIDFor(t, "peer-a")

	m.UpdateDiscoveredPeers(metadata.OnChainValidatorSet, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{
		id: {Addrs: map[string]struct{}{"1.2.3.4:9000": {}}, Keys: map[string]struct{}{"key-a": {}}},
	})

	require.True(t, m.trusted.Contains(id))
}

func TestCloseStaleConnectionsRespectsMutualAuthExemption(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MutualAuthentication = false
	m, _, _ := newTestManager(cfg)

	exemptKey := peerid.PeerKey{Network: cfg.Network, ID: peerIDFor(t, "exempt")}
	evictedKey := peerid.PeerKey{Network: cfg.Network, ID: peerIDFor(t, "evicted")}

	m.peers.Upsert(exemptKey, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{
		Peer: exemptKey, Origin: metadata.Inbound, Role: metadata.RoleVFN,
	}})
	m.peers.Upsert(evictedKey, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{
		Peer: evictedKey, Origin: metadata.Inbound, Role: metadata.RolePublic,
	}})

	exemptDrop := make(chan session.DropRequest, 1)
	evictedDrop := make(chan session.DropRequest, 1)
	m.RegisterSession(exemptKey, exemptDrop)
	m.RegisterSession(evictedKey, evictedDrop)

	m.closeStaleConnections(map[peerid.PeerID]struct{}{}) // nothing trusted

	select {
	case <-exemptDrop:
		t.Fatal("exempt inbound VFN connection should not be dropped when mutual auth is disabled")
	default:
	}

	select {
	case req := <-evictedDrop:
		require.Equal(t, session.StaleConnection, req.Reason)
	case <-time.After(time.Second):
		t.Fatal("stale non-exempt connection was never dropped")
	}
}

func TestDialEligiblePeersRespectsBudgetAndRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = peerid.Public
	cfg.OwnRole = metadata.RolePublic
	limit := 1
	cfg.OutboundConnectionLimit = &limit
	m, dialer, spawner := newTestManager(cfg)

	goodPeer := peerIDFor(t, "good")
	wrongRolePeer := peerIDFor(t, "wrong-role")

	m.UpdateDiscoveredPeers(metadata.Config, map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}{
		goodPeer:       {Addrs: map[string]struct{}{"10.0.0.1:9000": {}}, Keys: map[string]struct{}{"k1": {}}},
		wrongRolePeer: {Addrs: map[string]struct{}{"10.0.0.2:9000": {}}, Keys: map[string]struct{}{"k2": {}}},
	})
	m.discoveryMu.Lock()
	m.discovery[goodPeer].Role = metadata.RoleVFN
	m.discovery[wrongRolePeer].Role = metadata.RoleValidator // not an upstream role for a Public node
	m.discoveryMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Tick(ctx)

	require.Eventually(t, func() bool {
		spawner.mu.Lock()
		defer spawner.mu.Unlock()
		return len(spawner.spawned) == 1
	}, time.Second, 10*time.Millisecond)

	spawner.mu.Lock()
	require.Equal(t, peerid.PeerKey{Network: cfg.Network, ID: goodPeer}, spawner.spawned[0])
	spawner.mu.Unlock()

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.NotContains(t, dialer.dialed, "10.0.0.2:9000")
}

func TestCancelStaleDialsRemovesUntrustedQueuedPeers(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id := peerIDFor(t, "queued")
	_, cancel := context.WithCancel(context.Background())
	m.dialQueue.Enqueue(id, cancel, NewDialState())
	require.True(t, m.dialQueue.Contains(id))

	m.cancelStaleDials(map[peerid.PeerID]struct{}{}) // not trusted
	require.False(t, m.dialQueue.Contains(id))
}

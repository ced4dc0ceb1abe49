package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

func peerKey(t *testing.T, seed string) peerid.PeerKey {
	t.Helper()
	var id peerid.PeerID
	copy(id[:], seed)
	return peerid.PeerKey{Network: peerid.Public, ID: id}
}

type fakeVersions struct {
	mu sync.Mutex
	v  uint64
}

func (f *fakeVersions) LatestSyncedVersion(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v, nil
}

func (f *fakeVersions) set(v uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v = v
}

type fakeTransport struct {
	mu            sync.Mutex
	subscribed    []peerid.PeerKey
	unsubscribed  []peerid.PeerKey
	subscribeErr  map[peerid.PeerKey]error
}

func (f *fakeTransport) Subscribe(ctx context.Context, peer peerid.PeerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subscribeErr[peer]; err != nil {
		return err
	}
	f.subscribed = append(f.subscribed, peer)
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, peer peerid.PeerKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, peer)
}

func fixedSelector(order []peerid.PeerKey) PeerSelector {
	return func(candidates map[peerid.PeerKey]metadata.PeerEntry, exclude map[peerid.PeerKey]struct{}, need int) []peerid.PeerKey {
		var out []peerid.PeerKey
		for _, k := range order {
			if len(out) >= need {
				break
			}
			if _, excluded := exclude[k]; excluded {
				continue
			}
			if _, ok := candidates[k]; !ok {
				continue
			}
			out = append(out, k)
		}
		return out
	}
}

func TestCheckAndManageSpawnsRefreshWhenBelowCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSubscriptions = 2

	peers := metadata.NewPeersAndMetadata()
	a, b := peerKey(t, "a"), peerKey(t, "b")
	peers.Upsert(a, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{Peer: a}})
	peers.Upsert(b, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{Peer: b}})

	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector([]peerid.PeerKey{a, b}))

	result, err := m.CheckAndManage(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ok, result)

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 2
	}, time.Second, 10*time.Millisecond)

	transport.mu.Lock()
	require.ElementsMatch(t, []peerid.PeerKey{a, b}, transport.subscribed)
	transport.mu.Unlock()
}

func TestCheckAndManageOnlyOneRefreshTaskInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSubscriptions = 5

	peers := metadata.NewPeersAndMetadata()
	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector(nil))

	m.refreshing.Store(true) // simulate an in-flight refresh
	_, err := m.CheckAndManage(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, m.ActiveCount())
	transport.mu.Lock()
	require.Empty(t, transport.subscribed)
	transport.mu.Unlock()
}

func TestSubscriptionsResetWhenAllActiveTerminate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSubscriptions = 1

	a := peerKey(t, "a")
	peers := metadata.NewPeersAndMetadata() // a is not connected

	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector(nil))
	m.active[a] = &Subscription{Peer: a, SubscribedAt: time.Now().UTC()}

	result, err := m.CheckAndManage(context.Background())
	require.NoError(t, err)
	require.Equal(t, SubscriptionsReset, result)
}

func TestOnMessageReceivedUpdatesLivenessOrRejects(t *testing.T) {
	cfg := DefaultConfig()
	a := peerKey(t, "a")
	peers := metadata.NewPeersAndMetadata()
	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector(nil))
	m.active[a] = &Subscription{Peer: a, SubscribedAt: time.Now().UTC()}

	require.NoError(t, m.OnMessageReceived(a))
	require.False(t, m.active[a].LastMessageReceiveTime.IsZero())

	unknown := peerKey(t, "unknown")
	err := m.OnMessageReceived(unknown)
	require.ErrorIs(t, err, ErrInvalidMessage)
	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		for _, p := range transport.unsubscribed {
			if p == unknown {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestTimeoutHealthFailureWhenNoMessageReceived(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSubscriptionTimeout = 10 * time.Millisecond

	a := peerKey(t, "a")
	peers := metadata.NewPeersAndMetadata()
	peers.Upsert(a, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{Peer: a}})

	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector(nil))
	m.active[a] = &Subscription{Peer: a, SubscribedAt: time.Now().UTC().Add(-time.Second)}

	healthy, reason := m.evaluateHealth(m.active[a], peers.Snapshot(), time.Now().UTC())
	require.False(t, healthy)
	require.Equal(t, SubscriptionTimeout, reason)
}

func TestSubscribeErrorsAreLoggedAndSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSubscriptions = 1

	a := peerKey(t, "a")
	peers := metadata.NewPeersAndMetadata()
	peers.Upsert(a, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{Peer: a}})

	versions := &fakeVersions{}
	transport := &fakeTransport{subscribeErr: map[peerid.PeerKey]error{a: errors.New("boom")}}
	m := New(cfg, testLogger(), peers, versions, transport, fixedSelector([]peerid.PeerKey{a}))

	_, err := m.CheckAndManage(context.Background())
	require.NoError(t, err)

	require.Never(t, func() bool {
		return m.ActiveCount() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

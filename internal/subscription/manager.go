package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/sirupsen/logrus"
)

// Manager implements the per-check algorithm of spec.md §4.3.
type Manager struct {
	cfg       Config
	log       *logrus.Entry
	peers     *metadata.PeersAndMetadata
	versions  VersionProvider
	transport Transport
	selector  PeerSelector

	mu     sync.Mutex
	active map[peerid.PeerKey]*Subscription

	lastSyncedVersion   uint64
	lastSyncedVersionAt time.Time
	haveSyncedVersion   bool

	refreshing atomic.Bool
}

func New(cfg Config, log *logrus.Entry, peers *metadata.PeersAndMetadata, versions VersionProvider, transport Transport, selector PeerSelector) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log.WithField("component", "subscription"),
		peers:     peers,
		versions:  versions,
		transport: transport,
		selector:  selector,
		active:    make(map[peerid.PeerKey]*Subscription),
	}
}

// ActiveCount returns the number of currently active subscriptions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CheckAndManage runs one pass of the per-check algorithm: evaluate
// every active subscription's health, tear down unhealthy ones, and (if
// under max_concurrent_subscriptions and no refresh task is already in
// flight) spawn exactly one refresh task to top back up.
func (m *Manager) CheckAndManage(ctx context.Context) (Result, error) {
	now := time.Now().UTC()
	m.refreshSyncedVersion(ctx, now)

	connected := m.peers.Snapshot()

	m.mu.Lock()
	previousActive := len(m.active)
	var terminated int
	for key, sub := range m.active {
		healthy, reason := m.evaluateHealth(sub, connected, now)
		if healthy {
			continue
		}
		delete(m.active, key)
		terminated++
		m.log.WithFields(logrus.Fields{"peer": key, "reason": reason}).Info("subscription unhealthy, unsubscribing")
		peer := key
		go m.transport.Unsubscribe(context.Background(), peer)
	}
	remaining := len(m.active)
	excluded := make(map[peerid.PeerKey]struct{}, remaining)
	for key := range m.active {
		excluded[key] = struct{}{}
	}
	m.mu.Unlock()

	need := m.cfg.MaxConcurrentSubscriptions - remaining
	if need > 0 && m.refreshing.CompareAndSwap(false, true) {
		go m.refreshTask(ctx, need, excluded, connected)
	}

	if previousActive > 0 && terminated == previousActive {
		return SubscriptionsReset, nil
	}
	return Ok, nil
}

func (m *Manager) refreshSyncedVersion(ctx context.Context, now time.Time) {
	v, err := m.versions.LatestSyncedVersion(ctx)
	if err != nil {
		m.log.WithError(err).Warn("failed to read latest synced version")
		return
	}
	if !m.haveSyncedVersion || v != m.lastSyncedVersion {
		m.lastSyncedVersion = v
		m.lastSyncedVersionAt = now
		m.haveSyncedVersion = true
	}
}

// refreshTask selects up to need new peers and subscribes to them.
// Exactly one of these runs at a time across the manager's lifetime
// (guarded by Manager.refreshing), bounding the rate of outbound
// Subscribe RPCs per spec.md §4.3's concurrency constraint.
func (m *Manager) refreshTask(ctx context.Context, need int, exclude map[peerid.PeerKey]struct{}, connected map[peerid.PeerKey]metadata.PeerEntry) {
	defer m.refreshing.Store(false)

	candidates := m.selector(connected, exclude, need)
	now := time.Now().UTC()
	for _, peer := range candidates {
		if err := m.transport.Subscribe(ctx, peer); err != nil {
			m.log.WithError(err).WithField("peer", peer).Warn("subscribe failed")
			continue
		}
		m.mu.Lock()
		m.active[peer] = &Subscription{Peer: peer, SubscribedAt: now, LastPeerChangeCheck: now}
		m.mu.Unlock()
	}
}

// OnMessageReceived updates an active subscription's liveness on
// receipt of a message claiming to be from sender, or rejects it and
// fires an asynchronous Unsubscribe if no such subscription exists, per
// spec.md §4.3's "Incoming message verification."
func (m *Manager) OnMessageReceived(sender peerid.PeerKey) error {
	m.mu.Lock()
	sub, ok := m.active[sender]
	if ok {
		sub.LastMessageReceiveTime = time.Now().UTC()
	}
	m.mu.Unlock()

	if !ok {
		go m.transport.Unsubscribe(context.Background(), sender)
		return ErrInvalidMessage
	}
	return nil
}

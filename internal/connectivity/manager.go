// Package connectivity implements the Network Connectivity Manager: it
// reconciles discovered peer addresses against live connections, drives
// capped-backoff dialing, and keeps the shared trusted-peer set in sync
// with discovery updates. Grounded on the teacher's app/networking/peer.go
// (ConnectToBootstraps, SetUpPeerDiscovery) generalized from "connect to
// a fixed bootstrap list once" into the full per-tick reconcile loop
// spec.md §4.2 describes.
package connectivity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/session"
	"github.com/sirupsen/logrus"
)

var errNoAddresses = errors.New("connectivity: peer has no known addresses")

// probePoolSize bounds how many TCP latency probes run concurrently so a
// tick with many unprobed candidates can't flood the blocking-capable pool
// spec.md §5 calls for (DNS/TCP-probe work must not starve the cooperative
// scheduler running everything else).
const probePoolSize = 8

// Config bounds one Manager's behavior within a single network context.
type Config struct {
	CheckInterval             time.Duration
	OutboundConnectionLimit   *int // nil = unlimited
	EnableLatencyAwareDialing bool
	MutualAuthentication      bool
	DialTimeout               time.Duration
	MaxDialBackoff            time.Duration
	Network                   peerid.NetworkID
	OwnRole                   metadata.ConnectionRole
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:        10 * time.Second,
		EnableLatencyAwareDialing: false,
		MutualAuthentication:  true,
		DialTimeout:           5 * time.Second,
		MaxDialBackoff:        30 * time.Second,
		Network:               peerid.Public,
		OwnRole:               metadata.RolePublic,
	}
}

// Dialer opens a raw connection to addr, returning something satisfying
// session.Conn. A real implementation wraps a libp2p host.Host's
// NewStream/Connect (as the teacher's peer.go does); tests substitute a
// fake.
type Dialer interface {
	Dial(ctx context.Context, addr string) (session.Conn, error)
}

// SessionSpawner turns a freshly dialed or accepted connection into a
// running Peer Session Actor and registers it with the manager. Spawn
// must call back into Manager.RegisterSession before returning, or the
// manager will be unable to ever drop the resulting session.
type SessionSpawner interface {
	Spawn(ctx context.Context, key peerid.PeerKey, connID metadata.ConnectionID, conn session.Conn, origin metadata.ConnectionOrigin, role metadata.ConnectionRole) error
}

type discoveryUpdate struct {
	source metadata.DiscoverySource
	update map[peerid.PeerID]struct {
		Addrs map[string]struct{}
		Keys  map[string]struct{}
	}
}

// Manager is the Network Connectivity Manager for one network context.
// A validator that also runs VFN duties runs two Managers, one per
// network plane, each with its own trusted set and dial queue.
type Manager struct {
	cfg Config
	log *logrus.Entry

	dialer  Dialer
	spawner SessionSpawner

	peers   *metadata.PeersAndMetadata
	trusted *metadata.TrustedPeerSet

	discoveryMu sync.Mutex
	discovery   metadata.DiscoveryState

	dialQueue *DialQueue

	probePool *workerpool.WorkerPool

	nextConnID atomic.Uint64

	dropMu    sync.Mutex
	dropChans map[peerid.PeerKey]chan<- session.DropRequest

	discoveryUpdateCh chan discoveryUpdate
}

// New constructs a Manager. peers and trusted are typically shared with
// the rest of the node (mempool prioritizer, subscription manager); pass
// freshly constructed ones in tests.
func New(cfg Config, log *logrus.Entry, dialer Dialer, spawner SessionSpawner, peers *metadata.PeersAndMetadata, trusted *metadata.TrustedPeerSet) *Manager {
	return &Manager{
		cfg:               cfg,
		log:               log.WithField("component", "connectivity"),
		dialer:            dialer,
		spawner:           spawner,
		peers:             peers,
		trusted:           trusted,
		discovery:         metadata.DiscoveryState{},
		dialQueue:         NewDialQueue(),
		probePool:         workerpool.New(probePoolSize),
		dropChans:         make(map[peerid.PeerKey]chan<- session.DropRequest),
		discoveryUpdateCh: make(chan discoveryUpdate, 16),
	}
}

// Stop drains the latency-probe worker pool. Safe to call once the
// Manager's tick loop has exited.
func (m *Manager) Stop() {
	m.probePool.StopWait()
}

// RegisterSession records the drop channel for a live connection so a
// later tick can request its disconnection. Call this from SessionSpawner
// implementations immediately after spinning up the actor.
func (m *Manager) RegisterSession(key peerid.PeerKey, dropCh chan<- session.DropRequest) {
	m.dropMu.Lock()
	defer m.dropMu.Unlock()
	m.dropChans[key] = dropCh
}

// UnregisterSession removes a session's drop channel, typically called
// when handling its DisconnectNotification.
func (m *Manager) UnregisterSession(key peerid.PeerKey) {
	m.dropMu.Lock()
	defer m.dropMu.Unlock()
	delete(m.dropChans, key)
}

func (m *Manager) dropChanFor(key peerid.PeerKey) (chan<- session.DropRequest, bool) {
	m.dropMu.Lock()
	defer m.dropMu.Unlock()
	ch, ok := m.dropChans[key]
	return ch, ok
}

// NotifyNewPeer records a newly connected peer. Corresponds to the
// session layer's NewPeer connection notification.
func (m *Manager) NotifyNewPeer(entry metadata.PeerEntry) {
	m.peers.Upsert(entry.Connection.Peer, entry)
}

// NotifyLostPeer removes a disconnected peer. Corresponds to the session
// layer's LostPeer / DisconnectNotification.
func (m *Manager) NotifyLostPeer(key peerid.PeerKey) {
	m.peers.Remove(key)
	m.UnregisterSession(key)
}

// UpdateDiscoveredPeers applies an update from one discovery source,
// matching spec.md §4.2's "Discovery update protocol." Safe to call
// concurrently with Tick.
func (m *Manager) UpdateDiscoveredPeers(source metadata.DiscoverySource, update map[peerid.PeerID]struct {
	Addrs map[string]struct{}
	Keys  map[string]struct{}
}) {
	m.discoveryMu.Lock()
	keysUpdated := m.discovery.UpdateSource(source, update)
	if keysUpdated {
		m.trusted.Swap(m.discovery.TrustedPeerSet())
	}
	m.discoveryMu.Unlock()

	// Regardless of whether keys changed, any peer named in this update
	// had its address/key contribution touched -- reset its dial
	// progress so the next attempt restarts from address 0 with a fresh
	// backoff, per spec.md §4.2.
	for id := range update {
		if state, ok := m.dialQueue.StateFor(id); ok {
			state.Reset()
		}
	}
}

// Run drives the tick loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass: cancel stale dials, close stale
// connections, dial eligible peers. Exported so tests (and a dynamic
// "tick now" control request) can drive it directly.
func (m *Manager) Tick(ctx context.Context) {
	trustedSnapshot := m.trusted.Snapshot()

	m.cancelStaleDials(trustedSnapshot)
	m.closeStaleConnections(trustedSnapshot)
	m.dialEligiblePeers(ctx, trustedSnapshot)
}

func (m *Manager) cancelStaleDials(trusted map[peerid.PeerID]struct{}) {
	for _, id := range m.dialQueue.Snapshot() {
		if _, ok := trusted[id]; !ok {
			m.dialQueue.Cancel(id)
		}
	}
}

func (m *Manager) closeStaleConnections(trusted map[peerid.PeerID]struct{}) {
	for key, entry := range m.peers.Snapshot() {
		if key.Network != m.cfg.Network {
			continue
		}
		if _, ok := trusted[key.ID]; ok {
			continue
		}
		if !m.cfg.MutualAuthentication &&
			entry.Connection.Origin == metadata.Inbound &&
			(entry.Connection.Role == metadata.RoleVFN || entry.Connection.Role == metadata.RoleUnknown) {
			continue
		}
		ch, ok := m.dropChanFor(key)
		if !ok {
			m.log.WithField("peer", key).Warn("stale connection has no registered drop channel")
			continue
		}
		select {
		case ch <- session.DropRequest{Reason: session.StaleConnection}:
		default:
			m.log.WithField("peer", key).Warn("drop request dropped: session channel full")
		}
	}
}

func (m *Manager) dialEligiblePeers(ctx context.Context, trusted map[peerid.PeerID]struct{}) {
	m.discoveryMu.Lock()
	discoverySnapshot := make(metadata.DiscoveryState, len(m.discovery))
	for id, dp := range m.discovery {
		discoverySnapshot[id] = dp
	}
	m.discoveryMu.Unlock()

	connected := make(map[peerid.PeerKey]struct{})
	for key := range m.peers.Snapshot() {
		connected[key] = struct{}{}
	}

	candidates := selectCandidates(trusted, discoverySnapshot, connected, m.dialQueue, m.cfg.Network, m.cfg.OwnRole)
	if len(candidates) == 0 {
		return
	}

	budget := m.dialBudget(connected)
	if budget <= 0 {
		return
	}

	var selected []peerid.PeerID
	if m.cfg.EnableLatencyAwareDialing {
		selected = m.selectByLatency(ctx, candidates, discoverySnapshot, budget)
	} else {
		selected = uniformSelect(candidates, budget)
	}

	for _, id := range selected {
		m.enqueueDial(ctx, id, discoverySnapshot[id])
	}
}

func (m *Manager) dialBudget(connected map[peerid.PeerKey]struct{}) int {
	if m.cfg.OutboundConnectionLimit == nil {
		return 1 << 30 // effectively unlimited
	}
	outbound := 0
	for key := range connected {
		if key.Network != m.cfg.Network {
			continue
		}
		if entry, ok := m.peers.Get(key); ok && entry.Connection.Origin == metadata.Outbound {
			outbound++
		}
	}
	return *m.cfg.OutboundConnectionLimit - (outbound + m.dialQueue.Len())
}

func (m *Manager) selectByLatency(ctx context.Context, candidates []peerid.PeerID, discovered metadata.DiscoveryState, budget int) []peerid.PeerID {
	latencies := make(map[peerid.PeerID]float64, len(candidates))
	var needsProbe []peerid.PeerID
	for _, id := range candidates {
		dp := discovered[id]
		if dp.PingLatencySecs != nil {
			latencies[id] = *dp.PingLatencySecs
		} else {
			needsProbe = append(needsProbe, id)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, id := range needsProbe {
		id := id
		addrs := sortedAddrs(discovered[id])
		wg.Add(1)
		m.probePool.Submit(func() {
			defer wg.Done()
			latency, err := probeLatency(ctx, addrs)
			if err != nil {
				m.log.WithError(err).WithField("peer", id).Debug("latency probe failed, peer keeps no latency")
				return
			}
			mu.Lock()
			latencies[id] = *latency
			mu.Unlock()
		})
	}
	wg.Wait()

	return weightedSelect(candidates, latencies, budget)
}

func (m *Manager) enqueueDial(ctx context.Context, id peerid.PeerID, dp *metadata.DiscoveredPeer) {
	dialCtx, cancel := context.WithCancel(ctx)
	state := NewDialState()
	m.dialQueue.Enqueue(id, cancel, state)
	go m.dialLoop(dialCtx, id, state, dp.Role)
}

func (m *Manager) dialLoop(ctx context.Context, id peerid.PeerID, state *DialState, role metadata.ConnectionRole) {
	defer m.dialQueue.Remove(id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.discoveryMu.Lock()
		dp, ok := m.discovery[id]
		m.discoveryMu.Unlock()
		if !ok {
			return
		}
		addrs := sortedAddrs(dp)
		addr, ok := state.NextAddr(addrs)
		if !ok {
			return
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.dialer.Dial(dialCtx, addr)
		dialCancel()
		if err != nil {
			m.log.WithError(err).WithField("peer", id).Debug("dial attempt failed")
			delay := state.NextDelay(m.cfg.MaxDialBackoff)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		key := peerid.PeerKey{Network: m.cfg.Network, ID: id}
		connID := metadata.ConnectionID(m.nextConnID.Add(1))
		if err := m.spawner.Spawn(ctx, key, connID, conn, metadata.Outbound, role); err != nil {
			m.log.WithError(err).WithField("peer", id).Warn("session spawn failed after successful dial")
			delay := state.NextDelay(m.cfg.MaxDialBackoff)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}
		return
	}
}

// sortPeerIDStrings returns the string forms of ids in sorted order,
// for deterministic iteration over a []peerid.PeerID. Nothing in the
// package calls it.
func sortPeerIDStrings(ids []peerid.PeerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}

package metadata

import (
	"sync"
	"sync/atomic"

	"github.com/harmony-bft/node/internal/peerid"
)

// snapshot is the immutable value swapped atomically by PeersAndMetadata.
type snapshot struct {
	peers map[peerid.PeerKey]PeerEntry
}

// PeersAndMetadata is the shared, many-readers-occasional-writer registry
// of connected peers. Per spec.md §9 ("Global mutable trusted peer set")
// the write path builds the next map in full and swaps it in atomically;
// readers always observe a complete, consistent snapshot -- never a
// partially-updated one -- and never block a writer or each other.
type PeersAndMetadata struct {
	cur atomic.Pointer[snapshot]
	// writeMu serializes writers only; readers never take it.
	writeMu sync.Mutex
}

// NewPeersAndMetadata returns an empty registry.
func NewPeersAndMetadata() *PeersAndMetadata {
	pm := &PeersAndMetadata{}
	pm.cur.Store(&snapshot{peers: map[peerid.PeerKey]PeerEntry{}})
	return pm
}

// Snapshot returns the current connected-peer map. The returned map must
// not be mutated by the caller; it is shared with other readers.
func (pm *PeersAndMetadata) Snapshot() map[peerid.PeerKey]PeerEntry {
	return pm.cur.Load().peers
}

// Get returns a single peer's entry, if connected.
func (pm *PeersAndMetadata) Get(key peerid.PeerKey) (PeerEntry, bool) {
	e, ok := pm.cur.Load().peers[key]
	return e, ok
}

// Len returns the number of currently connected peers.
func (pm *PeersAndMetadata) Len() int {
	return len(pm.cur.Load().peers)
}

// Upsert inserts or replaces a peer's entry, publishing a new snapshot.
// Corresponds to a NewPeer connection notification.
func (pm *PeersAndMetadata) Upsert(key peerid.PeerKey, entry PeerEntry) {
	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	old := pm.cur.Load().peers
	next := make(map[peerid.PeerKey]PeerEntry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = entry
	pm.cur.Store(&snapshot{peers: next})
}

// Remove drops a peer, publishing a new snapshot. Corresponds to a
// LostPeer disconnect notification. No-op if the peer was already absent.
func (pm *PeersAndMetadata) Remove(key peerid.PeerKey) {
	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	old := pm.cur.Load().peers
	if _, ok := old[key]; !ok {
		return
	}
	next := make(map[peerid.PeerKey]PeerEntry, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	pm.cur.Store(&snapshot{peers: next})
}

// UpdateMonitoring merges monitoring metadata into an existing peer entry
// without disturbing the connection metadata. No-op if not connected --
// monitoring updates for peers that disconnected mid-flight are stale and
// silently dropped, matching spec.md's "in-flight mail may use the prior
// mapping" tolerance for recomputation races.
func (pm *PeersAndMetadata) UpdateMonitoring(key peerid.PeerKey, m PeerMonitoringMetadata) {
	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	old := pm.cur.Load().peers
	entry, ok := old[key]
	if !ok {
		return
	}
	entry.Monitoring = m
	next := make(map[peerid.PeerKey]PeerEntry, len(old))
	for k, v := range old {
		next[k] = v
	}
	next[key] = entry
	pm.cur.Store(&snapshot{peers: next})
}

// TrustedPeerSet is the same atomic-snapshot pattern applied to the
// Connectivity Manager's trusted-peer set, so mempool and subscription
// readers never take a lock held by the discovery writer.
type TrustedPeerSet struct {
	cur atomic.Pointer[map[peerid.PeerID]struct{}]
}

// NewTrustedPeerSet returns an empty trusted set.
func NewTrustedPeerSet() *TrustedPeerSet {
	t := &TrustedPeerSet{}
	empty := map[peerid.PeerID]struct{}{}
	t.cur.Store(&empty)
	return t
}

// Swap atomically publishes a new trusted set.
func (t *TrustedPeerSet) Swap(next map[peerid.PeerID]struct{}) {
	t.cur.Store(&next)
}

// Contains reports whether id is currently trusted.
func (t *TrustedPeerSet) Contains(id peerid.PeerID) bool {
	m := *t.cur.Load()
	_, ok := m[id]
	return ok
}

// Snapshot returns the current trusted set. Must not be mutated.
func (t *TrustedPeerSet) Snapshot() map[peerid.PeerID]struct{} {
	return *t.cur.Load()
}

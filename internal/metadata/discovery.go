package metadata

import (
	"time"

	"github.com/harmony-bft/node/internal/peerid"
)

// DiscoverySource is one of the four places peer addresses/keys can come
// from. Ordered by priority, OnChain highest: OnChain > File > Rest > Config.
type DiscoverySource uint8

const (
	OnChainValidatorSet DiscoverySource = iota
	File
	Rest
	Config
	numDiscoverySources
)

func (s DiscoverySource) String() string {
	switch s {
	case OnChainValidatorSet:
		return "onchain"
	case File:
		return "file"
	case Rest:
		return "rest"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// NumDiscoverySources is the fixed arity of per-source slots carried by
// every DiscoveredPeer.
const NumDiscoverySources = int(numDiscoverySources)

// DiscoveredPeer is the aggregated view of one peer across all discovery
// sources: a set of network addresses and a set of public keys per
// source, plus a declared role, last-dial timestamp, and observed ping
// latency.
type DiscoveredPeer struct {
	AddrsBySource [NumDiscoverySources]map[string]struct{}
	KeysBySource  [NumDiscoverySources]map[string]struct{}
	Role          ConnectionRole
	LastDial      time.Time
	PingLatencySecs *float64
}

// NewDiscoveredPeer returns a peer with all source slots initialized.
func NewDiscoveredPeer() *DiscoveredPeer {
	dp := &DiscoveredPeer{}
	for i := range dp.AddrsBySource {
		dp.AddrsBySource[i] = map[string]struct{}{}
		dp.KeysBySource[i] = map[string]struct{}{}
	}
	return dp
}

// unionKeys returns the union of keys across all sources.
func (d *DiscoveredPeer) unionKeys() map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range d.KeysBySource {
		for k := range m {
			out[k] = struct{}{}
		}
	}
	return out
}

// UnionAddrs returns the union of addresses across all sources.
func (d *DiscoveredPeer) UnionAddrs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range d.AddrsBySource {
		for a := range m {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	return out
}

// UnionKeys returns the union of public keys across all sources.
func (d *DiscoveredPeer) UnionKeys() []string {
	union := d.unionKeys()
	out := make([]string, 0, len(union))
	for k := range union {
		out = append(out, k)
	}
	return out
}

// Eligible reports whether this peer's union-of-keys is non-empty.
func (d *DiscoveredPeer) Eligible() bool {
	return len(d.unionKeys()) > 0
}

// Dialable reports whether this peer is eligible and has at least one
// known address.
func (d *DiscoveredPeer) Dialable() bool {
	return d.Eligible() && len(d.UnionAddrs()) > 0
}

// Empty reports whether every source slice is empty, i.e. this peer
// carries no information at all and should be garbage collected.
func (d *DiscoveredPeer) Empty() bool {
	for i := range d.AddrsBySource {
		if len(d.AddrsBySource[i]) > 0 || len(d.KeysBySource[i]) > 0 {
			return false
		}
	}
	return true
}

// SetSource overwrites source s's addrs/keys for this peer, reporting
// whether the key set changed (used by the Connectivity Manager to
// decide whether the trusted peer set needs recomputing).
func (d *DiscoveredPeer) SetSource(s DiscoverySource, addrs, keys map[string]struct{}) (keysChanged bool) {
	before := d.unionKeys()

	d.AddrsBySource[s] = addrs
	d.KeysBySource[s] = keys

	after := d.unionKeys()
	if len(before) != len(after) {
		return true
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			return true
		}
	}
	return false
}

// DiscoveryState maps peer id to its aggregated discovered-peer view. Not
// safe for concurrent use; callers (the Connectivity Manager) guard it
// with a single mutex scoped to the owning component.
type DiscoveryState map[peerid.PeerID]*DiscoveredPeer

// UpdateSource applies an update from source s carrying peer -> (addrs,
// keys) pairs, per spec: clears source s's existing contribution first,
// then writes the new one for peers present in the update, then GCs
// peers left fully empty. Returns whether any peer's key set changed.
func (ds DiscoveryState) UpdateSource(s DiscoverySource, update map[peerid.PeerID]struct {
	Addrs map[string]struct{}
	Keys  map[string]struct{}
}) bool {
	keysUpdated := false

	// Clear source s for peers absent from this update -- a peer no
	// longer advertised by source s loses its contribution from that
	// source. Peers present in the update have source s overwritten
	// below, so SetSource compares their new keys against the old ones.
	for id, dp := range ds {
		if _, inUpdate := update[id]; inUpdate {
			continue
		}
		if len(dp.AddrsBySource[s]) > 0 || len(dp.KeysBySource[s]) > 0 {
			if dp.SetSource(s, map[string]struct{}{}, map[string]struct{}{}) {
				keysUpdated = true
			}
		}
	}

	for id, u := range update {
		dp, ok := ds[id]
		if !ok {
			dp = NewDiscoveredPeer()
			ds[id] = dp
		}
		if dp.SetSource(s, u.Addrs, u.Keys) {
			keysUpdated = true
		}
	}

	for id, dp := range ds {
		if dp.Empty() {
			delete(ds, id)
		}
	}

	return keysUpdated
}

// TrustedPeerSet derives the trusted set as the union of all key sources
// per peer: any peer with at least one key from any source is trusted.
func (ds DiscoveryState) TrustedPeerSet() map[peerid.PeerID]struct{} {
	out := make(map[peerid.PeerID]struct{}, len(ds))
	for id, dp := range ds {
		if dp.Eligible() {
			out[id] = struct{}{}
		}
	}
	return out
}

// Package mempool implements the Mempool Peer Prioritizer: a total
// order over peers for broadcast selection, and a per-peer sender-bucket
// priority assignment for forwarding, both refreshed on a schedule that
// adapts to whether complete latency data has been observed. Grounded
// on the teacher's app/mempool package (the domain is mempool
// forwarding) generalized from "poll one upstream RPC node" to
// "prioritize N upstream peers and shard sender buckets" per spec.md
// §4.4.
package mempool

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/harmony-bft/node/internal/peerid"
)

// Mode selects the ordering algorithm.
type Mode uint8

const (
	Simple Mode = iota
	Intelligent
)

// Peer is the ordering input for one connected peer.
type Peer struct {
	Key                    peerid.PeerKey
	DistanceFromValidators *uint64
	PingLatencySecs        *float64
}

type ordering struct {
	mode Mode
	seed uint64
}

// hash returns a stable, per-instance-seeded hash of id, used both as
// the final ordering tiebreaker and (independently) for VFN top-peer
// selection. Seeding at construction means two mempool instances in the
// same process make different tiebreaking choices, preventing every
// node in a cluster from picking the identical peer as "the" top peer
// (herd behaviour).
func (o ordering) hash(id peerid.PeerID) uint64 {
	buf := make([]byte, 8+len(id))
	putUint64(buf, o.seed)
	copy(buf[8:], id[:])
	return xxhash.Sum64(buf)
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
}

// sorted returns peers ordered "greatest is best first": network id
// descending, then (intelligent mode only) distance-from-validators
// ascending with Some beating None, then ping latency ascending with
// Some beating None, then the stable hash tiebreaker.
func (o ordering) sorted(peers []Peer) []Peer {
	out := append([]Peer(nil), peers...)
	sort.SliceStable(out, func(i, j int) bool {
		return o.better(out[i], out[j])
	})
	return out
}

// better reports whether a outranks b under this ordering's rules.
func (o ordering) better(a, b Peer) bool {
	if a.Key.Network != b.Key.Network {
		return a.Key.Network > b.Key.Network
	}

	if o.mode == Intelligent {
		if cmp, decided := compareOptionalUint64Asc(a.DistanceFromValidators, b.DistanceFromValidators); decided {
			return cmp
		}
		if cmp, decided := compareOptionalFloatAsc(a.PingLatencySecs, b.PingLatencySecs); decided {
			return cmp
		}
	}

	return o.hash(a.Key.ID) < o.hash(b.Key.ID)
}

// compareOptionalUint64Asc returns (aIsBetter, decided). Some beats
// None; when both present, lower is better; when equal, undecided.
func compareOptionalUint64Asc(a, b *uint64) (bool, bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case *a != *b:
		return *a < *b, true
	default:
		return false, false
	}
}

func compareOptionalFloatAsc(a, b *float64) (bool, bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case *a != *b:
		return *a < *b, true
	default:
		return false, false
	}
}

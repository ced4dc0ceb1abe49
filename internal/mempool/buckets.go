package mempool

import (
	"github.com/harmony-bft/node/internal/peerid"
)

// Priority is a peer's forwarding priority for one sender bucket.
type Priority uint8

const (
	PriorityNone Priority = iota
	PriorityPrimary
	PriorityFailover
)

// BucketHolders records which peer holds Primary for a bucket and which
// hold Failover, in assignment order.
type BucketHolders struct {
	Primary   peerid.PeerKey
	Failovers []peerid.PeerKey
}

// Assignment is the full bucket -> holders mapping, plus a reverse index
// for PriorityOf.
type Assignment struct {
	Buckets []BucketHolders
	byPeer  map[peerid.PeerKey]map[int]Priority
}

// PriorityOf returns peer's priority for bucket, or PriorityNone.
func (a Assignment) PriorityOf(peer peerid.PeerKey, bucket int) Priority {
	if buckets, ok := a.byPeer[peer]; ok {
		return buckets[bucket]
	}
	return PriorityNone
}

// assignBuckets implements spec.md §4.4's bucket assignment: bucket b
// gets Primary = topPeers[b % len(topPeers)]; then for
// defaultFailovers passes, each bucket (in order, with a round-robin
// starting point across buckets) walks the full sorted peer list and
// gives Failover to the first peer not already holding any priority for
// that bucket.
func assignBuckets(numBuckets int, topPeers []peerid.PeerKey, sortedAll []Peer, defaultFailovers int) Assignment {
	buckets := make([]BucketHolders, numBuckets)
	byPeer := make(map[peerid.PeerKey]map[int]Priority)

	markPriority := func(peer peerid.PeerKey, bucket int, p Priority) {
		if byPeer[peer] == nil {
			byPeer[peer] = make(map[int]Priority)
		}
		byPeer[peer][bucket] = p
	}

	if len(topPeers) > 0 {
		for b := 0; b < numBuckets; b++ {
			primary := topPeers[b%len(topPeers)]
			buckets[b].Primary = primary
			markPriority(primary, b, PriorityPrimary)
		}
	}

	allKeys := make([]peerid.PeerKey, len(sortedAll))
	for i, p := range sortedAll {
		allKeys[i] = p.Key
	}
	n := len(allKeys)

	for pass := 0; pass < defaultFailovers; pass++ {
		for b := 0; b < numBuckets; b++ {
			if n == 0 {
				continue
			}
			// Round-robin the walk's starting point across buckets and
			// passes so failover load spreads rather than every bucket
			// preferring the same early peers in the sorted list.
			start := (b + pass) % n
			for i := 0; i < n; i++ {
				candidate := allKeys[(start+i)%n]
				if byPeer[candidate][b] != PriorityNone {
					continue
				}
				buckets[b].Failovers = append(buckets[b].Failovers, candidate)
				markPriority(candidate, b, PriorityFailover)
				break
			}
		}
	}

	return Assignment{Buckets: buckets, byPeer: byPeer}
}

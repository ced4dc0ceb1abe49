package main

import (
	"time"

	"github.com/harmony-bft/node/internal/mempool"
	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/opsserver"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/streaming"
	"github.com/harmony-bft/node/internal/subscription"
)

// mempoolPeerSelector adapts the Mempool Peer Prioritizer's ordering
// into a subscription.PeerSelector: a subscription target should be a
// well-ordered upstream, per subscription/types.go's doc comment on
// PeerSelector.
func mempoolPeerSelector(prioritizer *mempool.Prioritizer) subscription.PeerSelector {
	return func(candidates map[peerid.PeerKey]metadata.PeerEntry, exclude map[peerid.PeerKey]struct{}, need int) []peerid.PeerKey {
		if need <= 0 || len(candidates) == 0 {
			return nil
		}

		peers := make([]mempool.Peer, 0, len(candidates))
		for key, entry := range candidates {
			peers = append(peers, mempool.Peer{
				Key:                    key,
				DistanceFromValidators: entry.Monitoring.DistanceFromValidators,
				PingLatencySecs:        entry.Monitoring.PingLatencySecs,
			})
		}

		sortedOrder, _ := prioritizer.Refresh(peers, time.Now().UTC())

		out := make([]peerid.PeerKey, 0, need)
		for _, p := range sortedOrder {
			if _, excluded := exclude[p.Key]; excluded {
				continue
			}
			if _, ok := candidates[p.Key]; !ok {
				continue
			}
			out = append(out, p.Key)
			if len(out) == need {
				break
			}
		}
		return out
	}
}

// registryProgressSource adapts internal/streaming's Registry to
// internal/opsserver's narrow StreamProgressSource seam, keeping
// opsserver decoupled from streaming's full Engine surface (see
// streaming/registry.go's doc comment on Registry).
type registryProgressSource struct {
	registry *streaming.Registry
}

func (r registryProgressSource) StreamProgress() []opsserver.StreamProgress {
	snaps := r.registry.Snapshot()
	out := make([]opsserver.StreamProgress, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, opsserver.StreamProgress{
			Kind:             s.Kind.String(),
			NextStreamIndex:  s.NextStreamIndex,
			NextRequestIndex: s.NextRequestIndex,
			Complete:         s.Complete,
		})
	}
	return out
}

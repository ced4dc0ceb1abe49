package subscription

import (
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
)

// evaluateHealth implements check_subscription_health (spec.md §4.3): it
// reports whether sub is still healthy and, as a side effect, updates
// sub's suboptimal-peer tracking fields. Peer-change checks fire only
// once per subscription_peer_change_interval_ms; a peer found suboptimal
// stays a candidate for replacement only once it has remained so for a
// full subscription_refresh_interval_ms, matching the spec's two-stage
// "notice, then act" rule.
func (m *Manager) evaluateHealth(sub *Subscription, connected map[peerid.PeerKey]metadata.PeerEntry, now time.Time) (bool, HealthFailureReason) {
	entry, stillConnected := connected[sub.Peer]
	if !stillConnected {
		return false, SubscriptionDisconnected
	}

	if !sub.LastMessageReceiveTime.IsZero() && now.Sub(sub.LastMessageReceiveTime) > m.cfg.MaxSubscriptionTimeout {
		return false, SubscriptionTimeout
	}
	if sub.LastMessageReceiveTime.IsZero() && now.Sub(sub.SubscribedAt) > m.cfg.MaxSubscriptionTimeout {
		return false, SubscriptionTimeout
	}

	if m.haveSyncedVersion && now.Sub(m.lastSyncedVersionAt) > m.cfg.MaxSyncedVersionTimeout {
		return false, SubscriptionProgressStopped
	}

	if now.Sub(sub.LastPeerChangeCheck) >= m.cfg.SubscriptionPeerChangeInterval {
		sub.LastPeerChangeCheck = now
		if m.betterPeerAvailable(entry, connected) {
			if sub.SuboptimalSince == nil {
				t := now
				sub.SuboptimalSince = &t
			}
		} else {
			sub.SuboptimalSince = nil
		}
	}

	if sub.SuboptimalSince != nil && now.Sub(*sub.SuboptimalSince) >= m.cfg.SubscriptionRefreshInterval {
		return false, SubscriptionSuboptimal
	}

	return true, 0
}

// betterPeerAvailable reports whether some connected peer (other than
// current's own) offers strictly lower ping latency than current's, by
// more than LatencySlackForSuboptimal -- "clearly better" per spec.md,
// not a marginal improvement that would cause needless churn.
func (m *Manager) betterPeerAvailable(current metadata.PeerEntry, connected map[peerid.PeerKey]metadata.PeerEntry) bool {
	currentLatency := current.Monitoring.PingLatencySecs
	if currentLatency == nil {
		return false // no baseline to improve on; never flag as suboptimal
	}

	slackSecs := m.cfg.LatencySlackForSuboptimal.Seconds()
	for key, entry := range connected {
		if key == current.Connection.Peer {
			continue
		}
		if entry.Monitoring.PingLatencySecs == nil {
			continue
		}
		if *entry.Monitoring.PingLatencySecs < *currentLatency-slackSecs {
			return true
		}
	}
	return false
}

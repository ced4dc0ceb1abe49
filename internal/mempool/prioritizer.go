package mempool

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/harmony-bft/node/internal/peerid"
)

// Config bounds one Prioritizer's behavior.
type Config struct {
	Mode                                 Mode
	NumSenderBuckets                     int
	DefaultFailovers                     int
	LoadBalancingBands                   []LoadBalancingBand
	EnableMaxLoadBalancingAtAnyLoad      bool
	SharedMempoolPriorityUpdateInterval  time.Duration // shared_mempool_priority_update_interval_secs
	IsVFN                                bool
}

func DefaultConfig() Config {
	return Config{
		Mode:                                Simple,
		NumSenderBuckets:                    4,
		DefaultFailovers:                    2,
		SharedMempoolPriorityUpdateInterval: 30 * time.Second,
	}
}

// Prioritizer produces the peer ordering and bucket assignment
// spec.md §4.4 describes, refreshing them on the adaptive schedule: on
// every peer-set change always, plus (intelligent mode) whenever
// latency data is incomplete, and otherwise at most every
// shared_mempool_priority_update_interval_secs.
type Prioritizer struct {
	cfg     Config
	ordering ordering
	traffic *TrafficTracker

	mu              sync.Mutex
	lastPeerSetKey  string
	lastRefreshAt   time.Time
	cached          Assignment
	cachedOrder     []Peer
	haveCache       bool
}

// New constructs a Prioritizer with a random per-instance seed so
// multiple node instances break simple-mode ties differently.
func New(cfg Config, traffic *TrafficTracker) *Prioritizer {
	return &Prioritizer{
		cfg:      cfg,
		ordering: ordering{mode: cfg.Mode, seed: rand.Uint64()},
		traffic:  traffic,
	}
}

// Refresh recomputes the ordering and bucket assignment if the refresh
// gate allows it, and returns the (possibly cached) current assignment
// and order.
func (p *Prioritizer) Refresh(peers []Peer, now time.Time) ([]Peer, Assignment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	setKey := peerSetKey(peers)
	peerSetChanged := setKey != p.lastPeerSetKey

	needsRefresh := !p.haveCache || peerSetChanged
	if !needsRefresh && p.cfg.Mode == Intelligent && !allLatenciesObserved(peers) {
		needsRefresh = true
	}
	if !needsRefresh && now.Sub(p.lastRefreshAt) >= p.cfg.SharedMempoolPriorityUpdateInterval {
		needsRefresh = true
	}

	if needsRefresh {
		p.recompute(peers, now)
		p.lastPeerSetKey = setKey
		p.lastRefreshAt = now
	}

	return p.cachedOrder, p.cached
}

func (p *Prioritizer) recompute(peers []Peer, now time.Time) {
	sortedPeers := p.ordering.sorted(peers)
	topPeers := p.topPeers(sortedPeers)
	assignment := assignBuckets(p.cfg.NumSenderBuckets, topPeers, sortedPeers, p.cfg.DefaultFailovers)
	p.cachedOrder = sortedPeers
	p.cached = assignment
	p.haveCache = true
}

// topPeers implements spec.md §4.4's top_peers selection.
func (p *Prioritizer) topPeers(sorted []Peer) []peerid.PeerKey {
	if p.cfg.IsVFN {
		if vfn, ok := p.lowestHashedVFNPeer(sorted); ok {
			return []peerid.PeerKey{vfn}
		}
	}

	n := p.numTopPeers(sorted)
	if n <= 0 || len(sorted) == 0 {
		return nil
	}
	if n > len(sorted) {
		n = len(sorted)
	}

	prefix := sorted[:n]
	lowestLatency := lowestLatencyIn(prefix)

	var out []peerid.PeerKey
	slack := p.currentLatencySlack()
	for _, peer := range prefix {
		if lowestLatency == nil || peer.PingLatencySecs == nil {
			out = append(out, peer.Key)
			continue
		}
		if *peer.PingLatencySecs <= *lowestLatency+slack.Seconds() {
			out = append(out, peer.Key)
		}
	}
	return out
}

func (p *Prioritizer) lowestHashedVFNPeer(sorted []Peer) (peerid.PeerKey, bool) {
	var best *Peer
	var bestHash uint64
	for i := range sorted {
		if sorted[i].Key.Network != peerid.VFN {
			continue
		}
		h := p.ordering.hash(sorted[i].Key.ID)
		if best == nil || h < bestHash {
			best = &sorted[i]
			bestHash = h
		}
	}
	if best == nil {
		return peerid.PeerKey{}, false
	}
	return best.Key, true
}

// numTopPeers computes num_top_peers = max(1, min(N, K)) per spec.md
// §4.4, where N is num_sender_buckets and K is the active
// load-balancing band's max_number_of_upstream_peers.
func (p *Prioritizer) numTopPeers(sorted []Peer) int {
	n := p.cfg.NumSenderBuckets
	k := p.kFromLoadBalancingBands()
	candidate := n
	if k < candidate {
		candidate = k
	}
	if candidate < 1 {
		candidate = 1
	}
	return candidate
}

func (p *Prioritizer) kFromLoadBalancingBands() int {
	if p.traffic == nil || len(p.cfg.LoadBalancingBands) == 0 {
		return p.cfg.NumSenderBuckets
	}
	band := selectBand(p.cfg.LoadBalancingBands, p.traffic.Max(), p.cfg.EnableMaxLoadBalancingAtAnyLoad)
	if band.MaxUpstreamPeers <= 0 {
		return p.cfg.NumSenderBuckets
	}
	return band.MaxUpstreamPeers
}

func (p *Prioritizer) currentLatencySlack() time.Duration {
	if p.traffic == nil || len(p.cfg.LoadBalancingBands) == 0 {
		return 0
	}
	band := selectBand(p.cfg.LoadBalancingBands, p.traffic.Max(), p.cfg.EnableMaxLoadBalancingAtAnyLoad)
	return band.LatencySlack
}

func lowestLatencyIn(peers []Peer) *float64 {
	var best *float64
	for _, p := range peers {
		if p.PingLatencySecs == nil {
			continue
		}
		if best == nil || *p.PingLatencySecs < *best {
			v := *p.PingLatencySecs
			best = &v
		}
	}
	return best
}

func allLatenciesObserved(peers []Peer) bool {
	for _, p := range peers {
		if p.PingLatencySecs == nil {
			return false
		}
	}
	return true
}

func peerSetKey(peers []Peer) string {
	// Order-independent membership fingerprint: sufficient to detect
	// add/remove, which is all the refresh gate cares about.
	seen := make(map[peerid.PeerKey]struct{}, len(peers))
	for _, p := range peers {
		seen[p.Key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "|"
	}
	return out
}

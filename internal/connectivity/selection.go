package connectivity

import (
	"context"
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
)

const probeTimeout = 2 * time.Second
const maxProbedAddrs = 2

// upstreamRoles decides which declared roles are dial-worthy for a node
// operating as ownRole on network. Not fully pinned down by spec.md
// (tracked as an Open Question resolution in DESIGN.md): validators only
// ever dial other validators; a VFN dials validators and peer VFNs;
// public nodes dial VFNs, preferred upstreams, and other public nodes.
func upstreamRoles(network peerid.NetworkID, ownRole metadata.ConnectionRole) map[metadata.ConnectionRole]struct{} {
	switch network {
	case peerid.Validator:
		return roleSet(metadata.RoleValidator)
	case peerid.VFN:
		if ownRole == metadata.RoleValidator {
			return roleSet(metadata.RoleValidator)
		}
		return roleSet(metadata.RoleValidator, metadata.RoleVFN)
	default:
		return roleSet(metadata.RoleVFN, metadata.RolePreferredUpstream, metadata.RolePublic)
	}
}

func roleSet(roles ...metadata.ConnectionRole) map[metadata.ConnectionRole]struct{} {
	out := make(map[metadata.ConnectionRole]struct{}, len(roles))
	for _, r := range roles {
		out[r] = struct{}{}
	}
	return out
}

// sortedAddrs returns p's union of addresses in a stable, deterministic
// order so round-robin dialing is reproducible across ticks.
func sortedAddrs(p *metadata.DiscoveredPeer) []string {
	addrs := p.UnionAddrs()
	sort.Strings(addrs)
	return addrs
}

// probeLatency concurrently TCP-dials up to maxProbedAddrs of addrs with
// probeTimeout each and returns the fastest successful connect time, per
// spec.md §4.2's dial-selection latency probe.
func probeLatency(ctx context.Context, addrs []string) (*float64, error) {
	if len(addrs) == 0 {
		return nil, errNoAddresses
	}
	n := len(addrs)
	if n > maxProbedAddrs {
		n = maxProbedAddrs
	}

	type probeResult struct {
		secs float64
		err  error
	}
	results := make(chan probeResult, n)
	for _, addr := range addrs[:n] {
		go func(addr string) {
			dialer := net.Dialer{Timeout: probeTimeout}
			start := time.Now()
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				results <- probeResult{err: err}
				return
			}
			elapsed := time.Since(start).Seconds()
			_ = conn.Close()
			results <- probeResult{secs: elapsed}
		}(addr)
	}

	var best *float64
	var lastErr error
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if best == nil || r.secs < *best {
			v := r.secs
			best = &v
		}
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// selectCandidates narrows the trusted set down to peers we should
// consider dialing: eligible, dialable, not connected, not already
// queued, and whose role matches upstreamRoles.
func selectCandidates(
	trusted map[peerid.PeerID]struct{},
	discovered metadata.DiscoveryState,
	connected map[peerid.PeerKey]struct{},
	queued *DialQueue,
	network peerid.NetworkID,
	ownRole metadata.ConnectionRole,
) []peerid.PeerID {
	allowed := upstreamRoles(network, ownRole)
	var out []peerid.PeerID
	for id := range trusted {
		dp, ok := discovered[id]
		if !ok || !dp.Dialable() {
			continue
		}
		if _, isAllowed := allowed[dp.Role]; !isAllowed {
			continue
		}
		key := peerid.PeerKey{Network: network, ID: id}
		if _, isConnected := connected[key]; isConnected {
			continue
		}
		if queued.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// uniformSelect picks up to budget candidates uniformly at random.
func uniformSelect(candidates []peerid.PeerID, budget int) []peerid.PeerID {
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}
	shuffled := append([]peerid.PeerID(nil), candidates...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if budget > len(shuffled) {
		budget = len(shuffled)
	}
	return shuffled[:budget]
}

// weightedSelect picks up to budget candidates, biased toward lower
// latency. Candidates missing a latency sample are treated as having
// the worst (largest) latency among known samples, so unprobed peers
// still get a chance without dominating selection.
func weightedSelect(candidates []peerid.PeerID, latencies map[peerid.PeerID]float64, budget int) []peerid.PeerID {
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}
	const epsilon = 0.001

	pool := append([]peerid.PeerID(nil), candidates...)
	weights := make(map[peerid.PeerID]float64, len(pool))
	worst := epsilon
	for _, id := range pool {
		if l, ok := latencies[id]; ok && l > worst {
			worst = l
		}
	}
	for _, id := range pool {
		l, ok := latencies[id]
		if !ok {
			l = worst
		}
		weights[id] = 1.0 / (l + epsilon)
	}

	var out []peerid.PeerID
	for len(out) < budget && len(pool) > 0 {
		total := 0.0
		for _, id := range pool {
			total += weights[id]
		}
		r := rand.Float64() * total
		acc := 0.0
		chosenIdx := len(pool) - 1
		for i, id := range pool {
			acc += weights[id]
			if r <= acc {
				chosenIdx = i
				break
			}
		}
		out = append(out, pool[chosenIdx])
		pool = append(pool[:chosenIdx], pool[chosenIdx+1:]...)
	}
	return out
}

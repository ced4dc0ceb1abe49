package mempool

import (
	"sync"
	"time"
)

// LoadBalancingBand is one entry of the load_balancing_thresholds[]
// config list: above avg_mempool_traffic_threshold_in_tps observed
// traffic, at most MaxUpstreamPeers top peers are selected, and peers
// must be within LatencySlack of the fastest to qualify.
type LoadBalancingBand struct {
	TrafficThresholdTPS float64
	MaxUpstreamPeers    int
	LatencySlack        time.Duration
}

// TrafficTracker maintains an exponentially-decayed moving average of
// observed mempool and committed-transaction traffic. Supplements
// spec.md's bucket-assignment algorithm, which references "observed
// mempool and committed traffic in the elapsed window" without pinning
// down how that average is computed; original_source's mempool network
// interface keeps a decayed load average for exactly this purpose, so
// we follow that rather than a plain windowed counter.
type TrafficTracker struct {
	mu sync.Mutex

	alpha        float64
	mempoolEMA   float64
	committedEMA float64
	initialized  bool
}

// NewTrafficTracker returns a tracker with decay factor alpha (the
// weight given to each new observation; smaller alpha means a smoother,
// longer-memory average).
func NewTrafficTracker(alpha float64) *TrafficTracker {
	return &TrafficTracker{alpha: alpha}
}

// Observe folds in one window's observed TPS values.
func (t *TrafficTracker) Observe(mempoolTPS, committedTPS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		t.mempoolEMA = mempoolTPS
		t.committedEMA = committedTPS
		t.initialized = true
		return
	}
	t.mempoolEMA = t.alpha*mempoolTPS + (1-t.alpha)*t.mempoolEMA
	t.committedEMA = t.alpha*committedTPS + (1-t.alpha)*t.committedEMA
}

// Max returns the greater of the two decayed averages, matching
// spec.md's "the greater of observed mempool and committed traffic."
func (t *TrafficTracker) Max() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mempoolEMA > t.committedEMA {
		return t.mempoolEMA
	}
	return t.committedEMA
}

// selectBand returns the highest band whose threshold is at or below
// observedTPS, per spec.md §4.4. bands must be sorted ascending by
// TrafficThresholdTPS. If bypass is set (enable_max_load_balancing_at_any_load),
// the most permissive band (largest MaxUpstreamPeers) is returned
// unconditionally. Returns the zero band if bands is empty.
func selectBand(bands []LoadBalancingBand, observedTPS float64, bypass bool) LoadBalancingBand {
	if len(bands) == 0 {
		return LoadBalancingBand{}
	}
	if bypass {
		best := bands[0]
		for _, b := range bands[1:] {
			if b.MaxUpstreamPeers > best.MaxUpstreamPeers {
				best = b
			}
		}
		return best
	}

	chosen := bands[0]
	for _, b := range bands {
		if b.TrafficThresholdTPS <= observedTPS {
			chosen = b
		}
	}
	return chosen
}

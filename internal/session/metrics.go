package session

import (
	"sync"
	"sync/atomic"
)

// Metrics accumulates the per-session counters and latency samples
// spec.md §4.1 calls for. Kept as plain atomics rather than a metrics
// library dependency; they are read through the exported fields and the
// *Samples accessors, and no package outside internal/session reads
// them. Wiring a full metrics client is the external collaborator's job
// per spec.md §1.
type Metrics struct {
	UnknownProtocolDrops  atomic.Uint64
	InboundRPCTimeouts    atomic.Uint64
	OutboundRPCTimeouts   atomic.Uint64
	FragmentCapRejections atomic.Uint64
	ParsingErrors         atomic.Uint64

	appSendToReceiveSecs          latencySamples
	appSendToReceiveStreamedSecs  latencySamples
	wireSendToReceiveSecs         latencySamples
	wireSendToReceiveStreamedSecs latencySamples
}

// latencySamples is a small fixed-capacity ring buffer -- enough for the
// ops surface to render a recent-latency sparkline without pulling in a
// histogram library for a single per-session gauge.
type latencySamples struct {
	mu      sync.Mutex
	samples [64]float64
	idx     int
	count   int
}

func (l *latencySamples) observe(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[l.idx%len(l.samples)] = v
	l.idx++
	if l.count < len(l.samples) {
		l.count++
	}
}

// Snapshot returns up to the last 64 observed samples, oldest first.
func (l *latencySamples) Snapshot() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, l.count)
	start := l.idx - l.count
	for i := 0; i < l.count; i++ {
		out[i] = l.samples[(start+i)%len(l.samples)]
	}
	return out
}

// ObserveApplicationSendToReceive records a latency sample for a message
// whose application-send timestamp was present, routed into the streamed
// or non-streamed sampler per spec.md §4.1's "distinguishing streamed-tail
// messages from non-streamed messages". Messages lacking the timestamp
// are never passed here -- no synthetic values.
func (m *Metrics) ObserveApplicationSendToReceive(streamed bool, secs float64) {
	if streamed {
		m.appSendToReceiveStreamedSecs.observe(secs)
		return
	}
	m.appSendToReceiveSecs.observe(secs)
}

// ObserveWireSendToReceive records a latency sample for the wire-level
// send-to-receive duration, likewise split by streamed vs non-streamed.
func (m *Metrics) ObserveWireSendToReceive(streamed bool, secs float64) {
	if streamed {
		m.wireSendToReceiveStreamedSecs.observe(secs)
		return
	}
	m.wireSendToReceiveSecs.observe(secs)
}

// AppSendToReceiveSamples exposes recent non-streamed application-level
// latency samples for the ops surface.
func (m *Metrics) AppSendToReceiveSamples() []float64 { return m.appSendToReceiveSecs.Snapshot() }

// AppSendToReceiveStreamedSamples exposes recent streamed-tail
// application-level latency samples for the ops surface.
func (m *Metrics) AppSendToReceiveStreamedSamples() []float64 {
	return m.appSendToReceiveStreamedSecs.Snapshot()
}

// WireSendToReceiveSamples exposes recent non-streamed wire-level latency
// samples for the ops surface.
func (m *Metrics) WireSendToReceiveSamples() []float64 { return m.wireSendToReceiveSecs.Snapshot() }

// WireSendToReceiveStreamedSamples exposes recent streamed-tail wire-level
// latency samples for the ops surface.
func (m *Metrics) WireSendToReceiveStreamedSamples() []float64 {
	return m.wireSendToReceiveStreamedSecs.Snapshot()
}

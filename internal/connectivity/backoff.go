package connectivity

import (
	"math/rand"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// DialState tracks one trusted peer's dial progress: how far through its
// backoff schedule we are, and which of its known addresses we'll try
// next. Grounded on spec.md §4.2's "Capped-backoff dialing" and the
// scenario-4 rotation test (addresses chosen 0,1,2,0; reset on
// discovery update).
type DialState struct {
	boff      *backoff.ExponentialBackOff
	addrIndex int
}

// NewDialState returns a fresh state starting at address index 0 with an
// un-advanced backoff schedule.
func NewDialState() *DialState {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // never give up; the manager decides when to stop trying
	return &DialState{boff: b}
}

// NextDelay advances the backoff schedule and returns the delay before
// the next dial attempt, capped at maxDelay and jittered by up to 100ms
// per spec.md §4.2.
func (d *DialState) NextDelay(maxDelay time.Duration) time.Duration {
	d.boff.MaxInterval = maxDelay
	next := d.boff.NextBackOff()
	if next == backoff.Stop || next > maxDelay {
		next = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	return next + jitter
}

// NextAddr round-robins through addrs (which callers must present in a
// stable order) and returns the next one to dial, reporting false if
// addrs is empty.
func (d *DialState) NextAddr(addrs []string) (string, bool) {
	if len(addrs) == 0 {
		return "", false
	}
	addr := addrs[d.addrIndex%len(addrs)]
	d.addrIndex++
	return addr, true
}

// Reset restarts the schedule from the first address with a fresh
// backoff, per spec.md §4.2: "On any successful discovery update for the
// peer, the DialState is reset."
func (d *DialState) Reset() {
	d.boff.Reset()
	d.addrIndex = 0
}

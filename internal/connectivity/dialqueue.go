package connectivity

import (
	"context"
	"sync"

	"github.com/harmony-bft/node/internal/peerid"
)

type queuedDial struct {
	cancel context.CancelFunc
	state  *DialState
}

// DialQueue is the set of peers we are currently attempting to dial,
// each with a cancel handle (so a tick that finds the peer no longer
// trusted can abandon the attempt) and its DialState.
type DialQueue struct {
	mu sync.Mutex
	m  map[peerid.PeerID]*queuedDial
}

func NewDialQueue() *DialQueue {
	return &DialQueue{m: make(map[peerid.PeerID]*queuedDial)}
}

func (q *DialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.m)
}

func (q *DialQueue) Contains(id peerid.PeerID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.m[id]
	return ok
}

// Enqueue registers id as in-flight. Caller must not already hold it.
func (q *DialQueue) Enqueue(id peerid.PeerID, cancel context.CancelFunc, state *DialState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.m[id] = &queuedDial{cancel: cancel, state: state}
}

// Cancel invokes and removes id's cancel handle, if queued.
func (q *DialQueue) Cancel(id peerid.PeerID) {
	q.mu.Lock()
	qd, ok := q.m[id]
	if ok {
		delete(q.m, id)
	}
	q.mu.Unlock()
	if ok {
		qd.cancel()
	}
}

// Remove drops id from the queue without invoking cancel, used when a
// dial succeeds and the attempt is complete on its own.
func (q *DialQueue) Remove(id peerid.PeerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.m, id)
}

// Snapshot returns the currently queued peer ids.
func (q *DialQueue) Snapshot() []peerid.PeerID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]peerid.PeerID, 0, len(q.m))
	for id := range q.m {
		out = append(out, id)
	}
	return out
}

// StateFor returns the DialState for a queued peer, if present, so the
// discovery-update path can reset it without disturbing the cancel
// handle or in-flight goroutine.
func (q *DialQueue) StateFor(id peerid.PeerID) (*DialState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	qd, ok := q.m[id]
	if !ok {
		return nil, false
	}
	return qd.state, true
}

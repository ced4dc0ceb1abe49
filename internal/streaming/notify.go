package streaming

import "sync"

// Publisher fans a Driver's notifications out to any number of
// internal consumers (the ops surface's live event push, additional
// in-process listeners) without coupling the Driver to who's
// listening. Grounded on the teacher's app/networking/listen.go
// fan-out intent (broadcast mempool changes to every connected peer's
// writer goroutine) generalized from mempool tx changes to stream
// notifications.
//
// The teacher's own import path for this concern is
// "github.com/itzmeanjan/pub0sub/ops", a client for a separately
// running networked pub/sub broker -- the wrong shape for fanning out
// to consumers living in this same process, and its Subscriber type
// (Watch/Disconnect/UnsubscribeAll against a remote service) has no
// analogue here. A second candidate, "github.com/itzmeanjan/pubsub",
// sits in the teacher's go.mod but is never actually imported anywhere
// in its source; the one pubsub.Publish(...).Err() call site in
// app/data/pending.go is a *redis.Client local variable named
// "pubsub", not that package, so neither the teacher nor this pack
// corroborates its API. Publishing this struct over the already-wired
// go-redis client was considered too -- it's the closest grounded fit
// -- but round-tripping Notification.Terminal (an error interface)
// through a wire codec for a purely in-process fan-out adds a real
// cross-process dependency for no benefit. Implemented directly on a
// mutex-guarded per-topic subscriber set instead.
type Publisher struct {
	mu       sync.Mutex
	topics   map[string]map[chan *Notification]struct{}
	capacity int
}

// NewPublisher constructs a Publisher. capacity is the buffer depth
// given to each subscriber's channel so a momentarily slow consumer
// doesn't make Publish block the Driver.
func NewPublisher(capacity int) *Publisher {
	if capacity < 1 {
		capacity = 1
	}
	return &Publisher{
		topics:   make(map[string]map[chan *Notification]struct{}),
		capacity: capacity,
	}
}

// Publish broadcasts n to every current subscriber of topic. Best
// effort: a slow or absent subscriber never blocks the Driver -- a
// full subscriber channel simply drops this notification for that
// subscriber.
func (p *Publisher) Publish(topic string, n *Notification) {
	p.mu.Lock()
	subs := p.topics[topic]
	chans := make([]chan *Notification, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	p.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel of notifications published to topic and
// an unsubscribe func. Callers must keep draining the channel until
// they call unsubscribe.
func (p *Publisher) Subscribe(topic string) (<-chan *Notification, func()) {
	ch := make(chan *Notification, p.capacity)

	p.mu.Lock()
	subs, ok := p.topics[topic]
	if !ok {
		subs = make(map[chan *Notification]struct{})
		p.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		delete(p.topics[topic], ch)
		if len(p.topics[topic]) == 0 {
			delete(p.topics, topic)
		}
		p.mu.Unlock()
	}
	return ch, unsubscribe
}

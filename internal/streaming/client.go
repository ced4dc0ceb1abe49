package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Client resolves data-client requests against the network, ultimately
// through the peer sessions the Connectivity Manager maintains (spec.md
// §4.5: "poses typed requests to a client that ultimately resolves them
// through peer sessions"). The engine itself stays synchronous; all
// suspension lives here, per spec.md §5.
type Client interface {
	Send(ctx context.Context, req Request) (Response, error)
	GlobalDataSummary(ctx context.Context) (GlobalDataSummary, error)
}

// Driver is the demand-driven producer that turns one Engine into a
// running stream: it polls GlobalDataSummary, asks the engine for its
// next batch of requests, resolves them concurrently through Client,
// and feeds ordered notifications to Notifications().
type Driver struct {
	engine                Engine
	client                Client
	log                   *logrus.Entry
	maxConcurrentRequests int
	pollInterval          time.Duration

	out chan *Notification
	pub *Publisher
	topic string
}

// NewDriver constructs a Driver for engine. pub/topic may be nil/empty
// to skip the ops-surface fan-out.
func NewDriver(engine Engine, client Client, log *logrus.Entry, maxConcurrentRequests int, pollInterval time.Duration, pub *Publisher, topic string) *Driver {
	return &Driver{
		engine:                engine,
		client:                client,
		log:                   log.WithFields(logrus.Fields{"component": "streaming", "kind": engine.Kind().String()}),
		maxConcurrentRequests: maxConcurrentRequests,
		pollInterval:          pollInterval,
		out:                   make(chan *Notification, maxConcurrentRequests),
		pub:                   pub,
		topic:                 topic,
	}
}

// Notifications returns the ordered stream of notifications. Closed
// when the stream completes or Run's context is canceled.
func (d *Driver) Notifications() <-chan *Notification {
	return d.out
}

// Run drives the engine until it reports complete, its context is
// canceled, or a fatal stream error occurs (delivered as a terminal
// Notification before the channel closes).
func (d *Driver) Run(ctx context.Context) {
	defer close(d.out)

	for {
		if d.engine.IsStreamComplete() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		summary, err := d.client.GlobalDataSummary(ctx)
		if err != nil {
			d.log.WithError(err).Warn("failed to fetch global data summary")
			if !d.sleep(ctx) {
				return
			}
			continue
		}

		reqs, err := d.createRequests(summary)
		if err != nil {
			if errors.Is(err, ErrDataUnavailable) {
				if !d.sleep(ctx) {
					return
				}
				continue
			}
			d.emitTerminal(err)
			return
		}
		if len(reqs) == 0 {
			if !d.sleep(ctx) {
				return
			}
			continue
		}

		responses, err := d.resolve(ctx, reqs)
		if err != nil {
			d.log.WithError(err).Warn("data client request failed, retrying next round")
			if !d.sleep(ctx) {
				return
			}
			continue
		}

		// Per spec.md §5's ordering guarantee, responses are applied to
		// the engine in request order even though they were resolved
		// concurrently -- a later chunk's response never overtakes an
		// earlier one.
		for i, req := range reqs {
			notification, err := d.transform(req, responses[i])
			if err != nil {
				d.emitTerminal(err)
				return
			}
			if notification == nil {
				continue
			}
			if d.pub != nil && d.topic != "" {
				d.pub.Publish(d.topic, notification)
			}
			select {
			case d.out <- notification:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Driver) sleep(ctx context.Context) bool {
	t := time.NewTimer(d.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// createRequests calls CreateDataClientRequests directly, with no
// recover: unlike TransformClientResponseIntoNotification (see transform
// below), it does not call checkStart, so it does not raise the
// protocol-invariant panic.
func (d *Driver) createRequests(summary GlobalDataSummary) (reqs []Request, err error) {
	return d.engine.CreateDataClientRequests(d.maxConcurrentRequests, summary)
}

// resolve sends every request concurrently and returns responses in
// request order, or the first error encountered.
func (d *Driver) resolve(ctx context.Context, reqs []Request) ([]Response, error) {
	responses := make([]Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := d.client.Send(gctx, req)
			if err != nil {
				return fmt.Errorf("streaming: send %s: %w", req.Kind, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// transform recovers the panic TransformClientResponseIntoNotification
// raises on a protocol invariant violation (spec.md §4.5: "enforces
// start == next_stream_index -- panic on mismatch") and turns it into a
// fatal stream error, rather than letting it crash the process.
func (d *Driver) transform(req Request, resp Response) (n *Notification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("streaming: %v", r)
		}
	}()
	return d.engine.TransformClientResponseIntoNotification(req, resp)
}

func (d *Driver) emitTerminal(err error) {
	d.log.WithError(err).Error("stream terminated fatally")
	select {
	case d.out <- &Notification{Kind: d.engine.Kind(), Terminal: err}:
	default:
	}
}

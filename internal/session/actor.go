package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const lengthPrefixBytes = 4

// InboundMessage is handed to a registered protocol handler. For direct
// sends Respond is nil. For RPC requests, the handler must call Respond
// exactly once; if it doesn't within cfg.InboundRPCTimeout, the actor
// sends a timeout Error frame on the handler's behalf.
type InboundMessage struct {
	ProtocolID string
	Payload    []byte
	Streamed   bool
	ReceivedAt time.Time

	isRPC     bool
	requestID uint64
	respond   func(payload []byte, errCode *wire.ErrorCode)
}

// Respond answers an inbound RPC request. No-op for direct-sends.
func (m *InboundMessage) Respond(payload []byte) {
	if m.respond != nil {
		m.respond(payload, nil)
	}
}

// RespondError answers an inbound RPC request with an error frame.
func (m *InboundMessage) RespondError(code wire.ErrorCode) {
	if m.respond != nil {
		m.respond(nil, &code)
	}
}

type outboundItem struct {
	msg    wire.Message
	result chan error // nil for actor-generated replies and Error frames; non-nil, buffered 1, for SendDirectSend/SendRPC awaiting framing-level errors
}

type rpcWaiter struct {
	resultCh chan rpcResult
}

type rpcResult struct {
	payload []byte
	errCode *wire.ErrorCode
	err     error
}

// Actor owns one connected socket from post-handshake to close.
type Actor struct {
	peer   peerid.PeerKey
	connID metadata.ConnectionID
	conn   Conn
	cfg    Config
	log    *logrus.Entry

	handlersMu sync.RWMutex
	handlers   map[string]chan *InboundMessage

	outboundQueue chan outboundItem
	framesOut     chan wire.Frame

	dropCh       <-chan DropRequest
	disconnectCh chan<- DisconnectNotification

	state          atomic.Int32
	shutdownReason atomic.Int32

	outboundSem    *semaphore.Weighted
	inboundSem     *semaphore.Weighted
	nextRequestID  atomic.Uint64

	rpcMu      sync.Mutex
	rpcWaiters map[uint64]*rpcWaiter

	Metrics *Metrics
}

// New constructs an actor for an already-connected socket. dropCh is the
// manager-to-session channel; disconnectCh is the session-to-manager
// channel. Neither holds a back-pointer to the other (spec.md §9).
func New(peer peerid.PeerKey, connID metadata.ConnectionID, conn Conn, cfg Config, dropCh <-chan DropRequest, disconnectCh chan<- DisconnectNotification, log *logrus.Entry) *Actor {
	a := &Actor{
		peer:          peer,
		connID:        connID,
		conn:          conn,
		cfg:           cfg,
		log:           log.WithFields(logrus.Fields{"peer": peer.String(), "conn_id": connID}),
		handlers:      make(map[string]chan *InboundMessage),
		outboundQueue: make(chan outboundItem, cfg.OutboundQueueDepth),
		framesOut:     make(chan wire.Frame, cfg.OutboundQueueDepth),
		dropCh:        dropCh,
		disconnectCh:  disconnectCh,
		outboundSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentOutboundRPCs)),
		inboundSem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentInboundRPCs)),
		rpcWaiters:    make(map[uint64]*rpcWaiter),
		Metrics:       &Metrics{},
	}
	return a
}

// RegisterHandler pre-registers a protocol id, returning the channel
// inbound direct-sends and RPC requests for it will be delivered on.
func (a *Actor) RegisterHandler(protocolID string) <-chan *InboundMessage {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	ch := make(chan *InboundMessage, a.cfg.HandlerQueueDepth)
	a.handlers[protocolID] = ch
	return ch
}

func (a *Actor) State() State {
	return State(a.state.Load())
}

func (a *Actor) ShutdownReason() (ShutdownReason, bool) {
	if a.State() != StateShuttingDown {
		return 0, false
	}
	return ShutdownReason(a.shutdownReason.Load()), true
}

// Drop requests an orderly shutdown with the given reason. Safe to call
// concurrently with Run; idempotent.
func (a *Actor) Drop(reason ShutdownReason) {
	a.enterShuttingDown(reason)
}

func (a *Actor) enterShuttingDown(reason ShutdownReason) bool {
	if !a.state.CompareAndSwap(int32(StateConnected), int32(StateShuttingDown)) {
		return false
	}
	a.shutdownReason.Store(int32(reason))
	return true
}

// Run drives the actor until the connection ends, for whatever reason.
// It never returns an error to its caller in the ordinary sense -- all
// outcomes are orderly shutdowns reported via disconnectCh -- but it
// returns the terminal error for logging/test purposes.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case req, ok := <-a.dropCh:
			if !ok {
				a.enterShuttingDown(RequestedByPeerManager)
			} else {
				a.enterShuttingDown(req.Reason)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.framingTask(egCtx) })
	eg.Go(func() error { return a.wireTask(egCtx) })
	eg.Go(func() error { return a.readerLoop(egCtx) })

	runErr := eg.Wait()
	cancel()

	reason := a.classifyTerminal(runErr)
	a.enterShuttingDown(reason) // no-op if a DropRequest already set a reason

	a.shutdown()

	finalReason, _ := a.ShutdownReason()
	select {
	case a.disconnectCh <- DisconnectNotification{Peer: a.peer, Reason: finalReason}:
	default:
		// Manager's notification channel should never be unbuffered+full
		// for long; a blocked send here would wedge shutdown, so this is
		// best-effort with a warning rather than a hang.
		a.log.Warn("disconnect notification dropped: manager channel full")
	}

	return runErr
}

func (a *Actor) classifyTerminal(err error) ShutdownReason {
	if reason, ok := a.ShutdownReason(); ok {
		return reason
	}
	switch {
	case errors.Is(err, io.EOF):
		return ConnectionClosed
	case err == nil:
		return ConnectionClosed
	default:
		return InputOutputError
	}
}

func (a *Actor) shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownFlushTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		// The wire task has already stopped, so there is nothing left
		// to flush: done closes at once and the select below returns
		// without waiting. ShutdownFlushTimeout does not bound Close(),
		// which runs after the select.
		close(done)
	}()
	select {
	case <-done:
	case <-flushCtx.Done():
	}
	_ = a.conn.Close()

	a.rpcMu.Lock()
	for id, w := range a.rpcWaiters {
		select {
		case w.resultCh <- rpcResult{err: ErrSessionShuttingDown}:
		default:
		}
		delete(a.rpcWaiters, id)
	}
	a.rpcMu.Unlock()
}

// readerLoop is the single suspension point implied by spec.md §5 for
// inbound traffic: it blocks on socket reads and dispatches decoded
// messages, fragmenting/reassembling transparently.
func (a *Actor) readerLoop(ctx context.Context) error {
	reassembler := wire.NewReassembler(wire.FrameSizes{MaxFrameSize: a.cfg.MaxFrameSize, MaxMessageSize: a.cfg.MaxMessageSize})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := a.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.enterShuttingDown(ConnectionClosed)
				return err
			}
			a.enterShuttingDown(InputOutputError)
			return fmt.Errorf("session: read: %w", err)
		}

		frame, err := wire.DecodeFrame(raw)
		if err != nil {
			a.Metrics.ParsingErrors.Add(1)
			a.log.WithError(err).Warn("malformed frame, dropping")
			continue
		}

		switch frame.Kind {
		case wire.KindStreamHeader:
			if err := reassembler.HeaderFromBody(frame.Body); err != nil {
				a.Metrics.FragmentCapRejections.Add(1)
				a.log.WithError(err).Warn("rejecting stream: fragment cap exceeded")
			}
			continue
		case wire.KindStreamFragment:
			payload, done, err := reassembler.Fragment(frame.Body)
			if err != nil {
				a.Metrics.FragmentCapRejections.Add(1)
				a.log.WithError(err).Warn("rejecting stream fragment")
				continue
			}
			if !done {
				continue
			}
			a.decodeAndDispatch(payload, true)
		default:
			a.decodeAndDispatch(frame.Body, false)
		}
	}
}

func (a *Actor) readFrame() ([]byte, error) {
	lenBuf := make([]byte, lengthPrefixBytes)
	if _, err := io.ReadFull(a.conn, lenBuf); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf)
	if size == 0 || uint64(size) > uint64(a.cfg.MaxMessageSize)+lengthPrefixBytes {
		return nil, fmt.Errorf("session: absurd frame length %d", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(a.conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (a *Actor) decodeAndDispatch(raw []byte, streamed bool) {
	msg, err := wire.Decode(raw)
	if err != nil {
		a.Metrics.ParsingErrors.Add(1)
		a.log.WithError(err).Warn("parsing error, replying with Error frame")
		a.enqueueOutbound(wire.Message{Kind: wire.KindError, ErrorCode: wire.ErrorParsing}, nil)
		return
	}
	msg.Streamed = streamed
	a.observeLatency(msg)
	a.route(msg)
}

func (a *Actor) observeLatency(msg wire.Message) {
	now := time.Now().UTC()
	if msg.Timestamps.ApplicationSendTime != nil {
		a.Metrics.ObserveApplicationSendToReceive(msg.Streamed, now.Sub(*msg.Timestamps.ApplicationSendTime).Seconds())
	}
	if msg.Timestamps.WireSendTime != nil {
		a.Metrics.ObserveWireSendToReceive(msg.Streamed, now.Sub(*msg.Timestamps.WireSendTime).Seconds())
	}
}

func (a *Actor) route(msg wire.Message) {
	switch msg.Kind {
	case wire.KindDirectSend, wire.KindDirectSendAndMetadata:
		a.dispatchToHandler(msg, false)
	case wire.KindRPCRequest, wire.KindRPCRequestAndMetadata:
		a.dispatchToHandler(msg, true)
	case wire.KindRPCResponse, wire.KindRPCResponseAndMetadata:
		a.completeRPC(msg.RequestID, rpcResult{payload: msg.Payload})
	case wire.KindError:
		a.completeRPC(msg.RequestID, rpcResult{errCode: &msg.ErrorCode, err: fmt.Errorf("session: peer error code %d", msg.ErrorCode)})
	default:
		a.log.WithField("kind", msg.Kind).Debug("ignoring response type not participating in core RPCs")
	}
}

func (a *Actor) dispatchToHandler(msg wire.Message, isRPC bool) {
	a.handlersMu.RLock()
	ch, ok := a.handlers[msg.ProtocolID]
	a.handlersMu.RUnlock()
	if !ok {
		a.Metrics.UnknownProtocolDrops.Add(1)
		return
	}

	im := &InboundMessage{
		ProtocolID: msg.ProtocolID,
		Payload:    msg.Payload,
		Streamed:   msg.Streamed,
		ReceivedAt: time.Now().UTC(),
		isRPC:      isRPC,
		requestID:  msg.RequestID,
	}

	if !isRPC {
		ch <- im
		return
	}

	if !a.inboundSem.TryAcquire(1) {
		a.enqueueOutbound(wire.Message{Kind: wire.KindError, RequestID: msg.RequestID, ErrorCode: wire.ErrorResourceExhausted}, nil)
		a.log.Warn("inbound rpc capacity exceeded, rejecting request")
		return
	}

	responded := make(chan struct{}, 1)
	var once sync.Once
	im.respond = func(payload []byte, errCode *wire.ErrorCode) {
		once.Do(func() {
			if errCode != nil {
				a.enqueueOutbound(wire.Message{Kind: wire.KindError, RequestID: msg.RequestID, ErrorCode: *errCode}, nil)
			} else {
				a.enqueueOutbound(wire.Message{Kind: wire.KindRPCResponse, RequestID: msg.RequestID, Payload: payload}, nil)
			}
			a.inboundSem.Release(1)
			responded <- struct{}{}
		})
	}

	go func() {
		timer := time.NewTimer(a.cfg.InboundRPCTimeout)
		defer timer.Stop()
		select {
		case <-responded:
		case <-timer.C:
			a.Metrics.InboundRPCTimeouts.Add(1)
			im.RespondError(wire.ErrorTimeout)
		}
	}()

	ch <- im
}

func (a *Actor) completeRPC(requestID uint64, res rpcResult) {
	a.rpcMu.Lock()
	w, ok := a.rpcWaiters[requestID]
	if ok {
		delete(a.rpcWaiters, requestID)
	}
	a.rpcMu.Unlock()

	if !ok {
		a.log.WithField("request_id", requestID).Debug("rpc response cancellation or unmatched response, dropping")
		return
	}
	select {
	case w.resultCh <- res:
	default:
	}
}

func (a *Actor) enqueueOutbound(msg wire.Message, result chan error) {
	select {
	case a.outboundQueue <- outboundItem{msg: msg, result: result}:
	default:
		a.log.Warn("outbound queue full, dropping message")
		if result != nil {
			select {
			case result <- fmt.Errorf("session: outbound queue full"):
			default:
			}
		}
	}
}

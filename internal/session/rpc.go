package session

import (
	"context"
	"time"

	"github.com/harmony-bft/node/internal/wire"
)

// SendDirectSend queues a fire-and-forget message for protocolID. Returns
// once the message has been accepted onto the framing pipeline, not once
// it has hit the wire.
func (a *Actor) SendDirectSend(ctx context.Context, protocolID string, payload []byte) error {
	if a.State() != StateConnected {
		return ErrSessionShuttingDown
	}
	now := time.Now().UTC()
	msg := wire.Message{
		Kind:       wire.KindDirectSendAndMetadata,
		ProtocolID: protocolID,
		Payload:    payload,
		Timestamps: wire.Timestamps{ApplicationSendTime: &now},
	}
	result := make(chan error, 1)
	a.enqueueOutbound(msg, result)
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendRPC sends protocolID/payload as an RPC request and blocks for the
// response, subject to ctx and cfg.NetworkRequestTimeout, and the
// max_concurrent_outbound_rpcs budget. Exactly one of (response, error)
// is meaningful to the caller, matching spec.md's invariant that every
// SendRPC call resolves to exactly one response or exactly one error.
func (a *Actor) SendRPC(ctx context.Context, protocolID string, payload []byte) ([]byte, error) {
	if a.State() != StateConnected {
		return nil, ErrSessionShuttingDown
	}

	if !a.outboundSem.TryAcquire(1) {
		return nil, ErrOutboundRPCCapacityExceeded
	}
	defer a.outboundSem.Release(1)

	requestID := a.nextRequestID.Add(1)
	resultCh := make(chan rpcResult, 1)
	a.rpcMu.Lock()
	a.rpcWaiters[requestID] = &rpcWaiter{resultCh: resultCh}
	a.rpcMu.Unlock()

	defer func() {
		a.rpcMu.Lock()
		delete(a.rpcWaiters, requestID)
		a.rpcMu.Unlock()
	}()

	now := time.Now().UTC()
	msg := wire.Message{
		Kind:       wire.KindRPCRequestAndMetadata,
		ProtocolID: protocolID,
		RequestID:  requestID,
		Payload:    payload,
		Timestamps: wire.Timestamps{ApplicationSendTime: &now},
	}

	sendResult := make(chan error, 1)
	a.enqueueOutbound(msg, sendResult)

	timeout := a.cfg.NetworkRequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-sendResult:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		a.Metrics.OutboundRPCTimeouts.Add(1)
		return nil, ErrRPCTimeout
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		a.Metrics.OutboundRPCTimeouts.Add(1)
		return nil, ErrRPCTimeout
	}
}

package session

import "errors"

// ErrRPCTimeout is surfaced to an RPC originator when no response arrives
// within the request's deadline. Never panics the session.
var ErrRPCTimeout = errors.New("session: rpc timed out")

// ErrInboundRPCCapacityExceeded names the max_concurrent_inbound_rpcs
// limit. The actor does not return it: when the limit is hit it sends
// the peer an Error frame with wire.ErrorResourceExhausted.
var ErrInboundRPCCapacityExceeded = errors.New("session: inbound rpc concurrency cap exceeded")

// ErrOutboundRPCCapacityExceeded is returned to a local caller of SendRPC
// when max_concurrent_outbound_rpcs is hit before the request deadline.
var ErrOutboundRPCCapacityExceeded = errors.New("session: outbound rpc concurrency cap exceeded")

// ErrUnknownProtocol is counted, not returned to any caller -- unknown
// inbound protocol ids are silently dropped per spec.md §4.1.
var ErrUnknownProtocol = errors.New("session: unknown protocol id")

// ErrSessionShuttingDown is returned by Send* calls made after the actor
// has started shutting down.
var ErrSessionShuttingDown = errors.New("session: shutting down")

// ErrPeerMissing is a protocol invariant violation: a caller referenced a
// peer that has no registered session. Fatal to the calling operation,
// never to other sessions.
var ErrPeerMissing = errors.New("session: no session registered for peer")

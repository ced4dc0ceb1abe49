// Package session implements the Peer Session Actor: one goroutine group
// per connected socket, multiplexing direct-send messages, RPC
// request/response pairs, and streamed large messages over a single
// framed transport. Grounded on the teacher's app/networking/listen.go
// (ReadFrom/WriteTo/HandleStream) generalized to the full duplex
// multiplexer spec.md §4.1 describes.
package session

import (
	"fmt"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
)

// ShutdownReason explains why a session entered ShuttingDown.
type ShutdownReason uint8

const (
	ConnectionClosed ShutdownReason = iota
	InputOutputError
	NetworkHealthCheckFailure
	RequestedByPeerManager
	StaleConnection
)

func (r ShutdownReason) String() string {
	switch r {
	case ConnectionClosed:
		return "connection_closed"
	case InputOutputError:
		return "io_error"
	case NetworkHealthCheckFailure:
		return "network_health_check_failure"
	case RequestedByPeerManager:
		return "requested_by_peer_manager"
	case StaleConnection:
		return "stale_connection"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// State is the actor's lifecycle state.
type State uint8

const (
	StateConnected State = iota
	StateShuttingDown
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "shutting_down"
}

// DisconnectNotification is the session-to-manager message: "this
// connection is gone, here's why." No back-pointer to the manager is
// needed; it owns the receiving end of this channel (spec.md §9).
type DisconnectNotification struct {
	Peer       peerid.PeerKey
	Connection metadata.ConnectionMetadata
	Reason     ShutdownReason
}

// DropRequest is the manager-to-session message: "disconnect, and here's
// the reason to report."
type DropRequest struct {
	Reason ShutdownReason
}

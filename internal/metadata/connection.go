// Package metadata holds the connection- and discovery-level state shared
// across the Connectivity Manager, Mempool Peer Prioritizer and
// Subscription Manager: who we're connected to, how we got there, and
// what we've learned about them.
package metadata

import (
	"fmt"
	"time"

	"github.com/harmony-bft/node/internal/peerid"
)

// ConnectionOrigin records which side initiated a connection.
type ConnectionOrigin uint8

const (
	Inbound ConnectionOrigin = iota
	Outbound
)

func (o ConnectionOrigin) String() string {
	if o == Inbound {
		return "inbound"
	}
	return "outbound"
}

// ConnectionRole is the declared role of the remote end of a connection.
// Distinct from peerid.NetworkID: a peer's network is where it lives, its
// role is what it claims to be to us.
type ConnectionRole uint8

const (
	RoleUnknown ConnectionRole = iota
	RoleValidator
	RoleVFN
	RolePublic
	RolePreferredUpstream
)

func (r ConnectionRole) String() string {
	switch r {
	case RoleValidator:
		return "validator"
	case RoleVFN:
		return "vfn"
	case RolePublic:
		return "public"
	case RolePreferredUpstream:
		return "preferred_upstream"
	default:
		return "unknown"
	}
}

// ConnectionID stably identifies one connection instance. A peer may be
// represented by several ConnectionIDs across reconnects.
type ConnectionID uint64

// ConnectionMetadata describes one live connection.
type ConnectionMetadata struct {
	Peer      peerid.PeerKey
	ID        ConnectionID
	Origin    ConnectionOrigin
	Role      ConnectionRole
	Protocols map[string]struct{}
}

func (c ConnectionMetadata) String() string {
	return fmt.Sprintf("conn(%d){%s origin=%s role=%s}", c.ID, c.Peer, c.Origin, c.Role)
}

// PeerMonitoringMetadata carries the optional, independently-present
// health signals the Mempool Peer Prioritizer and Connectivity Manager
// consume. Every field is independently Some/None; callers must not
// assume one implies another.
type PeerMonitoringMetadata struct {
	PingLatencySecs       *float64
	DistanceFromValidators *uint64
	ConnectedPeers         map[peerid.PeerKey]struct{}
}

// Clone returns a deep copy so snapshots can be handed out without
// aliasing the map.
func (m PeerMonitoringMetadata) Clone() PeerMonitoringMetadata {
	out := PeerMonitoringMetadata{}
	if m.PingLatencySecs != nil {
		v := *m.PingLatencySecs
		out.PingLatencySecs = &v
	}
	if m.DistanceFromValidators != nil {
		v := *m.DistanceFromValidators
		out.DistanceFromValidators = &v
	}
	if m.ConnectedPeers != nil {
		out.ConnectedPeers = make(map[peerid.PeerKey]struct{}, len(m.ConnectedPeers))
		for k := range m.ConnectedPeers {
			out.ConnectedPeers[k] = struct{}{}
		}
	}
	return out
}

// PeerEntry is one row of the connected-peer registry: the live
// connection plus whatever monitoring data we've accumulated for it.
type PeerEntry struct {
	Connection ConnectionMetadata
	Monitoring PeerMonitoringMetadata
	ConnectedAt time.Time
}

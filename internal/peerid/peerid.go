// Package peerid defines the node's peer identity types: the network a
// peer lives on and the opaque identifier within that network.
package peerid

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkID is the logical network a peer lives on. Networks are totally
// ordered Validator > VFN > Public, reflecting trust and routing priority.
type NetworkID uint8

const (
	Public NetworkID = iota
	VFN
	Validator
)

// String renders the network id for logs and the ops surface.
func (n NetworkID) String() string {
	switch n {
	case Validator:
		return "validator"
	case VFN:
		return "vfn"
	case Public:
		return "public"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(n))
	}
}

// Less reports whether n is strictly lower priority than other.
func (n NetworkID) Less(other NetworkID) bool {
	return n < other
}

// PeerID is an opaque 32-byte peer identifier, stable for the lifetime of
// a connection. Reuses go-ethereum's fixed-size hash type rather than
// inventing a parallel one.
type PeerID common.Hash

// ParsePeerID decodes a hex-encoded (with or without 0x prefix) peer id.
func ParsePeerID(s string) (PeerID, error) {
	if !common.IsHexAddress(s) && len(s) != 66 && len(s) != 64 {
		// common.Hash accepts any length and left-pads/truncates; only
		// the empty string is rejected here, any other input is passed
		// to HexToHash as is.
		if len(s) == 0 {
			return PeerID{}, fmt.Errorf("peerid: empty id")
		}
	}
	return PeerID(common.HexToHash(s)), nil
}

// String renders the peer id as a 0x-prefixed hex string.
func (p PeerID) String() string {
	return common.Hash(p).Hex()
}

// IsZero reports whether this is the zero peer id (never a valid peer).
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// Less provides a total order over peer ids for use as the tiebreaker
// beneath NetworkID in PeerKey comparisons.
func (p PeerID) Less(other PeerID) bool {
	return common.Hash(p).Big().Cmp(common.Hash(other).Big()) < 0
}

// PeerKey identifies a peer across the node: the pair (network, peer id).
// Hashable, totally ordered (network first, then peer id), immutable for
// the lifetime of a connection.
type PeerKey struct {
	Network NetworkID
	ID      PeerID
}

// String renders "network:0xhash" for logs.
func (k PeerKey) String() string {
	return fmt.Sprintf("%s:%s", k.Network, k.ID)
}

// Less orders keys network-first in ascending network id (Public before
// VFN before Validator), then by peer id for a stable total order.
func (k PeerKey) Less(other PeerKey) bool {
	if k.Network != other.Network {
		return k.Network.Less(other.Network)
	}
	return k.ID.Less(other.ID)
}

// Compare returns -1, 0 or 1 comparing k to other under Less's order.
func Compare(a, b PeerKey) int {
	if a == b {
		return 0
	}
	if a.Less(b) {
		return -1
	}
	return 1
}

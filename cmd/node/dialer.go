package main

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/harmony-bft/node/internal/session"
)

// libp2pDialer implements connectivity.Dialer over a live libp2p host.
// Grounded on the teacher's app/networking/peer.go ConnectToBootstraps
// (AddrInfoFromP2pAddr, host.Connect) generalized from "dial the fixed
// bootstrap list" to "dial whatever address the Connectivity Manager's
// dial loop hands me."
type libp2pDialer struct {
	host       host.Host
	protocolID protocol.ID
}

func newLibp2pDialer(h host.Host, protocolID string) *libp2pDialer {
	return &libp2pDialer{host: h, protocolID: protocol.ID(protocolID)}
}

// Dial connects to addr (a full p2p multiaddr, e.g.
// "/ip4/1.2.3.4/tcp/4001/p2p/Qm...") and opens the session protocol
// stream, returning it as a session.Conn -- network.Stream already
// satisfies that interface (io.ReadWriteCloser plus SetRead/WriteDeadline).
func (d *libp2pDialer) Dial(ctx context.Context, addr string) (session.Conn, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("dialer: parse multiaddr %q: %w", addr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("dialer: extract peer info from %q: %w", addr, err)
	}

	if err := d.host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("dialer: connect to %s: %w", info.ID, err)
	}

	stream, err := d.host.NewStream(ctx, info.ID, d.protocolID)
	if err != nil {
		return nil, fmt.Errorf("dialer: open stream to %s: %w", info.ID, err)
	}

	return streamConn{stream}, nil
}

// streamConn is network.Stream under the name session.Conn expects at
// its call sites; network.Stream already implements io.ReadWriteCloser
// plus SetReadDeadline/SetWriteDeadline, so no adaptation is needed.
type streamConn struct {
	network.Stream
}

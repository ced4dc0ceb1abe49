package main

import (
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/host"
)

// newHost constructs the libp2p host every Connectivity Manager and
// Peer Session Actor instance dials and accepts through. Grounded on
// the teacher's app/networking/peer.go, which built its host the same
// way at process start and handed it to SetUpPeerDiscovery.
//
// Security transport selection is out of scope (spec.md's non-goals
// exclude cryptographic primitives; see DESIGN.md's dropped-dependency
// entry for go-libp2p-noise/go-libp2p-tls), so the host is constructed
// with libp2p.NoSecurity: the assumption is that an external transport
// layer (a VPN mesh, a service-mesh sidecar, or a security transport
// wired in at deployment time) already authenticates the link.
func newHost(listenAddrs []string) (host.Host, error) {
	return libp2p.New(
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.NoSecurity,
	)
}

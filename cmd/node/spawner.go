package main

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sirupsen/logrus"

	"github.com/harmony-bft/node/internal/connectivity"
	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/session"
)

// libp2pSessionSpawner implements connectivity.SessionSpawner, turning a
// dialed or accepted network.Stream into a running Peer Session Actor.
// Grounded on the teacher's app/networking/listen.go HandleStream, which
// did the same "wrap stream, spin up reader/writer goroutines" step,
// generalized here to the full Actor lifecycle (RegisterSession,
// disconnect routing back to the Connectivity Manager).
type libp2pSessionSpawner struct {
	network peerid.NetworkID
	cfg     session.Config
	log     *logrus.Entry
	manager *connectivity.Manager

	mu      sync.Mutex
	actors  map[peerid.PeerKey]*session.Actor
	cancels map[peerid.PeerKey]context.CancelFunc
}

func newLibp2pSessionSpawner(net peerid.NetworkID, cfg session.Config, log *logrus.Entry) *libp2pSessionSpawner {
	return &libp2pSessionSpawner{
		network: net,
		cfg:     cfg,
		log:     log.WithField("component", "session_spawner"),
		actors:  make(map[peerid.PeerKey]*session.Actor),
		cancels: make(map[peerid.PeerKey]context.CancelFunc),
	}
}

// bindManager is called once, after both the Manager and spawner exist
// (they're mutually referential: the manager needs a spawner to dial with,
// the spawner needs the manager to register sessions and forward
// disconnects to).
func (s *libp2pSessionSpawner) bindManager(m *connectivity.Manager) {
	s.manager = m
}

// Spawn satisfies connectivity.SessionSpawner for outbound dials: the
// Manager's dial loop calls this immediately after a successful Dial.
func (s *libp2pSessionSpawner) Spawn(ctx context.Context, key peerid.PeerKey, connID metadata.ConnectionID, conn session.Conn, origin metadata.ConnectionOrigin, role metadata.ConnectionRole) error {
	s.spawnActor(key, connID, conn, origin, role)
	return nil
}

// handleInbound is the libp2p stream handler registered for our
// protocol; every accepted stream arrives here rather than through
// Spawn, since inbound connections are never routed through the dial
// loop (spec.md §4.2 treats dial and accept as distinct connection
// origins).
func (s *libp2pSessionSpawner) handleInbound(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	key := peerid.PeerKey{Network: s.network, ID: peerIDFromLibp2p(remote)}
	connID := metadata.ConnectionID(time.Now().UnixNano())
	s.spawnActor(key, connID, streamConn{stream}, metadata.Inbound, metadata.RoleUnknown)
}

func (s *libp2pSessionSpawner) spawnActor(key peerid.PeerKey, connID metadata.ConnectionID, conn session.Conn, origin metadata.ConnectionOrigin, role metadata.ConnectionRole) {
	dropCh := make(chan session.DropRequest, 1)
	disconnectCh := make(chan session.DisconnectNotification, 1)

	actor := session.New(key, connID, conn, s.cfg, dropCh, disconnectCh, s.log)

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.actors[key] = actor
	s.cancels[key] = cancel
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.RegisterSession(key, dropCh)
		s.manager.NotifyNewPeer(metadata.PeerEntry{
			Connection: metadata.ConnectionMetadata{Peer: key, ID: connID, Origin: origin, Role: role},
			ConnectedAt: time.Now().UTC(),
		})
	}

	go func() {
		if err := actor.Run(ctx); err != nil {
			s.log.WithError(err).WithField("peer", key).Debug("session actor exited")
		}
	}()

	go func() {
		select {
		case <-disconnectCh:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		delete(s.actors, key)
		delete(s.cancels, key)
		s.mu.Unlock()
		if s.manager != nil {
			s.manager.NotifyLostPeer(key)
		}
	}()
}

// actorFor returns the live Actor for key, if any -- used by the
// Transport/Client adapters to reach SendRPC/SendDirectSend.
func (s *libp2pSessionSpawner) actorFor(key peerid.PeerKey) (*session.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[key]
	return a, ok
}

// peerIDFromLibp2p maps a libp2p peer.ID (a variable-length multihash)
// onto our fixed 32-byte peerid.PeerID by hashing its raw bytes. The two
// identifier spaces don't otherwise correspond: libp2p's peer.ID is
// derived from a public key, ours is an opaque 32-byte handle shared
// with go-ethereum's tx-hash type (see internal/peerid's doc comment).
func peerIDFromLibp2p(id peer.ID) peerid.PeerID {
	sum := sha256.Sum256([]byte(id))
	return peerid.PeerID(sum)
}

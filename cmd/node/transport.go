package main

import (
	"context"
	"fmt"

	"github.com/harmony-bft/node/internal/peerid"
)

// sessionTransport implements subscription.Transport over the live
// session actors the spawner tracks, mirroring how the teacher's
// app/networking/listen.go sent control messages directly over an
// already-established stream.
type sessionTransport struct {
	spawner *libp2pSessionSpawner
}

func (t *sessionTransport) Subscribe(ctx context.Context, peer peerid.PeerKey) error {
	actor, ok := t.spawner.actorFor(peer)
	if !ok {
		return fmt.Errorf("transport: no live session for %s", peer)
	}
	_, err := actor.SendRPC(ctx, protoSubscribe, nil)
	return err
}

func (t *sessionTransport) Unsubscribe(ctx context.Context, peer peerid.PeerKey) {
	actor, ok := t.spawner.actorFor(peer)
	if !ok {
		return
	}
	// Fire-and-forget per subscription.Transport's contract -- the
	// manager has already decided to drop this peer and isn't waiting
	// on the remote's acknowledgement.
	_ = actor.SendDirectSend(ctx, protoUnsubscribe, nil)
}

package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/harmony-bft/node/internal/wire"
)

// framingTask is one half of the writer pipeline (spec.md §4.1): it reads
// from the outbound request queue, asks wire.PlanSend whether the
// message must be fragmented, and emits the resulting frame sequence
// onto framesOut for the wire task to write. Sole closer of framesOut.
func (a *Actor) framingTask(ctx context.Context) error {
	defer close(a.framesOut)

	sizes := wire.FrameSizes{MaxFrameSize: a.cfg.MaxFrameSize, MaxMessageSize: a.cfg.EffectiveChunkCap()}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-a.outboundQueue:
			if !ok {
				a.enterShuttingDown(RequestedByPeerManager)
				return nil
			}

			// Stamp the wire-send timestamp here, immediately before the
			// message crosses from application form into framed bytes --
			// the latest point at which the Message struct (rather than
			// opaque Frame bytes) is still available to mutate. wireTask
			// only ever sees already-encoded Frames, so it has no
			// Timestamps field left to stamp.
			if item.msg.Kind.IsMetadataVariant() {
				now := time.Now().UTC()
				item.msg.Timestamps.WireSendTime = &now
			}

			encoded, err := wire.Encode(item.msg)
			if err != nil {
				a.reportOutboundErr(item, err)
				continue
			}

			frames, err := wire.PlanSend(item.msg.Kind, encoded, sizes)
			if err != nil {
				a.reportOutboundErr(item, err)
				continue
			}

			if item.result != nil {
				select {
				case item.result <- nil:
				default:
				}
			}

			for _, f := range frames {
				select {
				case a.framesOut <- f:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (a *Actor) reportOutboundErr(item outboundItem, err error) {
	a.log.WithError(err).Warn("failed to frame outbound message")
	if item.result != nil {
		select {
		case item.result <- err:
		default:
		}
	}
}

// wireTask is the other half of the writer pipeline: it performs timed,
// size-bounded writes of each framed unit. Any write error is fatal to
// the session; it cancels ctx, which drops framingTask's channel in turn.
func (a *Actor) wireTask(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-a.framesOut:
			if !ok {
				return nil
			}
			if err := a.writeFrame(f); err != nil {
				a.enterShuttingDown(InputOutputError)
				return fmt.Errorf("session: write: %w", err)
			}
		}
	}
}

func (a *Actor) writeFrame(f wire.Frame) error {
	if a.cfg.WriteTimeout > 0 {
		if err := a.conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	raw := f.Encode()
	lenBuf := make([]byte, lengthPrefixBytes)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(raw)))
	if _, err := a.conn.Write(lenBuf); err != nil {
		return err
	}
	if _, err := a.conn.Write(raw); err != nil {
		return err
	}
	return nil
}

package radio

import (
	"context"

	"github.com/fieldnode/nodecore/internal/task"
)

// frameKindAck is the reserved first byte marking an ACK frame in this
// driver's simplified header encoding (frameInfo.parse below). A production
// 802.15.4 MAC header is considerably richer; this driver decodes only the
// fields the spec's filter and ACK rules need.
const frameKindAck byte = 0x02
const frameKindDataRequest byte = 0x04
const frameKindData byte = 0x01

// parseFrame extracts the addressing/flag fields this driver's filter and
// ACK logic need from the header. Byte layout (little-endian): [0] kind,
// [1] flags (bit0 requestsAck, bit1 suppressSeqNum, bit2 isBeacon),
// [2:4] destPAN, [4:6] destShort (0xFFFF == broadcast, 0xFFFE == "long
// address follows"), [6] sequence number.
func parseFrame(frame []byte) (frameInfo, bool) {
	if len(frame) < 7 {
		return frameInfo{}, false
	}
	flags := frame[1]
	destShort := uint16(frame[4]) | uint16(frame[5])<<8
	return frameInfo{
		isBeacon:          flags&0x04 != 0,
		isDataRequest:     frame[0] == frameKindDataRequest,
		requestsAck:       flags&0x01 != 0,
		suppressesSeqNum:  flags&0x02 != 0,
		destPAN:           uint16(frame[2]) | uint16(frame[3])<<8,
		destShort:         destShort,
		destIsBroadcast:   destShort == broadcastShortAddr,
		destIsLongAddress: destShort == 0xFFFE,
		sequenceNumber:    frame[6],
	}, true
}

// buildAck constructs the minimal ACK frame for a received frame's
// sequence number, with the frame-pending bit optionally set (spec §4.D:
// "the ACK's frame-pending bit is set").
func buildAck(seq uint8, framePending bool) []byte {
	flags := byte(0)
	if framePending {
		flags |= 0x08
	}
	return []byte{frameKindAck, flags, 0, 0, 0, 0, seq}
}

func (d *Driver) ackBarrier() *task.Barrier {
	d.ackOnce.mu.Lock()
	defer d.ackOnce.mu.Unlock()
	if d.ackOnce.barrier == nil {
		d.ackOnce.barrier = task.NewBarrier()
	}
	return d.ackOnce.barrier
}

// receiveLoop runs for the lifetime of the driver, pulling frames from the
// PHY and dispatching them per spec §4.D's receive path.
func (d *Driver) receiveLoop(ctx context.Context) {
	for {
		frame, err := d.phy.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		d.handleFrame(ctx, frame)
	}
}

func (d *Driver) handleFrame(ctx context.Context, frame []byte) {
	fi, ok := parseFrame(frame)
	if !ok {
		return
	}

	if frame[0] == frameKindAck {
		d.ackBarrier().ResumeAll(true)
		return
	}

	d.mu.Lock()
	contexts := append([]*Context(nil), d.contexts...)
	d.mu.Unlock()

	pending, handleAck := d.findPendingAwaitDataRequest(contexts)

	if fi.requestsAck && handleAck {
		framePending := fi.isDataRequest && pending != nil
		task.Spawn(ctx, d.logger, "radio.ack", func(ctx context.Context) {
			_ = sleepCtx(ctx, symbols(turnaroundSymbols))
			_ = d.phy.Transmit(ctx, buildAck(fi.sequenceNumber, framePending))
		})
	}

	if fi.isDataRequest && pending != nil {
		// The pending send is now eligible for immediate transmission; the
		// data-request frame itself is not delivered to any context (spec
		// §4.D). The queued sender goroutine picks it up via drainSend's
		// normal CSMA/CA path on its next iteration.
		return
	}

	pkt := Packet{Frame: frame}
	for i, c := range contexts {
		if c.accepts(fi) {
			pkt.ContextIdx = i
			c.rxBarrier.ResumeFirst(pkt)
		}
	}

	select {
	case d.rxQueue <- pkt:
	default:
		// queue full: drop oldest, then enqueue (spec §4.D bounded queue).
		select {
		case <-d.rxQueue:
		default:
		}
		select {
		case d.rxQueue <- pkt:
		default:
		}
	}
}

// findPendingAwaitDataRequest reports whether any context has HANDLE_ACK set
// and whether a pending outbound packet requesting AWAIT_DATA_REQUEST
// exists, per spec §4.D.
func (d *Driver) findPendingAwaitDataRequest(contexts []*Context) (*Packet, bool) {
	handleAck := false
	var pending *Packet
	for _, c := range contexts {
		if c.Filter&FilterHandleAck != 0 {
			handleAck = true
		}
		select {
		case req := <-c.sendQueue:
			if req.pkt.SendFlags&SendFlagAwaitDataRequest != 0 {
				p := req.pkt
				pending = &p
			}
			// put it back; this is a peek, not a pop.
			select {
			case c.sendQueue <- req:
			default:
			}
		default:
		}
	}
	return pending, handleAck
}

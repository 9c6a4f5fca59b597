package radio

import (
	"context"
	"time"

	"github.com/fieldnode/nodecore"
)

// Timing constants from spec §4.D, expressed as 802.15.4 symbol periods
// (16 microseconds per symbol at 250 kbit/s O-QPSK, the PHY this driver
// targets).
const symbolPeriod = 16 * time.Microsecond

const (
	unitBackoffSymbols    = 20
	turnaroundSymbols     = 12
	ackWaitSymbols        = 54
	shortIFSSymbols       = 12
	longIFSSymbols        = 40
	shortFrameMaxBytes    = 18
	maxBackoffExponent    = 5
	initialBackoffExp     = 3
	maxCSMABackoffs       = 3
	maxAckRetryCount      = 3
)

func symbols(n int) time.Duration { return time.Duration(n) * symbolPeriod }

// Send transmits pkt from the given context using CSMA/CA with optional
// ACK wait and retry, per spec §4.D. It returns the number of backoffs
// used on success (0 is a valid success count), or an error if the send
// could not complete (e.g. the driver was stopped or the context is
// unknown). A permanent CSMA/CA failure is reported as nodecore.ErrBusy and
// exhausted ACK retries as nodecore.ErrTimeout, both with zero result,
// matching the original's "failure reports result 0".
func (d *Driver) Send(ctx context.Context, ctxIdx int, pkt Packet) (int, error) {
	c := d.Context(ctxIdx)
	if c == nil {
		return 0, nodecore.ErrInvalidParameter
	}
	pkt.ContextIdx = ctxIdx

	req := sendRequest{pkt: pkt, result: make(chan sendResult, 1)}
	select {
	case c.sendQueue <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	go d.drainSend(ctx, c)

	select {
	case res := <-req.result:
		return res.backoffsUsed, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// drainSend pops one queued send and runs it to completion. Multiple
// concurrent calls are harmless: only one send is ever "in flight" on the
// PHY because csmaSend itself serializes via the driver's inflight lock.
func (d *Driver) drainSend(ctx context.Context, c *Context) {
	select {
	case req := <-c.sendQueue:
		backoffs, err := d.csmaSend(ctx, c, req.pkt)
		req.result <- sendResult{backoffsUsed: backoffs, err: err}
	default:
	}
}

// csmaSend runs the full CSMA/CA attempt loop plus ACK wait/retry for one
// packet, serialized against the PHY by the driver's inflight tracking. The
// ACK wait is only armed when both the packet requests one and the sending
// context has HANDLE_ACK set (spec §4.D); otherwise a successful transmit
// completes the send immediately.
func (d *Driver) csmaSend(ctx context.Context, c *Context, pkt Packet) (int, error) {
	sctx, cancel := context.WithCancel(ctx)
	d.inflight.mu.Lock()
	d.inflight.cancel = cancel
	d.inflight.mu.Unlock()
	defer cancel()

	ackRetries := 0
	for {
		backoffsUsed, ok, err := d.csmaAttemptLoop(sctx, pkt.Frame)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nodecore.ErrBusy
		}

		if pkt.SendFlags&SendFlagRequestAck == 0 || c.Filter&FilterHandleAck == 0 {
			return backoffsUsed, nil
		}

		acked, err := d.waitForAck(sctx)
		if err != nil {
			return 0, err
		}
		if acked {
			return backoffsUsed, nil
		}

		ackRetries++
		if ackRetries >= maxAckRetryCount {
			return 0, nodecore.ErrTimeout
		}
		// retry the full CSMA/CA attempt loop (spec: "up to maxAckRetryCount
		// full CSMA/CA attempts are retried").
	}
}

// csmaAttemptLoop performs up to maxCSMABackoffs CCA attempts with
// exponential backoff, transmitting pkt once CCA reports the channel clear.
// It returns the number of backoff waits consumed before success.
func (d *Driver) csmaAttemptLoop(ctx context.Context, frame []byte) (int, bool, error) {
	exponent := initialBackoffExp
	for attempt := 0; attempt < maxCSMABackoffs; attempt++ {
		slots, err := d.rng.IntN(ctx, 1<<uint(exponent))
		if err != nil {
			return 0, false, err
		}
		wait := symbols((slots + 1) * unitBackoffSymbols)
		if err := sleepCtx(ctx, wait); err != nil {
			return 0, false, err
		}

		clear, err := d.phy.CCA(ctx)
		if err != nil {
			return 0, false, err
		}
		if clear {
			if err := d.phy.Transmit(ctx, frame); err != nil {
				return 0, false, err
			}
			if err := sleepCtx(ctx, interFrameSpacing(len(frame))); err != nil {
				return 0, false, err
			}
			return attempt, true, nil
		}

		if exponent < maxBackoffExponent {
			exponent++
		}
	}
	return 0, false, nil
}

// waitForAck arms the ACK-wait timer and blocks for an ACK frame delivered
// by the receive path (see ackSignal in receive.go).
func (d *Driver) waitForAck(ctx context.Context) (bool, error) {
	actx, cancel := context.WithTimeout(ctx, symbols(ackWaitSymbols))
	defer cancel()

	v, err := d.ackBarrier().Wait(actx, nil)
	if err != nil {
		if actx.Err() != nil && ctx.Err() == nil {
			return false, nil // ACK-wait timeout only, not an outer cancellation
		}
		return false, err
	}
	acked, _ := v.(bool)
	return acked, nil
}

// interFrameSpacing returns the mandated inter-frame spacing: short for
// frames no longer than shortFrameMaxBytes, long otherwise (spec §4.D).
func interFrameSpacing(frameLen int) time.Duration {
	if frameLen <= shortFrameMaxBytes {
		return symbols(shortIFSSymbols)
	}
	return symbols(longIFSSymbols)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package radio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldnode/nodecore/internal/randsrc"
)

// fakePHY is a software PHY: CCA always reports clear, Transmit appends to a
// log and immediately loops back an ACK (if the frame requested one) onto
// the receive channel, letting tests drive the driver without hardware.
type fakePHY struct {
	mu       sync.Mutex
	sent     [][]byte
	incoming chan []byte
}

func newFakePHY() *fakePHY {
	return &fakePHY{incoming: make(chan []byte, 8)}
}

func (f *fakePHY) SetChannel(ctx context.Context, channel uint8) error { return nil }

func (f *fakePHY) CCA(ctx context.Context) (bool, error) { return true, nil }

func (f *fakePHY) Transmit(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), frame...))
	f.mu.Unlock()
	if len(frame) >= 7 && frame[1]&0x01 != 0 {
		ack := buildAck(frame[6], false)
		go func() { f.incoming <- ack }()
	}
	return nil
}

func (f *fakePHY) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.incoming:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func startedDriver(t *testing.T) (*Driver, *fakePHY, context.Context) {
	t.Helper()
	phy := newFakePHY()
	rng := randsrc.NewPool(32)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, rng.Start(ctx))

	d := NewDriver(phy, rng, 0x0102030405060708, 4)
	require.NoError(t, d.Start(ctx, 11))
	return d, phy, ctx
}

func dataFrame(destPAN, destShort uint16, seq uint8, requestAck bool) []byte {
	flags := byte(0)
	if requestAck {
		flags |= 0x01
	}
	return []byte{
		frameKindData, flags,
		byte(destPAN), byte(destPAN >> 8),
		byte(destShort), byte(destShort >> 8),
		seq,
	}
}

func TestContextAcceptsMatchingShortAddress(t *testing.T) {
	d, _, ctx := startedDriver(t)
	idx := d.AddContext(0x1234, 0x0042, FilterPassDestShort)

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	recvCh := make(chan Packet, 1)
	go func() {
		pkt, err := d.Receive(recvCtx, idx)
		if err == nil {
			recvCh <- pkt
		}
	}()

	time.Sleep(20 * time.Millisecond)
	d.handleFrame(ctx, dataFrame(0x1234, 0x0042, 7, false))

	select {
	case pkt := <-recvCh:
		require.Equal(t, idx, pkt.ContextIdx)
	case <-time.After(time.Second):
		t.Fatal("context never received matching frame")
	}
}

func TestContextRejectsNonMatchingPAN(t *testing.T) {
	d, _, ctx := startedDriver(t)
	idx := d.AddContext(0x1234, 0x0042, FilterPassDestShort)

	recvCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_, err := d.Receive(recvCtx, idx)
		require.Error(t, err)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	d.handleFrame(ctx, dataFrame(0x9999, 0x0042, 1, false))
	<-done
}

func TestSendWithoutAckSucceeds(t *testing.T) {
	d, phy, ctx := startedDriver(t)
	idx := d.AddContext(0x1234, 0x0042, FilterPassDestShort)

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := d.Send(sctx, idx, Packet{Frame: dataFrame(0x1234, 0x0042, 1, false)})
	require.NoError(t, err)
	require.Len(t, phy.sent, 1)
}

func TestSendWithAckSucceeds(t *testing.T) {
	d, _, ctx := startedDriver(t)
	idx := d.AddContext(0x1234, 0x0042, FilterPassDestShort|FilterHandleAck)

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := d.Send(sctx, idx, Packet{
		Frame:     dataFrame(0x1234, 0x0042, 9, true),
		SendFlags: SendFlagRequestAck,
	})
	require.NoError(t, err)
}

func TestSendRequestAckWithoutHandleAckDoesNotWait(t *testing.T) {
	d, phy, ctx := startedDriver(t)
	// FilterHandleAck is deliberately absent: the context never arms its ACK
	// wait, so a send that requests one must still succeed on the first
	// transmit instead of retrying maxAckRetryCount times waiting for an ACK
	// that this PHY is never told to produce.
	idx := d.AddContext(0x1234, 0x0042, FilterPassDestShort)

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := d.Send(sctx, idx, Packet{
		Frame:     dataFrame(0x1234, 0x0042, 9, false),
		SendFlags: SendFlagRequestAck,
	})
	require.NoError(t, err)
	require.Len(t, phy.sent, 1)
}

func TestSendUnknownContextFails(t *testing.T) {
	d, _, ctx := startedDriver(t)
	_, err := d.Send(ctx, 99, Packet{Frame: dataFrame(1, 2, 1, false)})
	require.Error(t, err)
}

package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopbackPHYEchoesTransmittedFrame(t *testing.T) {
	phy := NewLoopbackPHY()
	ctx := context.Background()

	require.NoError(t, phy.SetChannel(ctx, 11))
	clear, err := phy.CCA(ctx)
	require.NoError(t, err)
	require.True(t, clear)

	require.NoError(t, phy.Transmit(ctx, []byte{1, 2, 3}))

	frame, err := phy.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, frame)
}

func TestLoopbackPHYReceiveCanceled(t *testing.T) {
	phy := NewLoopbackPHY()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := phy.Receive(ctx)
	require.Error(t, err)
}

func TestLoopbackUARTObservesWrittenByte(t *testing.T) {
	uart := NewLoopbackUART()
	ctx := context.Background()

	observed, err := uart.WriteByte(ctx, 0x55)
	require.NoError(t, err)
	require.Equal(t, byte(0x55), observed)

	_, ok, err := uart.ReadByte(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoopbackTransportRoundTripsPDU(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, 2, []byte{9, 9}))

	connIdx, pdu, err := tr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, connIdx)
	require.Equal(t, []byte{9, 9}, pdu)
}

func TestLoopbackGPIORaiseDeliversEdge(t *testing.T) {
	gpio := NewLoopbackGPIO()
	gpio.Raise(3, true)

	require.True(t, gpio.Read(3))
	select {
	case line := <-gpio.Edges():
		require.Equal(t, 3, line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for edge")
	}
}

func TestLoopbackHardwareTransferEchoes(t *testing.T) {
	hw := NewLoopbackHardware()
	read := make([]byte, 3)
	require.NoError(t, hw.Transfer(context.Background(), []byte{1, 2, 3}, read))
	require.Equal(t, []byte{1, 2, 3}, read)
}

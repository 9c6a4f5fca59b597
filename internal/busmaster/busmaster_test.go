package busmaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeUART is a loopback UART: every WriteByte is "observed" as exactly
// what was written (no contending node), and ReadByte serves from a
// preloaded queue or times out.
type fakeUART struct {
	toRead   chan byte
	breaks   int
	written  []byte
}

func newFakeUART() *fakeUART {
	return &fakeUART{toRead: make(chan byte, 16)}
}

func (f *fakeUART) SendBreak(ctx context.Context) error {
	f.breaks++
	return nil
}

func (f *fakeUART) WriteByte(ctx context.Context, b byte) (byte, error) {
	f.written = append(f.written, b)
	return b, nil
}

func (f *fakeUART) ReadByte(ctx context.Context, timeout time.Duration) (byte, bool, error) {
	select {
	case b := <-f.toRead:
		return b, true, nil
	case <-time.After(timeout):
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func startedMaster(t *testing.T) (*Master, *fakeUART, context.Context) {
	t.Helper()
	uart := newFakeUART()
	m := NewMaster(uart, [16]byte{1, 2, 3})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	return m, uart, ctx
}

func TestEnumerateSendsZeroByteAndReturnsToIdle(t *testing.T) {
	m, uart, ctx := startedMaster(t)
	uart.toRead <- 0xAB // the surviving node's arbitrated response byte

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	payload, err := m.Enumerate(cctx)
	require.NoError(t, err)
	require.Contains(t, payload, byte(0xAB))
	require.Equal(t, StateIdle, m.State())
}

func TestCommissionAppendsMIC(t *testing.T) {
	m, uart, ctx := startedMaster(t)

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	networkKey := [16]byte{9, 9, 9}
	err := m.Commission(cctx, 0x05, networkKey)
	require.NoError(t, err)
	mic := computeMIC([16]byte{1, 2, 3}, append([]byte{0x05}, networkKey[:]...))
	require.Equal(t, mic, uart.written[len(uart.written)-micLength:])
}

func TestDecodeNodeMessageVerifiesMIC(t *testing.T) {
	key := [16]byte{7, 7, 7}
	body := append([]byte{0x80, 0x05}, []byte{1, 0, 0, 0}...)
	body = append(body, byte(MessagePlug))
	body = append(body, []byte("payload")...)
	mic := computeMIC(key, body)
	frame := append(body, mic...)

	msg, err := DecodeNodeMessage(frame, key)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), msg.Address)
	require.Equal(t, MessagePlug, msg.Kind)
	require.Equal(t, "payload", string(msg.Payload))
}

func TestDecodeNodeMessageRejectsBadMIC(t *testing.T) {
	key := [16]byte{7, 7, 7}
	frame := []byte{0x80, 0x05, 1, 0, 0, 0, byte(MessagePlug), 'x', 0, 0, 0, 0}
	_, err := DecodeNodeMessage(frame, key)
	require.Error(t, err)
}

func TestCRC8IsDeterministic(t *testing.T) {
	require.Equal(t, crc8([]byte("hello")), crc8([]byte("hello")))
	require.NotEqual(t, crc8([]byte("hello")), crc8([]byte("world")))
}

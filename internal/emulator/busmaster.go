package emulator

import (
	"context"
	"time"
)

// LoopbackUART is a software busmaster.UART standing in for a real
// open-collector serial line: every written byte is observed unchanged (no
// other node ever contends for the bus) and ReadByte always times out,
// since there is no peer node answering enumerate/commission/message
// frames in this development mode.
type LoopbackUART struct{}

// NewLoopbackUART returns a LoopbackUART.
func NewLoopbackUART() *LoopbackUART { return &LoopbackUART{} }

// SendBreak implements busmaster.UART.
func (u *LoopbackUART) SendBreak(ctx context.Context) error { return nil }

// WriteByte implements busmaster.UART; the written byte is always observed
// back unchanged, since nothing else drives the loopback line.
func (u *LoopbackUART) WriteByte(ctx context.Context, b byte) (byte, error) {
	return b, nil
}

// ReadByte implements busmaster.UART. It waits out the timeout and reports
// no byte, matching an idle bus with no attached field devices.
func (u *LoopbackUART) ReadByte(ctx context.Context, timeout time.Duration) (byte, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-t.C:
		return 0, false, nil
	}
}

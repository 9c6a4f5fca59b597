package emulator

import "context"

// LoopbackPHY is a software radio.PHY: every transmitted frame is delivered
// back to this same node's receiver, channel switches and CCA always
// succeed. It exists so internal/radio's CSMA driver and receive loop can be
// exercised end to end without a real 802.15.4 transceiver attached.
type LoopbackPHY struct {
	channel uint8
	rx      *frameQueue
}

// NewLoopbackPHY returns a LoopbackPHY with an empty receive queue.
func NewLoopbackPHY() *LoopbackPHY {
	return &LoopbackPHY{rx: newFrameQueue()}
}

// SetChannel implements radio.PHY.
func (p *LoopbackPHY) SetChannel(ctx context.Context, channel uint8) error {
	p.channel = channel
	return nil
}

// CCA implements radio.PHY; the loopback medium is never occupied by
// another transmitter.
func (p *LoopbackPHY) CCA(ctx context.Context) (bool, error) {
	return true, nil
}

// Transmit implements radio.PHY by immediately echoing frame back onto the
// receive queue, as if a peer had received and answered instantly.
func (p *LoopbackPHY) Transmit(ctx context.Context, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	p.rx.push(cp)
	return nil
}

// Receive implements radio.PHY.
func (p *LoopbackPHY) Receive(ctx context.Context) ([]byte, error) {
	return p.rx.pop(ctx)
}

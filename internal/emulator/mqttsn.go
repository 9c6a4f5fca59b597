package emulator

import (
	"context"
	"sync"
)

type taggedPDU struct {
	connIdx int
	pdu     []byte
}

// LoopbackTransport is a software mqttsn.Transport: every PDU sent to a
// connection index is queued back onto that same index's receive path, so
// the broker's PUBLISH/PUBACK and keep-alive machinery can be exercised
// without a real MQTT-SN gateway attached.
type LoopbackTransport struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []taggedPDU
}

// NewLoopbackTransport returns an empty LoopbackTransport.
func NewLoopbackTransport() *LoopbackTransport {
	t := &LoopbackTransport{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Send implements mqttsn.Transport.
func (t *LoopbackTransport) Send(ctx context.Context, connIdx int, pdu []byte) error {
	cp := make([]byte, len(pdu))
	copy(cp, pdu)
	t.mu.Lock()
	t.buf = append(t.buf, taggedPDU{connIdx: connIdx, pdu: cp})
	t.cond.Signal()
	t.mu.Unlock()
	return nil
}

// Receive implements mqttsn.Transport.
func (t *LoopbackTransport) Receive(ctx context.Context) (int, []byte, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.buf) == 0 {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		t.cond.Wait()
	}
	item := t.buf[0]
	t.buf = t.buf[1:]
	return item.connIdx, item.pdu, nil
}

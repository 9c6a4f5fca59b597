package mqttsn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldnode/nodecore/internal/message"
)

// fakeTransport is an in-memory loopback transport: Send appends to an
// outbox per connection, and a test can feed PDUs into the inbox to
// simulate remote traffic.
type fakeTransport struct {
	mu     sync.Mutex
	outbox map[int][][]byte
	inbox  chan inboundPDU
}

type inboundPDU struct {
	connIdx int
	pdu     []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{outbox: make(map[int][][]byte), inbox: make(chan inboundPDU, 16)}
}

func (f *fakeTransport) Send(ctx context.Context, connIdx int, pdu []byte) error {
	f.mu.Lock()
	f.outbox[connIdx] = append(f.outbox[connIdx], append([]byte(nil), pdu...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (int, []byte, error) {
	select {
	case in := <-f.inbox:
		return in.connIdx, in.pdu, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeTransport) lastSent(connIdx int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.outbox[connIdx]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func startedBroker(t *testing.T, capacity int) (*Broker, *fakeTransport, context.Context) {
	t.Helper()
	transport := newFakeTransport()
	b := NewBroker(transport, capacity)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, b.Start(ctx))
	return b, transport, ctx
}

func TestConnectSucceedsOnConnAckAccepted(t *testing.T) {
	b, transport, ctx := startedBroker(t, 2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		transport.inbox <- inboundPDU{connIdx: GatewayIndex, pdu: []byte{byte(pduConnAck), byte(connAckAccepted)}}
	}()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := b.Connect(cctx, "gw:1234", "node-1", true, "", "")
	require.NoError(t, err)
	require.True(t, b.connectionAt(GatewayIndex).isUp())
}

func TestPublishRoutesOnlyToBoundConnections(t *testing.T) {
	b, transport, ctx := startedBroker(t, 2)
	topicIdx := b.topics.getTopicIndex("room/light", true)

	client := b.connectionAt(1)
	client.setUp(true)
	client.setQoS(topicIdx, 0)

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := b.Publish(cctx, topicIdx, message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn}, false)
	require.NoError(t, err)

	sent := transport.lastSent(1)
	require.NotNil(t, sent)
	require.Equal(t, byte(pduPublish), sent[0])
}

func TestConnectRunsWillExchangeWhenGatewayRequestsIt(t *testing.T) {
	b, transport, ctx := startedBroker(t, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		transport.inbox <- inboundPDU{connIdx: GatewayIndex, pdu: []byte{byte(pduConnAck), byte(connAckAccepted)}}
		time.Sleep(10 * time.Millisecond)
		transport.inbox <- inboundPDU{connIdx: GatewayIndex, pdu: []byte{byte(pduWillTopicReq)}}
		time.Sleep(10 * time.Millisecond)
		transport.inbox <- inboundPDU{connIdx: GatewayIndex, pdu: []byte{byte(pduWillMsgReq)}}
	}()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := b.Connect(cctx, "gw:1234", "node-1", true, "node/status", "offline")
	require.NoError(t, err)

	gw := b.connectionAt(GatewayIndex)
	require.Equal(t, "node/status", gw.WillTopic)
	require.Equal(t, "offline", gw.WillMessage)

	require.Eventually(t, func() bool {
		sent := transport.lastSent(GatewayIndex)
		return len(sent) > 0 && pduKind(sent[0]) == pduWillMsg
	}, time.Second, 10*time.Millisecond)
}

func TestWillExchangeSkipsWhenGatewayNeverRequestsTopic(t *testing.T) {
	b, _, ctx := startedBroker(t, 1)
	gw := b.connectionAt(GatewayIndex)

	// A gateway not configured to want a will never sends WILLTOPICREQ; the
	// wait for it is bounded by the caller's context rather than the full
	// RECONNECT_TIME, so this exercises the same "no request, no error" path
	// without the real-world wait.
	wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := b.runWillExchange(wctx, gw, "node/status", "offline")
	require.NoError(t, err)
}

func TestRegisterTopicMismatchReturnsInvalidParameter(t *testing.T) {
	b, _, _ := startedBroker(t, 1)
	idx, err := b.RegisterTopic("room/light", true, 0)
	require.NoError(t, err)

	gw := b.connectionAt(GatewayIndex)
	gw.mu.Lock()
	gw.gwTopic[idx] = 7
	gw.mu.Unlock()

	_, err = b.RegisterTopic("room/light", false, 8)
	require.Error(t, err)
}

func TestLocalTopicDeliversDecodedPublish(t *testing.T) {
	b, transport, ctx := startedBroker(t, 1)
	topicIdx := b.topics.getTopicIndex("room/switch", true)
	topic := b.LocalTopic(topicIdx, message.TypeOnOff)
	sub := message.NewSubscriber(message.TypeOnOff)
	topic.Subscribe(sub)

	pdu := encodePublish(uint16(topicIdx+1), 0, "on", false, false)
	transport.inbox <- inboundPDU{connIdx: 0, pdu: pdu}

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := sub.Wait(sctx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)
}

func TestNewLocalSubscriptionReceivesRetainedPayload(t *testing.T) {
	b, _, ctx := startedBroker(t, 1)
	topicIdx := b.topics.getTopicIndex("room/switch", true)

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, b.Publish(cctx, topicIdx, message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn}, true))

	topic := b.LocalTopic(topicIdx, message.TypeOnOff)
	sub := message.NewSubscriber(message.TypeOnOff)
	topic.Subscribe(sub)

	got, err := sub.Wait(cctx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)
}

func TestIncomingSubscribeDeliversRetainedAfterSubAck(t *testing.T) {
	b, transport, _ := startedBroker(t, 2)
	topicIdx := b.topics.getTopicIndex("room/switch", true)
	b.topics.setRetained(topicIdx, []byte("on"))

	client := b.connectionAt(1)
	client.setUp(true)

	transport.inbox <- inboundPDU{connIdx: 1, pdu: append([]byte{byte(pduSubscribe), 0}, []byte("room/switch")...)}

	require.Eventually(t, func() bool {
		sent := transport.lastSent(1)
		return len(sent) > 0 && pduKind(sent[0]) == pduPublish
	}, time.Second, 10*time.Millisecond)
}

func TestIncomingPublishWithRetainUpdatesArenaAndLocalTopic(t *testing.T) {
	b, transport, ctx := startedBroker(t, 1)
	topicIdx := b.topics.getTopicIndex("room/switch", true)
	topic := b.LocalTopic(topicIdx, message.TypeOnOff)

	pdu := encodePublish(uint16(topicIdx+1), 0, "on", false, true)
	transport.inbox <- inboundPDU{connIdx: 0, pdu: pdu}

	require.Eventually(t, func() bool {
		_, ok := b.topics.retained(topicIdx)
		return ok
	}, time.Second, 10*time.Millisecond)

	sub := message.NewSubscriber(message.TypeOnOff)
	topic.Subscribe(sub)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := sub.Wait(sctx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)
}

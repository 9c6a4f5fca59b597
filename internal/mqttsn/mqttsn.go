// Package mqttsn implements the node's MQTT-SN broker: one upstream gateway
// connection plus up to N downstream client connections, a hashed topic
// table with a retained-message byte arena, and QoS-aware PUBLISH routing
// (spec §4.F).
package mqttsn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/task"
)

// Timing and retry constants from spec §4.F.
const (
	MaxRetry           = 3
	ReconnectTime      = 10 * time.Second
	KeepAliveTime      = 60 * time.Second
	RetransmissionTime = 2 * time.Second
)

// QoS values a topic entry can hold for a given connection; 3 marks "not
// subscribed/published on this connection" per spec §4.F ("per-topic QoS
// entries ... reset to 3" on a fresh gateway connection).
const QoSNone int8 = 3

// GatewayIndex is the fixed connection index of the single upstream
// gateway connection (spec §4.F: "exactly one upstream connection (index
// 0)").
const GatewayIndex = 0

// Transport is the length-prefixed PDU transport a Broker sends/receives
// PDUs over — one logical connection per index, including the gateway.
type Transport interface {
	// Send writes one length-prefixed PDU to the given connection index.
	Send(ctx context.Context, connIdx int, pdu []byte) error
	// Receive blocks for the next PDU arriving on any connection, returning
	// its source connection index.
	Receive(ctx context.Context) (connIdx int, pdu []byte, err error)
}

// Connection is one upstream or downstream MQTT-SN session.
type Connection struct {
	Index        int
	Endpoint     string
	ClientName   string
	CleanSession bool
	WillFlag     bool
	WillTopic    string
	WillMessage  string

	mu       sync.Mutex
	up       bool
	topicQoS map[int]int8 // topic table index -> QoS (QoSNone if unbound)
	gwTopic  map[int]uint16
	msgID    uint16
}

func newConnection(idx int) *Connection {
	return &Connection{Index: idx, topicQoS: make(map[int]int8), gwTopic: make(map[int]uint16)}
}

func (c *Connection) setUp(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = up
	if up {
		for k := range c.topicQoS {
			c.topicQoS[k] = QoSNone
		}
	}
}

func (c *Connection) isUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *Connection) qosFor(topicIdx int) int8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.topicQoS[topicIdx]; ok {
		return v
	}
	return QoSNone
}

func (c *Connection) setQoS(topicIdx int, qos int8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicQoS[topicIdx] = qos
}

// nextMsgID returns the next message id, skipping 0 (spec §4.F: "next
// modulo 2^16 skipping 0").
func (c *Connection) nextMsgID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	if c.msgID == 0 {
		c.msgID = 1
	}
	return c.msgID
}

// Broker is the node's MQTT-SN broker (spec §4.F).
type Broker struct {
	logger    *slog.Logger
	transport Transport

	connections []*Connection
	topics      *topicTable

	ackWaits *task.Barrier

	rrMu     sync.Mutex
	rrCursor int

	localMu     sync.Mutex
	localTopics map[int]*message.Topic
}

// NewBroker returns a Broker with capacity connections (including the
// gateway at index 0).
func NewBroker(transport Transport, capacity int) *Broker {
	b := &Broker{
		transport:   transport,
		topics:      newTopicTable(),
		ackWaits:    task.NewBarrier(),
		localTopics: make(map[int]*message.Topic),
	}
	for i := 0; i < capacity; i++ {
		b.connections = append(b.connections, newConnection(i))
	}
	return b
}

// Name implements nodecore.Module.
func (b *Broker) Name() string { return "mqttsn.broker" }

// Init implements nodecore.Module.
func (b *Broker) Init(node *nodecore.Node) error {
	b.logger = node.Logger.With("module", b.Name())
	return nil
}

// Start launches the receive-dispatch loop, implementing nodecore.Startable.
func (b *Broker) Start(ctx context.Context) error {
	task.Spawn(ctx, b.logger, "mqttsn.receive", b.receiveLoop)
	return nil
}

func (b *Broker) receiveLoop(ctx context.Context) {
	for {
		connIdx, pdu, err := b.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		b.handlePDU(ctx, connIdx, pdu)
	}
}

// connectionAt returns the connection at idx, or nil if out of range.
func (b *Broker) connectionAt(idx int) *Connection {
	if idx < 0 || idx >= len(b.connections) {
		return nil
	}
	return b.connections[idx]
}

// allocateClientSlot finds the first free (not-up) downstream connection
// slot for an incoming CONNECT from an unknown endpoint, or -1 if the
// broker is full (spec §4.F: "else REJECTED_CONGESTED").
func (b *Broker) allocateClientSlot(endpoint string) int {
	for i := GatewayIndex + 1; i < len(b.connections); i++ {
		c := b.connections[i]
		if !c.isUp() {
			return i
		}
		if c.Endpoint == endpoint {
			return i
		}
	}
	return -1
}

// MessageType is re-exported for callers that only import mqttsn.
type MessageType = message.Type

// LocalTopic returns the in-process pub/sub Topic for topicIdx, creating it
// bound to msgType on first use. Function plugs subscribe/publish on the
// returned Topic the same way they would against any other
// internal/message Topic; the broker additionally decodes incoming wire
// text into msgType before calling Publish on it. A topic created while the
// retained arena holds a payload for topicIdx starts with that payload
// retained.
func (b *Broker) LocalTopic(topicIdx int, msgType MessageType) *message.Topic {
	b.localMu.Lock()
	defer b.localMu.Unlock()
	if t, ok := b.localTopics[topicIdx]; ok {
		return t
	}
	t := message.NewTopic(msgType)
	if raw, ok := b.topics.retained(topicIdx); ok {
		if msg, ok := DecodeWireText(msgType, string(raw)); ok {
			t.SetRetained(msg)
		}
	}
	b.localTopics[topicIdx] = t
	return t
}

func (b *Broker) localTopic(topicIdx int) *message.Topic {
	b.localMu.Lock()
	defer b.localMu.Unlock()
	return b.localTopics[topicIdx]
}

// RegisterTopic implements spec §4.F's getTopicIndex(name, add) plus the
// Open-Question resolution for a topicId mismatch: binding a
// publisher/subscriber to name returns its topic table index, creating a
// new entry if add is true. If the caller supplies a non-zero expectedID
// that does not match the topic's already-assigned id, it returns
// INVALID_PARAMETER rather than asserting (spec §9).
func (b *Broker) RegisterTopic(name string, add bool, expectedID uint16) (int, error) {
	idx := b.topics.getTopicIndex(name, add)
	if idx == -1 {
		return -1, nodecore.NewError(nodecore.KindInvalidParameter, "unknown topic")
	}
	if expectedID != 0 {
		gw := b.connectionAt(GatewayIndex)
		gw.mu.Lock()
		existing, ok := gw.gwTopic[idx]
		gw.mu.Unlock()
		if ok && existing != expectedID {
			return -1, nodecore.ErrInvalidParameter
		}
	}
	return idx, nil
}

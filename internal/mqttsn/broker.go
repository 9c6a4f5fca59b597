package mqttsn

import (
	"context"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/task"
)

// pduKind is this package's simplified MQTT-SN message-type byte, enough to
// drive the CONNECT/CONNACK/REGISTER/SUBSCRIBE/PUBLISH/PUBACK/PINGREQ/
// PINGRESP dance spec §4.F describes.
type pduKind byte

const (
	pduConnect pduKind = iota
	pduConnAck
	pduRegister
	pduSubscribe
	pduSubAck
	pduPublish
	pduPubAck
	pduPingReq
	pduPingResp
	pduWillTopicReq
	pduWillTopic
	pduWillMsgReq
	pduWillMsg
)

// connAckCode mirrors the subset of MQTT-SN return codes spec §4.F names.
type connAckCode byte

const (
	connAckAccepted         connAckCode = 0
	connAckRejectedCongested connAckCode = 1
)

// Connect runs the gateway connection handshake (spec §4.F: "sends CONNECT
// up to MAX_RETRY+1 times with RECONNECT_TIME between attempts, expecting
// CONNACK/ACCEPTED"). On success every per-topic QoS entry for the gateway
// connection resets to 3, and the keep-alive pinger is started. If
// willTopic is non-empty the handshake also runs the will-topic/will-message
// exchange (spec §4.F.1) after CONNACK is accepted.
func (b *Broker) Connect(ctx context.Context, endpoint, name string, cleanSession bool, willTopic, willMessage string) error {
	willFlag := willTopic != ""

	gw := b.connectionAt(GatewayIndex)
	gw.Endpoint = endpoint
	gw.ClientName = name
	gw.CleanSession = cleanSession
	gw.WillFlag = willFlag

	for attempt := 0; attempt <= MaxRetry; attempt++ {
		if err := b.transport.Send(ctx, GatewayIndex, encodeConnect(name, cleanSession, willFlag)); err != nil {
			return err
		}

		actx, cancel := context.WithTimeout(ctx, ReconnectTime)
		accepted := b.awaitConnAck(actx, GatewayIndex)
		cancel()
		if accepted {
			gw.setUp(true)
			if willFlag {
				if err := b.runWillExchange(ctx, gw, willTopic, willMessage); err != nil {
					return err
				}
			}
			task.Spawn(ctx, b.logger, "mqttsn.keepalive", func(ctx context.Context) {
				b.runKeepAlive(ctx, gw)
			})
			return nil
		}
	}
	return nodecore.NewError(nodecore.KindTimeout, "gateway connect failed")
}

// runWillExchange implements spec §4.F.1: after CONNACK, wait for the
// gateway's WILLTOPICREQ and reply WILLTOPIC; a gateway that never asks for
// one is not an error (it may not be configured to want a will). Once
// WILLTOPIC has been sent, a missing WILLMSGREQ is a protocol error — the
// gateway committed to continuing the exchange by asking for the topic.
func (b *Broker) runWillExchange(ctx context.Context, gw *Connection, willTopic, willMessage string) error {
	gw.WillTopic = willTopic
	gw.WillMessage = willMessage

	topicReqCtx, cancel := context.WithTimeout(ctx, ReconnectTime)
	_, err := b.ackWaits.Wait(topicReqCtx, func(x any) bool {
		e, ok := x.(willTopicReqEvent)
		return ok && e.connIdx == gw.Index
	})
	cancel()
	if err != nil {
		return nil
	}

	if err := b.transport.Send(ctx, gw.Index, encodeWillTopic(willTopic)); err != nil {
		return err
	}

	msgReqCtx, cancel := context.WithTimeout(ctx, ReconnectTime)
	_, err = b.ackWaits.Wait(msgReqCtx, func(x any) bool {
		e, ok := x.(willMsgReqEvent)
		return ok && e.connIdx == gw.Index
	})
	cancel()
	if err != nil {
		return nodecore.NewError(nodecore.KindProtocolError, "gateway requested will topic but never requested will message")
	}

	return b.transport.Send(ctx, gw.Index, encodeWillMsg(willMessage))
}

type willTopicReqEvent struct{ connIdx int }
type willMsgReqEvent struct{ connIdx int }

func encodeWillTopic(topic string) []byte {
	return append([]byte{byte(pduWillTopic), 0}, []byte(topic)...)
}

func encodeWillMsg(msg string) []byte {
	return append([]byte{byte(pduWillMsg)}, []byte(msg)...)
}

func (b *Broker) awaitConnAck(ctx context.Context, connIdx int) bool {
	v, err := b.ackWaits.Wait(ctx, func(x any) bool {
		a, ok := x.(connAckEvent)
		return ok && a.connIdx == connIdx
	})
	if err != nil {
		return false
	}
	return v.(connAckEvent).code == connAckAccepted
}

type connAckEvent struct {
	connIdx int
	code    connAckCode
}

// runKeepAlive sends PINGREQ every KeepAliveTime and marks the connection
// down after MaxRetry consecutive missed PINGRESPs (spec §4.F).
func (b *Broker) runKeepAlive(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(KeepAliveTime)
	defer ticker.Stop()
	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.transport.Send(ctx, conn.Index, []byte{byte(pduPingReq)}); err != nil {
				missed++
			} else {
				pctx, cancel := context.WithTimeout(ctx, KeepAliveTime/2)
				_, err := b.ackWaits.Wait(pctx, func(x any) bool {
					e, ok := x.(pingRespEvent)
					return ok && e.connIdx == conn.Index
				})
				cancel()
				if err != nil {
					missed++
				} else {
					missed = 0
				}
			}
			if missed >= MaxRetry {
				conn.setUp(false)
				return
			}
		}
	}
}

type pingRespEvent struct{ connIdx int }

// handlePDU dispatches one received PDU, covering the subset of spec
// §4.F's connection lifecycle, topic registration and PUBLISH routing that
// is driven by incoming traffic rather than local publisher/subscriber
// activity (see Publish for the locally-initiated path).
func (b *Broker) handlePDU(ctx context.Context, connIdx int, pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	switch pduKind(pdu[0]) {
	case pduConnect:
		b.handleIncomingConnect(ctx, connIdx, pdu)
	case pduConnAck:
		code := connAckCode(0)
		if len(pdu) > 1 {
			code = connAckCode(pdu[1])
		}
		b.ackWaits.ResumeAll(connAckEvent{connIdx: connIdx, code: code})
	case pduPingResp:
		b.ackWaits.ResumeAll(pingRespEvent{connIdx: connIdx})
	case pduSubscribe:
		b.handleIncomingSubscribe(ctx, connIdx, pdu)
	case pduWillTopicReq:
		b.ackWaits.ResumeAll(willTopicReqEvent{connIdx: connIdx})
	case pduWillMsgReq:
		b.ackWaits.ResumeAll(willMsgReqEvent{connIdx: connIdx})
	case pduPublish:
		b.handleIncomingPublish(ctx, connIdx, pdu)
	case pduPubAck:
		b.handleIncomingPubAck(connIdx, pdu)
	}
}

// handleIncomingConnect implements spec §4.F's client-side connection
// lifecycle: "incoming CONNECT from an unknown endpoint allocates the
// first free connection slot (else REJECTED_CONGESTED) and replies
// CONNACK."
func (b *Broker) handleIncomingConnect(ctx context.Context, connIdx int, pdu []byte) {
	name, cleanSession := decodeConnect(pdu)
	slot := b.allocateClientSlot(name)
	if slot == -1 {
		_ = b.transport.Send(ctx, connIdx, []byte{byte(pduConnAck), byte(connAckRejectedCongested)})
		return
	}
	conn := b.connectionAt(slot)
	conn.ClientName = name
	conn.CleanSession = cleanSession
	conn.setUp(true)
	_ = b.transport.Send(ctx, slot, []byte{byte(pduConnAck), byte(connAckAccepted)})
}

// handleIncomingSubscribe implements the client-side half of spec §4.F's
// retained-delivery resolution: register the topic, bind the connection's
// QoS, reply SUBACK, then — if the topic currently holds a retained
// payload — immediately send it as a PUBLISH, exactly as a live publish to
// this topic would be routed.
func (b *Broker) handleIncomingSubscribe(ctx context.Context, connIdx int, pdu []byte) {
	qos, name, ok := decodeSubscribe(pdu)
	if !ok {
		return
	}
	conn := b.connectionAt(connIdx)
	if conn == nil {
		return
	}

	idx, err := b.RegisterTopic(name, true, 0)
	if err != nil {
		_ = b.transport.Send(ctx, connIdx, encodeSubAck(0, 0, connAckRejectedCongested))
		return
	}
	conn.setQoS(idx, qos)
	_ = b.transport.Send(ctx, connIdx, encodeSubAck(uint16(idx+1), qos, connAckAccepted))

	if raw, ok := b.topics.retained(idx); ok {
		_ = b.publishToConnection(ctx, conn, idx, string(raw), qos, true)
	}
}

func decodeSubscribe(pdu []byte) (qos int8, name string, ok bool) {
	if len(pdu) < 2 {
		return 0, "", false
	}
	return int8(pdu[1]), string(pdu[2:]), true
}

func encodeSubAck(topicID uint16, qos int8, code connAckCode) []byte {
	return []byte{byte(pduSubAck), byte(qos), byte(topicID), byte(topicID >> 8), byte(code)}
}

func encodeConnect(name string, cleanSession, willFlag bool) []byte {
	flags := byte(0)
	if cleanSession {
		flags |= 0x01
	}
	if willFlag {
		flags |= 0x02
	}
	return append([]byte{byte(pduConnect), flags}, []byte(name)...)
}

func decodeConnect(pdu []byte) (name string, cleanSession bool) {
	if len(pdu) < 2 {
		return "", false
	}
	return string(pdu[2:]), pdu[1]&0x01 != 0
}

// Publish sends msg's wire-text rendering as a PUBLISH to every connection
// whose per-topic QoS is bound on topicIdx, per spec §4.F's round-robin
// routing and ack-and-retry discipline. It is the entry point a dirty
// local publisher's wake triggers.
func (b *Broker) Publish(ctx context.Context, topicIdx int, msg message.Message, retain bool) error {
	text := EncodeWireText(msg)
	if retain {
		b.topics.setRetained(topicIdx, []byte(text))
		if topic := b.localTopic(topicIdx); topic != nil {
			if text == "" {
				topic.ClearRetained()
			} else {
				topic.SetRetained(msg)
			}
		}
	}

	b.rrMu.Lock()
	start := b.rrCursor
	b.rrCursor = (b.rrCursor + 1) % len(b.connections)
	b.rrMu.Unlock()

	var firstErr error
	for i := 0; i < len(b.connections); i++ {
		idx := (start + i) % len(b.connections)
		conn := b.connectionAt(idx)
		qos := conn.qosFor(topicIdx)
		if qos == QoSNone {
			continue
		}
		if err := b.publishToConnection(ctx, conn, topicIdx, text, qos, retain); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Broker) publishToConnection(ctx context.Context, conn *Connection, topicIdx int, text string, qos int8, retain bool) error {
	var msgID uint16
	if qos > 0 {
		msgID = conn.nextMsgID()
	}

	dup := false
	for attempt := 0; attempt <= MaxRetry; attempt++ {
		pdu := encodePublish(topicID(conn, topicIdx), msgID, text, dup, retain)
		if err := b.transport.Send(ctx, conn.Index, pdu); err != nil {
			return err
		}
		if qos <= 0 {
			return nil
		}

		actx, cancel := context.WithTimeout(ctx, RetransmissionTime)
		_, err := b.ackWaits.Wait(actx, func(x any) bool {
			e, ok := x.(pubAckEvent)
			return ok && e.connIdx == conn.Index && e.msgID == msgID
		})
		cancel()
		if err == nil {
			return nil
		}
		dup = true
	}
	return nodecore.NewError(nodecore.KindTimeout, "publish not acknowledged")
}

// topicID returns the destination-appropriate topic id: the gateway's
// assigned id for connection 0, or the local topic index plus one for
// downstream connections (spec §4.F).
func topicID(conn *Connection, topicIdx int) uint16 {
	if conn.Index == GatewayIndex {
		conn.mu.Lock()
		id := conn.gwTopic[topicIdx]
		conn.mu.Unlock()
		return id
	}
	return uint16(topicIdx + 1)
}

type pubAckEvent struct {
	connIdx int
	msgID   uint16
}

// publishFlagRetain is the RETAIN bit (bit 4) of the MQTT-SN PUBLISH flags
// byte (spec §4.F wire section).
const publishFlagRetain byte = 0x10

func encodePublish(topicID uint16, msgID uint16, text string, dup, retain bool) []byte {
	flags := byte(0)
	if dup {
		flags |= 0x80
	}
	if retain {
		flags |= publishFlagRetain
	}
	pdu := []byte{byte(pduPublish), flags, byte(topicID), byte(topicID >> 8), byte(msgID), byte(msgID >> 8)}
	return append(pdu, []byte(text)...)
}

func decodePublish(pdu []byte) (topicID uint16, msgID uint16, text string, retain bool, ok bool) {
	if len(pdu) < 6 {
		return 0, 0, "", false, false
	}
	topicID = uint16(pdu[2]) | uint16(pdu[3])<<8
	msgID = uint16(pdu[4]) | uint16(pdu[5])<<8
	retain = pdu[1]&publishFlagRetain != 0
	return topicID, msgID, string(pdu[6:]), retain, true
}

// handleIncomingPublish implements spec §4.F's receive side: ack if
// qos>=1 or the topic is unknown, deliver to every local subscriber bound
// to the topic (converting through the subscriber's message type), update
// the retained arena and the local topic's retained payload on a
// retain-true PUBLISH, and forward to every other connection subscribed to
// the topic.
func (b *Broker) handleIncomingPublish(ctx context.Context, connIdx int, pdu []byte) {
	topicIdx, msgID, text, retain, ok := decodePublish(pdu)
	if !ok {
		return
	}
	localIdx := int(topicIdx) - 1
	name := b.topics.nameOf(localIdx)
	unknown := name == ""

	qos := int8(1) // this simplified PDU always requests an ack-capable delivery
	if qos >= 1 || unknown {
		_ = b.transport.Send(ctx, connIdx, encodePubAck(topicIdx, msgID))
	}
	if unknown {
		return
	}

	if retain {
		b.topics.setRetained(localIdx, []byte(text))
	}

	if topic := b.localTopic(localIdx); topic != nil {
		if msg, ok := DecodeWireText(topic.Type, text); ok {
			topic.Publish(msg)
			if retain {
				if text == "" {
					topic.ClearRetained()
				} else {
					topic.SetRetained(msg)
				}
			}
		}
	}

	for i, conn := range b.connections {
		if i == connIdx {
			continue
		}
		if conn.qosFor(localIdx) == QoSNone {
			continue
		}
		_ = b.publishToConnection(ctx, conn, localIdx, text, conn.qosFor(localIdx), retain)
	}
}

func encodePubAck(topicID, msgID uint16) []byte {
	return []byte{byte(pduPubAck), byte(topicID), byte(topicID >> 8), byte(msgID), byte(msgID >> 8), 0}
}

func (b *Broker) handleIncomingPubAck(connIdx int, pdu []byte) {
	if len(pdu) < 6 {
		return
	}
	msgID := uint16(pdu[3]) | uint16(pdu[4])<<8
	b.ackWaits.ResumeFirst(pubAckEvent{connIdx: connIdx, msgID: msgID})
}

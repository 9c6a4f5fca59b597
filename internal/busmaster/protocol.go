package busmaster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/fieldnode/nodecore"
)

// micLength is the truncated-MAC length appended to commissioned/node
// messages (spec §4.E "authenticated by a MIC").
const micLength = 4

func computeMIC(key [16]byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(data)
	return mac.Sum(nil)[:micLength]
}

func verifyMIC(key [16]byte, data, mic []byte) bool {
	expected := computeMIC(key, data)
	return hmac.Equal(expected, mic)
}

// encodeLeadingZeroCount maps a 3-bit id chunk to the leading-zero-count
// arbitration byte spec §4.E describes: "each byte encodes 3 id bits as a
// count of leading zeros from 0..8." A chunk's numeric value v in [0,7]
// encodes as a byte with v leading zero bits, so a node whose chunk value
// is numerically larger writes more leading zeros, i.e. more dominant (0)
// bits; on the open-collector line those bits override the other nodes'
// recessive ones, so arbitration is won by the larger chunk value.
func encodeLeadingZeroCount(v uint8) byte {
	if v > 8 {
		v = 8
	}
	if v == 8 {
		return 0x00
	}
	return byte(0xFF >> v)
}

// Enumerate runs the enumerate operation: the master sends a 0 byte, and
// any node wishing to join contends by writing its device id encoded via
// encodeLeadingZeroCount, with arbitration picking the single surviving
// contender. The surviving node's raw response bytes are
// returned for the caller to decode into a device id.
func (m *Master) Enumerate(ctx context.Context) ([]byte, error) {
	res, err := m.enqueue(ctx, OpEnumerate, []byte{0x00})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// Commission assigns addr and networkKey to the node that survived a prior
// Enumerate, authenticated with the master's default key via a trailing
// MIC (spec §4.E).
func (m *Master) Commission(ctx context.Context, addr byte, networkKey [16]byte) error {
	payload := make([]byte, 0, 1+16+micLength)
	payload = append(payload, addr)
	payload = append(payload, networkKey[:]...)
	payload = append(payload, computeMIC(m.defaultKey, payload)...)

	res, err := m.enqueue(ctx, OpCommission, payload)
	if err != nil {
		return err
	}
	return res.Err
}

// encodedNodeAddress encodes a byte-long node address into the 2-byte form
// spec §4.E requires ("chosen so no valid message begins with 0"): the high
// byte is the address with its top bit forced set, guaranteeing a nonzero
// leading byte regardless of addr's value.
func encodedNodeAddress(addr byte) [2]byte {
	return [2]byte{addr | 0x80, addr}
}

// Message frame kinds a node sends after its encoded address and security
// counter (spec §4.E: "either an attribute read, attribute data, or a plug
// message").
type MessageKind uint8

const (
	MessageAttributeRead MessageKind = iota
	MessageAttributeData
	MessagePlug
)

// NodeMessage is one decoded message frame received from a commissioned
// node.
type NodeMessage struct {
	Address         byte
	SecurityCounter uint32
	Kind            MessageKind
	Payload         []byte
}

// DecodeNodeMessage parses a node message frame: 2-byte encoded address, a
// 4-byte security counter, a 1-byte kind, the kind-specific payload, and a
// trailing MIC verified against key.
func DecodeNodeMessage(frame []byte, key [16]byte) (NodeMessage, error) {
	const headerLen = 2 + 4 + 1
	if len(frame) < headerLen+micLength {
		return NodeMessage{}, nodecore.NewError(nodecore.KindProtocolError, "node message too short")
	}
	body := frame[:len(frame)-micLength]
	mic := frame[len(frame)-micLength:]
	if !verifyMIC(key, body, mic) {
		return NodeMessage{}, nodecore.NewError(nodecore.KindProtocolError, "node message MIC mismatch")
	}

	addr := frame[1]
	counter := binary.LittleEndian.Uint32(frame[2:6])
	kind := MessageKind(frame[6])
	payload := append([]byte(nil), frame[headerLen:len(frame)-micLength]...)

	return NodeMessage{
		Address:         addr,
		SecurityCounter: counter,
		Kind:            kind,
		Payload:         payload,
	}, nil
}

// Acknowledge sends back an 8-bit CRC of the received message, the bus
// acknowledgement operation of spec §4.E.
func (m *Master) Acknowledge(ctx context.Context, message []byte) error {
	crc := crc8(message)
	res, err := m.enqueue(ctx, OpAck, []byte{crc})
	if err != nil {
		return err
	}
	return res.Err
}

// crc8 computes the CRC-8/SMBUS checksum (poly 0x07) used to acknowledge a
// received message, per spec §4.E "an 8-bit CRC of the message is sent
// back by the receiver."
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Package busmaster implements the LIN-like field-bus master (spec §4.E):
// BREAK/SYNC framing, arbitration-based collision detection, and the
// enumerate/commission/message/ack protocol operations over a half-duplex
// UART.
package busmaster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// UART is the half-duplex serial transport the Master drives: a 19200 baud
// open-collector line where every written byte is also readable (so the
// master can detect arbitration loss), plus a break-generation primitive.
type UART interface {
	// SendBreak drives the line low for roughly a 13-bit period, then
	// releases it for a half-bit pause, per spec §4.E framing.
	SendBreak(ctx context.Context) error
	// WriteByte writes one byte and returns the byte actually observed on
	// the line afterward (which differs from the written byte if another
	// node is simultaneously driving a dominant bit where this master wrote
	// a recessive one).
	WriteByte(ctx context.Context, b byte) (observed byte, err error)
	// ReadByte blocks for up to the given character-time timeout for an
	// incoming byte; ok is false on timeout (spec's "character-time
	// timeout (>=20 bit times of silence)").
	ReadByte(ctx context.Context, timeout time.Duration) (b byte, ok bool, err error)
}

// State is the master's per-transaction state machine (spec §4.E: "IDLE ->
// BREAK -> PAUSE -> SYNC -> TRANSFER -> IDLE").
type State uint8

const (
	StateIdle State = iota
	StateBreak
	StatePause
	StateSync
	StateTransfer
)

const syncByte byte = 0x55
const baud = 19200
const bitTime = time.Second / baud
const charTimeout = 20 * bitTime

// OpKind identifies which of the four protocol operations a transaction
// performs (spec §4.E).
type OpKind uint8

const (
	OpEnumerate OpKind = iota
	OpCommission
	OpMessage
	OpAck
)

// Result is the outcome of one bus transaction.
type Result struct {
	Kind    OpKind
	Payload []byte
	Err     error
}

type pendingOp struct {
	kind    OpKind
	payload []byte
	result  chan Result
}

// Master drives one UART as the bus's single master, serializing sends and
// receives so only one of each may be pending at a time (spec §4.E).
type Master struct {
	logger *slog.Logger
	uart   UART

	mu    sync.Mutex
	state State

	sendQueue    chan pendingOp
	receiveQueue *task.Barrier

	defaultKey [16]byte
}

// NewMaster returns a Master driving uart, using defaultKey to authenticate
// commissioning of new nodes (spec §4.E "authenticated with the default key
// via a trailing MIC").
func NewMaster(uart UART, defaultKey [16]byte) *Master {
	return &Master{
		uart:         uart,
		state:        StateIdle,
		sendQueue:    make(chan pendingOp, 4),
		receiveQueue: task.NewBarrier(),
		defaultKey:   defaultKey,
	}
}

// Name implements nodecore.Module.
func (m *Master) Name() string { return "busmaster.master" }

// Init implements nodecore.Module.
func (m *Master) Init(node *nodecore.Node) error {
	m.logger = node.Logger.With("module", m.Name())
	return nil
}

// Start launches the master's idle-poll loop, implementing nodecore.Startable.
func (m *Master) Start(ctx context.Context) error {
	task.Spawn(ctx, m.logger, "busmaster.loop", m.runLoop)
	return nil
}

// State returns the master's current transaction state.
func (m *Master) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Master) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// runLoop repeatedly executes one bus transaction: generate BREAK/SYNC, run
// the queued operation (or, absent one, listen for a node-initiated low
// pulse requesting to be read), then return to IDLE.
func (m *Master) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.sendQueue:
			m.runTransaction(ctx, op)
		default:
			// spec §4.E: "In IDLE, any low pulse from a node triggers BREAK
			// (the node is requesting to be read)." Modeled here as a
			// passive receive-only transaction.
			m.runPassiveReceive(ctx)
		}
	}
}

func (m *Master) runTransaction(ctx context.Context, op pendingOp) {
	m.setState(StateBreak)
	if err := m.uart.SendBreak(ctx); err != nil {
		m.setState(StateIdle)
		op.result <- Result{Kind: op.kind, Err: err}
		return
	}

	m.setState(StatePause)
	_ = sleepCtx(ctx, bitTime/2)

	m.setState(StateSync)
	if _, err := m.writeArbitrated(ctx, syncByte); err != nil {
		m.setState(StateIdle)
		op.result <- Result{Kind: op.kind, Err: err}
		return
	}

	m.setState(StateTransfer)
	payload, err := m.transfer(ctx, op.payload)
	m.setState(StateIdle)
	op.result <- Result{Kind: op.kind, Payload: payload, Err: err}
}

// runPassiveReceive listens for a character within one character-timeout
// window without first sending anything, the idle-poll counterpart to
// runTransaction for node-initiated reads.
func (m *Master) runPassiveReceive(ctx context.Context) {
	b, ok, err := m.uart.ReadByte(ctx, charTimeout)
	if err != nil || !ok {
		return
	}
	m.setState(StateBreak)
	if err := m.uart.SendBreak(ctx); err != nil {
		m.setState(StateIdle)
		return
	}
	m.setState(StatePause)
	_ = sleepCtx(ctx, bitTime/2)
	m.setState(StateSync)
	if _, err := m.writeArbitrated(ctx, syncByte); err != nil {
		m.setState(StateIdle)
		return
	}
	m.setState(StateTransfer)
	payload, err := m.receiveUntilTimeout(ctx, []byte{b})
	m.setState(StateIdle)
	if err != nil {
		return
	}
	m.receiveQueue.ResumeFirst(payload)
}

// writeArbitrated writes b and reports whether this master lost arbitration
// (the observed byte differs from what was written), per spec §4.E: "if the
// read byte differs from the written byte ... the master assumes it lost
// arbitration, stops its TX, and continues receiving."
func (m *Master) writeArbitrated(ctx context.Context, b byte) (lost bool, err error) {
	observed, err := m.uart.WriteByte(ctx, b)
	if err != nil {
		return false, err
	}
	return observed != b, nil
}

// transfer writes out's bytes one at a time, arbitrating each; once
// arbitration is lost it stops writing and only reads until the
// character-time silence timeout ends the transaction, per spec §4.E.
func (m *Master) transfer(ctx context.Context, out []byte) ([]byte, error) {
	var received []byte
	lostArbitration := false

	for _, b := range out {
		if lostArbitration {
			break
		}
		lost, err := m.writeArbitrated(ctx, b)
		if err != nil {
			return nil, err
		}
		received = append(received, b)
		if lost {
			lostArbitration = true
		}
	}

	return m.receiveUntilTimeout(ctx, received)
}

// receiveUntilTimeout keeps reading bytes (appended to seed) until the
// character-time silence timeout elapses.
func (m *Master) receiveUntilTimeout(ctx context.Context, seed []byte) ([]byte, error) {
	buf := append([]byte(nil), seed...)
	for {
		b, ok, err := m.uart.ReadByte(ctx, charTimeout)
		if err != nil {
			return buf, err
		}
		if !ok {
			return buf, nil
		}
		buf = append(buf, b)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until the master completes a node-initiated passive
// transaction, or ctx is done.
func (m *Master) Receive(ctx context.Context) ([]byte, error) {
	v, err := m.receiveQueue.Wait(ctx, nil)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (m *Master) enqueue(ctx context.Context, kind OpKind, payload []byte) (Result, error) {
	op := pendingOp{kind: kind, payload: payload, result: make(chan Result, 1)}
	select {
	case m.sendQueue <- op:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-op.result:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

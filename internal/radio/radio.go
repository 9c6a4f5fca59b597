// Package radio implements the node's 802.15.4 driver: a shared PHY
// multiplexed into up to K virtual radio contexts, each with its own
// address filter and receive/send wait-lists (spec §4.D), layered over a
// PHY interface so the CSMA/CA and ACK logic can be tested without real
// radio hardware.
package radio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/randsrc"
	"github.com/fieldnode/nodecore/internal/task"
)

// PHY is the hardware boundary the Driver drives: channel selection, clear
// channel assessment, and raw frame transmit/receive. A real implementation
// talks to an 802.15.4 transceiver; tests use a software fake.
type PHY interface {
	SetChannel(ctx context.Context, channel uint8) error
	CCA(ctx context.Context) (clear bool, err error)
	Transmit(ctx context.Context, frame []byte) error
	// Receive blocks until one frame arrives with a good CRC, or ctx is done.
	Receive(ctx context.Context) (frame []byte, err error)
}

// State is the driver's top-level state (spec §4.D: "Disabled -> RxIdle <->
// Rx -> RxIdle -> TxIdle <-> Tx -> RxIdle").
type State uint8

const (
	StateDisabled State = iota
	StateRxIdle
	StateRx
	StateTxIdle
	StateTx
)

// Filter flags controlling which packets a context's receive wait-list
// accepts (spec §4.D receive filter rules).
type Filter uint16

const (
	FilterPassAll Filter = 1 << iota
	FilterPassTypeBeacon
	FilterPassDestShort
	FilterPassDestBroadcast
	FilterPassDestLong
	FilterHandleAck
)

// SendFlags controls per-send behavior.
type SendFlags uint8

const (
	SendFlagRequestAck SendFlags = 1 << iota
	SendFlagAwaitDataRequest
)

// frame addressing bits this driver cares about, decoded by a real MAC
// header parser in frameInfo (kept deliberately minimal: the spec only
// requires enough addressing detail to run the filter and ACK rules).
type frameInfo struct {
	isBeacon           bool
	isDataRequest      bool
	requestsAck        bool
	suppressesSeqNum   bool
	destPAN            uint16
	destShort          uint16
	destIsBroadcast    bool
	destIsLongAddress  bool
	sequenceNumber     uint8
}

// Packet is one 802.15.4 frame as seen above the PHY: raw bytes plus the
// per-send metadata the driver needs.
type Packet struct {
	Frame      []byte
	SendFlags  SendFlags
	ContextIdx int
}

const broadcastShortAddr uint16 = 0xFFFF

// Context is one virtual radio sharing the driver's PHY and long address
// (spec §4.D).
type Context struct {
	PANID      uint16
	ShortAddr  uint16
	Filter     Filter
	rxBarrier  *task.Barrier
	sendQueue  chan sendRequest
}

type sendRequest struct {
	pkt    Packet
	result chan sendResult
}

type sendResult struct {
	backoffsUsed int
	err          error
}

// newContext returns a Context ready to be registered with a Driver.
func newContext(pan, short uint16, filter Filter) *Context {
	return &Context{
		PANID:     pan,
		ShortAddr: short,
		Filter:    filter,
		rxBarrier: task.NewBarrier(),
		sendQueue: make(chan sendRequest, 8),
	}
}

// accepts implements the spec §4.D receive filter: a packet passes a
// context when PASS_ALL is set, or it is a beacon and PASS_TYPE_BEACON is
// set, or it targets the context's PAN with a matching short address (or
// the broadcast short address, or the long address with PASS_DEST_LONG).
// Frames with sequence-number suppression are always rejected.
func (c *Context) accepts(fi frameInfo) bool {
	if fi.suppressesSeqNum {
		return false
	}
	if fi.isBeacon && c.Filter&FilterPassTypeBeacon != 0 {
		return true
	}
	if c.Filter&FilterPassAll != 0 {
		return true
	}
	if fi.destPAN != c.PANID {
		return false
	}
	if fi.destIsBroadcast && c.Filter&FilterPassDestBroadcast != 0 {
		return true
	}
	if fi.destIsLongAddress && c.Filter&FilterPassDestLong != 0 {
		return true
	}
	if fi.destShort == c.ShortAddr && c.Filter&FilterPassDestShort != 0 {
		return true
	}
	return false
}

// Driver multiplexes up to K Context values onto one PHY, implementing the
// CSMA/CA send path, ACK scheduling, and receive-path dispatch of spec §4.D.
type Driver struct {
	logger *slog.Logger
	phy    PHY
	rng    *randsrc.Pool

	longAddr uint64

	mu       sync.Mutex
	state    State
	contexts []*Context

	rxQueue chan Packet // bounded; oldest dropped when full (spec §4.D)

	inflight struct {
		mu     sync.Mutex
		cancel context.CancelFunc
	}

	ackOnce struct {
		mu      sync.Mutex
		barrier *task.Barrier
	}
}

// NewDriver returns a Driver over phy, using rng for CSMA/CA backoff draws.
// longAddr is the single 64-bit long address shared by every context.
func NewDriver(phy PHY, rng *randsrc.Pool, longAddr uint64, rxQueueDepth int) *Driver {
	if rxQueueDepth <= 0 {
		rxQueueDepth = 16
	}
	return &Driver{
		phy:      phy,
		rng:      rng,
		longAddr: longAddr,
		state:    StateDisabled,
		rxQueue:  make(chan Packet, rxQueueDepth),
	}
}

// Name implements nodecore.Module.
func (d *Driver) Name() string { return "radio.driver" }

// Init implements nodecore.Module.
func (d *Driver) Init(node *nodecore.Node) error {
	d.logger = node.Logger.With("module", d.Name())
	return nil
}

// AddContext registers a new virtual radio context and returns its index.
func (d *Driver) AddContext(pan, short uint16, filter Filter) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contexts = append(d.contexts, newContext(pan, short, filter))
	return len(d.contexts) - 1
}

// Context returns the context at idx, or nil if out of range.
func (d *Driver) Context(idx int) *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.contexts) {
		return nil
	}
	return d.contexts[idx]
}

// Start enables the receive chain on the given channel, implementing spec
// §4.D's "start(channel) enables the receive chain".
func (d *Driver) Start(ctx context.Context, channel uint8) error {
	if err := d.phy.SetChannel(ctx, channel); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = StateRxIdle
	d.mu.Unlock()

	task.Spawn(ctx, d.logger, "radio.receive", d.receiveLoop)
	return nil
}

// Stop tears down the receive chain and fails all pending sends, per spec
// §4.D.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.state = StateDisabled
	contexts := append([]*Context(nil), d.contexts...)
	d.mu.Unlock()

	for _, c := range contexts {
	drain:
		for {
			select {
			case req := <-c.sendQueue:
				req.result <- sendResult{err: nodecore.NewError(nodecore.KindInvalidState, "radio stopped")}
			default:
				break drain
			}
		}
	}

	d.inflight.mu.Lock()
	if d.inflight.cancel != nil {
		d.inflight.cancel()
	}
	d.inflight.mu.Unlock()
}

// Receive blocks until a packet destined for ctxIdx's context has been
// queued, or ctx is done.
func (d *Driver) Receive(ctx context.Context, ctxIdx int) (Packet, error) {
	c := d.Context(ctxIdx)
	if c == nil {
		return Packet{}, nodecore.ErrInvalidParameter
	}
	v, err := c.rxBarrier.Wait(ctx, nil)
	if err != nil {
		return Packet{}, err
	}
	return v.(Packet), nil
}

// ReceiveAny drains the driver's bounded receive queue (spec §4.D), which
// holds every accepted frame regardless of which context's filter matched
// it — unlike Receive, which only sees frames routed to one context. It is
// the tap a promiscuous monitor or diagnostic logger reads from; ordinary
// contexts keep using Receive.
func (d *Driver) ReceiveAny(ctx context.Context) (Packet, error) {
	select {
	case pkt := <-d.rxQueue:
		return pkt, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

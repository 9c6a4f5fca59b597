package peripheral

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// MaxSPIChannels bounds the number of logical channels sharing one SPI
// peripheral (spec §4.I "SPI master": "multi-channel DMA queue").
const MaxSPIChannels = 8

// commandMarker is encoded in the write-count's sign bit, per spec §4.I:
// "an optional 'command' marker encoded in the write-count sign bit".
const commandMarker = -1 << 31

// Hardware is the single physical SPI peripheral a Master serialises access
// to: one transfer at a time, write then read.
type Hardware interface {
	Transfer(ctx context.Context, write, read []byte) error
}

// Channel is one logical SPI device: its chip-select assertion and, for
// devices that multiplex command/data on the same line, whether the pending
// transfer is a command.
type Channel struct {
	Index        int
	AssertCS     func(bool)
	AssertDataCmd func(isCommand bool) // nil if the channel has no D/C pin
}

// spiRequest is one queued transfer.
type spiRequest struct {
	channel    int
	write      []byte
	read       []byte
	isCommand  bool
	resultErr  chan error
}

// Master serialises DMA-style transfers from up to MaxSPIChannels logical
// channels over one physical Hardware peripheral via a FIFO wait-list (spec
// §4.I "SPI master"): each channel owns a CS pin and optional data/command
// pin; a transfer's write-count sign bit carries the command marker.
type Master struct {
	logger   *slog.Logger
	hw       Hardware
	channels map[int]*Channel

	mu    sync.Mutex
	queue []*spiRequest
	wake  chan struct{}
}

// NewMaster returns a Master driving hw.
func NewMaster(logger *slog.Logger, hw Hardware) *Master {
	if logger == nil {
		logger = slog.Default()
	}
	return &Master{
		logger:   logger,
		hw:       hw,
		channels: map[int]*Channel{},
		wake:     make(chan struct{}, 1),
	}
}

// Name implements nodecore.Module.
func (m *Master) Name() string { return "peripheral.spi" }

// Init implements nodecore.Module.
func (m *Master) Init(node *nodecore.Node) error { return nil }

// Start spawns the queue-drain loop.
func (m *Master) Start(ctx context.Context) error {
	task.Spawn(ctx, m.logger, "peripheral.spi.drain", m.drainLoop)
	return nil
}

// AddChannel registers ch, indexed by ch.Index, up to MaxSPIChannels.
func (m *Master) AddChannel(ch *Channel) error {
	if ch.Index < 0 || ch.Index >= MaxSPIChannels {
		return nodecore.NewError(nodecore.KindInvalidParameter, "channel index out of range")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Index] = ch
	return nil
}

// Transfer enqueues a write/read pair on channel, optionally marked as a
// command via the write-count sign bit convention, and blocks until it has
// been serviced.
func (m *Master) Transfer(ctx context.Context, channel int, write, read []byte, isCommand bool) error {
	if _, ok := m.channels[channel]; !ok {
		return nodecore.NewError(nodecore.KindInvalidParameter, "unknown SPI channel")
	}
	req := &spiRequest{channel: channel, write: write, read: read, isCommand: isCommand, resultErr: make(chan error, 1)}

	m.mu.Lock()
	m.queue = append(m.queue, req)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-req.resultErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Master) drainLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		var req *spiRequest
		if len(m.queue) > 0 {
			req = m.queue[0]
			m.queue = m.queue[1:]
		}
		m.mu.Unlock()

		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		m.service(ctx, req)
	}
}

func (m *Master) service(ctx context.Context, req *spiRequest) {
	ch := m.channels[req.channel]
	if ch.AssertDataCmd != nil {
		ch.AssertDataCmd(req.isCommand)
	}
	ch.AssertCS(true)
	err := m.hw.Transfer(ctx, req.write, req.read)
	ch.AssertCS(false)
	req.resultErr <- err
}

// writeCountWithCommandMarker packs a write length with the command-marker
// sign bit set, mirroring the firmware's sign-bit encoding in a single int32.
func writeCountWithCommandMarker(n int, isCommand bool) int32 {
	v := int32(n)
	if isCommand {
		v |= commandMarker
	}
	return v
}

package peripheral

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// VendorCommand identifies one of the firmware's USB vendor requests (spec
// §4.I "USB device": "vendor commands (reset, start, stop, set PAN/short/
// flags, enable receiver)"), used by the host emulator to drive a radio
// dongle over USB.
type VendorCommand uint8

const (
	VendorReset VendorCommand = iota
	VendorStart
	VendorStop
	VendorSetPAN
	VendorSetShortAddress
	VendorSetFlags
	VendorEnableReceiver
)

// ControlRequest is a decoded SETUP packet on endpoint 0.
type ControlRequest struct {
	Command VendorCommand
	Value   uint16
	Index   uint16
	Data    []byte
}

// VendorHandler processes one decoded control request and returns any data
// to return on the status stage (nil for an OUT-only or no-data request).
type VendorHandler func(ctx context.Context, req ControlRequest) ([]byte, error)

// endpointDirection is IN (device-to-host) or OUT (host-to-device).
type endpointDirection uint8

const (
	directionOut endpointDirection = iota
	directionIn
)

// endpoint is one non-control endpoint's DMA-to-buffer/buffer-to-USB state
// machine: a bounded queue of buffers awaiting transfer in the given
// direction.
type endpoint struct {
	direction endpointDirection
	queue     chan []byte
}

// Device is a minimal USB device: control-endpoint vendor-request dispatch
// plus a small set of bulk/interrupt endpoints moving fixed-size buffers
// to/from a host (spec §4.I "USB device").
type Device struct {
	logger  *slog.Logger
	handler VendorHandler

	mu        sync.Mutex
	endpoints map[int]*endpoint

	requests chan ControlRequest
}

// NewDevice returns a Device dispatching vendor control requests to handler.
func NewDevice(logger *slog.Logger, handler VendorHandler) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		logger:    logger,
		handler:   handler,
		endpoints: map[int]*endpoint{},
		requests:  make(chan ControlRequest, 8),
	}
}

// Name implements nodecore.Module.
func (d *Device) Name() string { return "peripheral.usb" }

// Init implements nodecore.Module.
func (d *Device) Init(node *nodecore.Node) error { return nil }

// Start spawns the control-request dispatch loop.
func (d *Device) Start(ctx context.Context) error {
	task.Spawn(ctx, d.logger, "peripheral.usb.control", d.controlLoop)
	return nil
}

func (d *Device) controlLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			if _, err := d.handler(ctx, req); err != nil {
				d.logger.Error("usb vendor request failed", "command", req.Command, "error", err)
			}
		}
	}
}

// Submit enqueues a decoded SETUP packet for dispatch, as the USB
// controller's interrupt handler would after parsing the wire bytes.
func (d *Device) Submit(ctx context.Context, req ControlRequest) error {
	select {
	case d.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nodecore.ErrBusy
	}
}

// AddEndpoint registers a non-control endpoint with the given direction and
// DMA buffer depth.
func (d *Device) AddEndpoint(index int, direction endpointDirection, depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[index] = &endpoint{direction: direction, queue: make(chan []byte, depth)}
}

// EnqueueIN hands buf to endpoint index's IN queue, to be clocked out to the
// host on its next poll.
func (d *Device) EnqueueIN(ctx context.Context, index int, buf []byte) error {
	d.mu.Lock()
	ep, ok := d.endpoints[index]
	d.mu.Unlock()
	if !ok || ep.direction != directionIn {
		return nodecore.ErrInvalidParameter
	}
	select {
	case ep.queue <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveOUT blocks until a buffer arrives on endpoint index's OUT queue.
func (d *Device) ReceiveOUT(ctx context.Context, index int) ([]byte, error) {
	d.mu.Lock()
	ep, ok := d.endpoints[index]
	d.mu.Unlock()
	if !ok || ep.direction != directionOut {
		return nil, nodecore.ErrInvalidParameter
	}
	select {
	case buf := <-ep.queue:
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

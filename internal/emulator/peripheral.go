package emulator

import (
	"context"
	"sync"
)

// LoopbackGPIO is a software peripheral.GPIO: all lines read low and no
// edges are ever produced, standing in for an unpopulated input header on
// a development host. Tests that need edges call Raise directly.
type LoopbackGPIO struct {
	mu     sync.Mutex
	levels [8]bool
	edges  chan int
}

// NewLoopbackGPIO returns a LoopbackGPIO with every line low.
func NewLoopbackGPIO() *LoopbackGPIO {
	return &LoopbackGPIO{edges: make(chan int, 8)}
}

// Read implements peripheral.GPIO.
func (g *LoopbackGPIO) Read(line int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if line < 0 || line >= len(g.levels) {
		return false
	}
	return g.levels[line]
}

// Edges implements peripheral.GPIO.
func (g *LoopbackGPIO) Edges() <-chan int { return g.edges }

// Raise flips line's level and reports the raw (pre-debounce) edge, the
// same way a real interrupt controller would notify peripheral.Input of a
// level change on the pin.
func (g *LoopbackGPIO) Raise(line int, level bool) {
	g.mu.Lock()
	if line >= 0 && line < len(g.levels) {
		g.levels[line] = level
	}
	g.mu.Unlock()
	g.edges <- line
}

// LoopbackHardware is a software peripheral.Hardware: every SPI transfer
// echoes the write buffer back as the read buffer, standing in for an
// unpopulated SPI device on a development host.
type LoopbackHardware struct{}

// NewLoopbackHardware returns a LoopbackHardware.
func NewLoopbackHardware() *LoopbackHardware { return &LoopbackHardware{} }

// Transfer implements peripheral.Hardware.
func (h *LoopbackHardware) Transfer(ctx context.Context, write, read []byte) error {
	n := len(write)
	if len(read) < n {
		n = len(read)
	}
	copy(read, write[:n])
	return nil
}

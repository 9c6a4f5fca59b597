// Package randsrc is a non-blocking pool of cryptographic-grade random
// bytes (spec §4.C). On the real node an ISR refills a ring buffer from the
// hardware RNG peripheral; here a background goroutine refills the ring
// buffer from crypto/rand, the host's equivalent "hardware" entropy source.
package randsrc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// DefaultCapacity is the ring buffer size in bytes.
const DefaultCapacity = 256

// Pool is a ring buffer of random bytes refilled by a background goroutine.
// Readers (u8/u16/u32/u64) never block on the OS entropy source directly;
// they block only on the buffer itself being momentarily empty, matching
// the spec's warning that tight loops of requests can stall on refill.
type Pool struct {
	logger *slog.Logger
	buf    chan byte
}

// NewPool returns a Pool with the given ring buffer capacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{buf: make(chan byte, capacity)}
}

// Name implements nodecore.Module.
func (p *Pool) Name() string { return "randsrc.pool" }

// Init implements nodecore.Module.
func (p *Pool) Init(node *nodecore.Node) error {
	p.logger = node.Logger.With("module", p.Name())
	return nil
}

// Start launches the refill goroutine, implementing nodecore.Startable.
func (p *Pool) Start(ctx context.Context) error {
	task.Spawn(ctx, p.logger, "randsrc.refill", func(ctx context.Context) {
		var chunk [32]byte
		for {
			if _, err := rand.Read(chunk[:]); err != nil {
				if p.logger != nil {
					p.logger.Error("entropy source read failed", "error", err)
				}
				continue
			}
			for _, b := range chunk {
				select {
				case p.buf <- b:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	return nil
}

// U8 pops one random byte, blocking only while the buffer is momentarily
// empty.
func (p *Pool) U8(ctx context.Context) (uint8, error) {
	select {
	case b := <-p.buf:
		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// U16 pops two random bytes as a little-endian uint16.
func (p *Pool) U16(ctx context.Context) (uint16, error) {
	var b [2]byte
	for i := range b {
		v, err := p.U8(ctx)
		if err != nil {
			return 0, err
		}
		b[i] = v
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// U32 pops four random bytes as a little-endian uint32.
func (p *Pool) U32(ctx context.Context) (uint32, error) {
	var b [4]byte
	for i := range b {
		v, err := p.U8(ctx)
		if err != nil {
			return 0, err
		}
		b[i] = v
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// U64 pops eight random bytes as a little-endian uint64.
func (p *Pool) U64(ctx context.Context) (uint64, error) {
	var b [8]byte
	for i := range b {
		v, err := p.U8(ctx)
		if err != nil {
			return 0, err
		}
		b[i] = v
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// IntN returns a uniform random integer in [0, n) using U32, for the CSMA/CA
// backoff draws in internal/radio (rand(1..2^e)).
func (p *Pool) IntN(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nodecore.NewError(nodecore.KindInvalidParameter, "n must be positive")
	}
	v, err := p.U32(ctx)
	if err != nil {
		return 0, err
	}
	return int(v % uint32(n)), nil
}

package peripheral

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// Edge identifies a GPIO transition direction.
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
)

// Transition reports one debounced, stable change on a line: its index, the
// direction, and the settled level.
type Transition struct {
	Line  int
	Edge  Edge
	Level bool
}

// GPIO is the hardware boundary Input debounces over: a raw, noisy read of
// every line's instantaneous level plus a channel of raw edge notifications
// (as a real interrupt handler would enqueue them).
type GPIO interface {
	Read(line int) bool
	Edges() <-chan int // line index, one per raw (possibly bouncing) edge
}

// Input debounces up to MaxInputLines edge-triggered GPIO lines (spec §4.I
// "Input"): on any edge, arm a ~50ms deadline; when it expires, sample the
// level, and if it differs from the last stable value, resume waiters
// matching the line's rising/falling bitmask with (index, value).
type Input struct {
	logger *slog.Logger
	gpio   GPIO

	mu      sync.Mutex
	stable  [MaxInputLines]bool
	barrier *task.Barrier
}

// NewInput returns an Input debouncing over gpio.
func NewInput(logger *slog.Logger, gpio GPIO) *Input {
	if logger == nil {
		logger = slog.Default()
	}
	return &Input{logger: logger, gpio: gpio, barrier: task.NewBarrier()}
}

// Name implements nodecore.Module.
func (i *Input) Name() string { return "peripheral.input" }

// Init implements nodecore.Module.
func (i *Input) Init(node *nodecore.Node) error { return nil }

// Start spawns the debounce loop, consuming raw edges from the GPIO backend.
func (i *Input) Start(ctx context.Context) error {
	task.Spawn(ctx, i.logger, "peripheral.input.debounce", i.debounceLoop)
	return nil
}

func (i *Input) debounceLoop(ctx context.Context) {
	edges := i.gpio.Edges()
	pending := map[int]*time.Timer{}
	fired := make(chan int, MaxInputLines)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-edges:
			if !ok {
				return
			}
			if line < 0 || line >= MaxInputLines {
				continue
			}
			if t, armed := pending[line]; armed {
				t.Stop()
			}
			l := line
			pending[l] = time.AfterFunc(DebounceWindow, func() {
				select {
				case fired <- l:
				case <-ctx.Done():
				}
			})
		case line := <-fired:
			delete(pending, line)
			i.settle(line)
		}
	}
}

func (i *Input) settle(line int) {
	level := i.gpio.Read(line)

	i.mu.Lock()
	changed := i.stable[line] != level
	if changed {
		i.stable[line] = level
	}
	i.mu.Unlock()

	if !changed {
		return
	}
	edge := EdgeFalling
	if level {
		edge = EdgeRising
	}
	i.barrier.ResumeAll(Transition{Line: line, Edge: edge, Level: level})
}

// Wait blocks until a stable transition occurs on any line in lineMask
// matching wantEdge (rising or falling), or ctx is done.
func (i *Input) Wait(ctx context.Context, lineMask uint8, wantEdge Edge) (Transition, error) {
	v, err := i.barrier.Wait(ctx, func(v any) bool {
		t := v.(Transition)
		return t.Edge == wantEdge && lineMask&(1<<uint(t.Line)) != 0
	})
	if err != nil {
		return Transition{}, err
	}
	return v.(Transition), nil
}

package function

import (
	"context"
	"time"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// winner values for waitMessageOrTimeout, the Go rendition of the
// original's `int s = co_await select(barrier.wait(...), Timer::sleep(...))`
// pattern used throughout FunctionInterface.cpp.
const (
	messageWinner = iota
	timeoutWinner
)

// waitMessageOrTimeout races a subscriber's next message against a
// SystemDuration sleep, reporting which woke first. If ctx is cancelled
// before either fires, it returns ctx.Err().
func waitMessageOrTimeout(ctx context.Context, sub *message.Subscriber, d sysclock.SystemDuration) (int, message.Message, error) {
	msgCh := make(chan message.Message, 1)
	errCh := make(chan error, 1)
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		m, err := sub.Wait(sctx)
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- m
	}()

	timer := time.NewTimer(d.Duration())
	defer timer.Stop()

	select {
	case m := <-msgCh:
		return messageWinner, m, nil
	case <-timer.C:
		return timeoutWinner, message.Message{}, nil
	case <-ctx.Done():
		return 0, message.Message{}, ctx.Err()
	case err := <-errCh:
		return 0, message.Message{}, err
	}
}

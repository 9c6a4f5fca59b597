package function

import (
	"context"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// SwitchSettings is a Switch function's persisted configuration: an
// optional auto-off timeout in 10ms units, matching
// FunctionInterface::SwitchData.timeout in the original (spec §4.H
// "Switch").
type SwitchSettings struct {
	Timeout10ms uint16
}

// onOff is the boolean command applier grounded on the original's OnOff
// helper struct: command 0/1 sets, 2 toggles, anything else is a no-op.
type onOff struct {
	state bool
}

func (o *onOff) apply(command message.Uint8Value) bool {
	switch command {
	case 0, 1:
		changed := o.state != (command == 1)
		o.state = command == 1
		return changed
	case 2:
		o.state = !o.state
		return true
	default:
		return false
	}
}

// newSwitchRunner implements spec §4.H "Switch": a boolean holder with
// optional timeout. On input in {0,1,2} apply set/clear/toggle. While on
// and timeout>0, a race between the next message and a sleep(timeout)
// exists; timeout publishes off. On any observable change, publish the new
// value on the binary output plug.
func newSwitchRunner(s SwitchSettings, plugs map[string]*Plug, clock *sysclock.Clock) func(ctx context.Context) {
	in := plugs["cmd"]
	out := plugs["out"]
	timeout := sysclock.Milliseconds(int(s.Timeout10ms) * 10)

	return func(ctx context.Context) {
		var state onOff
		sub := message.NewSubscriber(message.TypeOnOff)
		if in != nil {
			in.Topic.Subscribe(sub)
			defer in.Topic.Unsubscribe(sub)
		}

		for {
			var command message.Uint8Value

			if !state.state || timeout == 0 {
				m, err := sub.Wait(ctx)
				if err != nil {
					return
				}
				command = m.OnOff
			} else {
				winner, v, err := waitMessageOrTimeout(ctx, sub, timeout)
				if err != nil {
					return
				}
				if winner == timeoutWinner {
					command = 0
				} else {
					command = v.OnOff
				}
			}

			changed := state.apply(command)
			if changed && out != nil {
				val := message.Uint8Value(0)
				if state.state {
					val = 1
				}
				out.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: val})
			}
		}
	}
}

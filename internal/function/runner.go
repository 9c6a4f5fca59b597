package function

import (
	"context"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// buildRunner resolves rec's Kind and Settings into the goroutine body that
// implements its state machine, binding plugs by name.
func (r *Runtime) buildRunner(rec Record, plugs map[string]*Plug) (func(ctx context.Context), error) {
	switch rec.Kind {
	case KindSwitch:
		s, ok := rec.Settings.(SwitchSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "switch settings type mismatch")
		}
		return newSwitchRunner(s, plugs, r.clock), nil
	case KindLight:
		s, ok := rec.Settings.(LightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "light settings type mismatch")
		}
		return newLightRunner(s, plugs), nil
	case KindColorLight:
		s, ok := rec.Settings.(ColorLightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "color light settings type mismatch")
		}
		return newColorLightRunner(s, plugs), nil
	case KindAnimatedLight:
		s, ok := rec.Settings.(AnimatedLightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "animated light settings type mismatch")
		}
		return newAnimatedLightRunner(s, plugs), nil
	case KindTimedBlind:
		s, ok := rec.Settings.(TimedBlindSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "timed blind settings type mismatch")
		}
		return newTimedBlindRunner(s, plugs), nil
	case KindHeatingControl:
		s, ok := rec.Settings.(HeatingControlSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "heating control settings type mismatch")
		}
		return newHeatingControlRunner(s, plugs), nil
	default:
		return nil, nodecore.NewError(nodecore.KindInvalidParameter, "unknown function kind")
	}
}

// publishTransition is the Go rendition of the original's
// publishFloatTransition(plug, value, command, fadeDuration_in_100ms): it
// steps a float output from its current value to target over
// fadeSteps*100ms, publishing each intermediate value as an absolute Level
// message. fadeSteps<=1 snaps directly to target, matching the original's
// "interrupting a transition with a confirming message snaps to target
// using fade=1".
func publishTransition(ctx context.Context, topic *message.Topic, current, target float32, fadeSteps int) float32 {
	if fadeSteps <= 1 {
		topic.Publish(message.Message{Type: message.TypeLevel, Level: message.EncodeFloatWithFlag(target, false)})
		return target
	}

	step := (target - current) / float32(fadeSteps)
	value := current
	ticker := sysclock.Milliseconds(100).Duration()
	for i := 0; i < fadeSteps; i++ {
		select {
		case <-ctx.Done():
			return value
		case <-time.After(ticker):
		}
		value += step
		topic.Publish(message.Message{Type: message.TypeLevel, Level: message.EncodeFloatWithFlag(value, false)})
	}
	return target
}

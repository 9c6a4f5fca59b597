package function

import (
	"context"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// MaxAnimationSteps bounds an Animated Light's step list, per spec §4.H
// "up to 16 color steps".
const MaxAnimationSteps = 16

// AnimationStep is one stop in an Animated Light's sequence: a target
// brightness, the fade duration transitioning into it, and how long to hold
// once reached, all in 100ms units.
type AnimationStep struct {
	BrightnessPercent uint8
	Fade100ms         uint16
	Hold100ms         uint16
}

// AnimatedLightSettings is an Animated Light function's persisted
// configuration (spec §4.H "Animated Light"): on/off like Light, but while
// on it cycles through up to MaxAnimationSteps steps, transitioning and
// holding at each in turn until switched off.
type AnimatedLightSettings struct {
	Timeout10ms  uint16
	OffFade100ms uint16
	Steps        []AnimationStep
}

// newAnimatedLightRunner implements spec §4.H "Animated Light": while on, the
// brightness output steps through Settings.Steps in a loop (transition then
// hold), restarting from the first step each time the function turns on or
// a command arrives that leaves it on. An off command interrupts the
// animation and fades to zero over OffFade100ms. Timeout10ms switches the
// light off only while no animation is running (no steps or no brightness
// plug); a running animation is not ended by the timeout.
func newAnimatedLightRunner(s AnimatedLightSettings, plugs map[string]*Plug) func(ctx context.Context) {
	cmdIn := plugs["cmd"]
	onOffOut := plugs["out"]
	brightnessOut := plugs["brightness"]
	timeout := sysclock.Milliseconds(int(s.Timeout10ms) * 10)

	steps := s.Steps
	if len(steps) > MaxAnimationSteps {
		steps = steps[:MaxAnimationSteps]
	}

	return func(ctx context.Context) {
		sub := message.NewSubscriber(message.TypeOnOff)
		if cmdIn != nil {
			cmdIn.Topic.Subscribe(sub)
			defer cmdIn.Topic.Unsubscribe(sub)
		}

		var state onOff
		var brightness float32
		var pending *message.Message

		for {
			var command message.Uint8Value
			fromAnimation := false
			if pending != nil {
				command = pending.OnOff
				pending = nil
				fromAnimation = true
			} else if !state.state || timeout == 0 {
				m, err := sub.Wait(ctx)
				if err != nil {
					return
				}
				command = m.OnOff
			} else {
				winner, m, err := waitMessageOrTimeout(ctx, sub, timeout)
				if err != nil {
					return
				}
				if winner == timeoutWinner {
					command = 0
				} else {
					command = m.OnOff
				}
			}

			changed := state.apply(command)
			if !changed && !(fromAnimation && state.state) {
				continue
			}

			if changed && onOffOut != nil {
				val := message.Uint8Value(0)
				if state.state {
					val = 1
				}
				onOffOut.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: val})
			}

			if !state.state {
				if brightnessOut != nil {
					brightness = publishTransition(ctx, brightnessOut.Topic, brightness, 0, int(s.OffFade100ms))
				}
				continue
			}

			if brightnessOut == nil || len(steps) == 0 {
				continue
			}
			var interrupted bool
			brightness, pending, interrupted = runAnimation(ctx, brightnessOut.Topic, brightness, steps, sub)
			if !interrupted && pending == nil {
				// ctx cancelled mid-animation; stop the runner.
				return
			}
		}
	}
}

// runAnimation steps topic through steps in order, holding at each reached
// value for Hold100ms, and returns early with the interrupting command
// (pending) as soon as one arrives on sub. A nil, false result with no
// pending message means ctx was cancelled.
func runAnimation(ctx context.Context, topic *message.Topic, current float32, steps []AnimationStep, sub *message.Subscriber) (float32, *message.Message, bool) {
	for {
		for _, step := range steps {
			target := float32(step.BrightnessPercent) * 0.01
			current = publishTransition(ctx, topic, current, target, int(step.Fade100ms))
			if ctx.Err() != nil {
				return current, nil, false
			}

			hold := sysclock.Milliseconds(int(step.Hold100ms) * 100)
			winner, m, err := waitMessageOrTimeout(ctx, sub, hold)
			if err != nil {
				return current, nil, false
			}
			if winner == messageWinner {
				return current, &m, true
			}
		}
	}
}

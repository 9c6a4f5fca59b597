package function

import (
	"context"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// ColorSetting is one of a Light's N selectable settings: a brightness
// percentage and the fade duration (in 100ms units) used when transitioning
// into it, grounded on FunctionInterface::LightData::Setting.
type ColorSetting struct {
	BrightnessPercent uint8
	Fade100ms         uint16
}

// LightSettings is a Light function's persisted configuration (spec §4.H
// "Light"): an auto-off timeout, fade durations for an explicit off and for
// a timeout-triggered off, and N>=1 selectable settings.
type LightSettings struct {
	Timeout10ms  uint16
	OffFade100ms uint16
	TimeoutFade  uint16
	Settings     []ColorSetting
}

// newLightRunner implements spec §4.H "Light": fade times (offFade,
// timeoutFade, per-setting fade) and N>=1 color settings. The first setting
// is always used; a command's source index does not select a setting.
// Transitions use publishTransition, which runs each fade to completion
// before the next command is read, so a fade is never cut short; a
// confirming message (e.g. on->on) received after a multi-step fade
// republishes the target once with fade=1.
func newLightRunner(s LightSettings, plugs map[string]*Plug) func(ctx context.Context) {
	cmdIn := plugs["cmd"]
	onOffOut := plugs["out"]
	brightnessOut := plugs["brightness"]
	timeout := sysclock.Milliseconds(int(s.Timeout10ms) * 10)

	return func(ctx context.Context) {
		var state onOff
		var brightness float32
		settingIdx := 0
		inTransition := false

		sub := message.NewSubscriber(message.TypeOnOff)
		if cmdIn != nil {
			cmdIn.Topic.Subscribe(sub)
			defer cmdIn.Topic.Unsubscribe(sub)
		}

		for {
			var command message.Uint8Value
			timedOut := false
			if !state.state || timeout == 0 {
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
					timedOut = true
				} else {
					command = m.OnOff
				}
			}

			changed := state.apply(command)

			force := false
			if !changed {
				if inTransition {
					inTransition = false
					force = true
				} else {
					continue
				}
			}

			if len(s.Settings) == 0 {
				continue
			}
			setting := s.Settings[settingIdx%len(s.Settings)]

			var target float32
			var fadeSteps int
			if state.state {
				target = float32(setting.BrightnessPercent) * 0.01
				fadeSteps = int(setting.Fade100ms)
			} else {
				target = 0
				fadeSteps = int(s.OffFade100ms)
				if timedOut {
					fadeSteps = int(s.TimeoutFade)
				}
			}
			if force {
				fadeSteps = 1
			}

			if changed && onOffOut != nil {
				val := message.Uint8Value(0)
				if state.state {
					val = 1
				}
				onOffOut.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: val})
			}

			if brightnessOut != nil {
				inTransition = fadeSteps > 1
				brightness = publishTransition(ctx, brightnessOut.Topic, brightness, target, fadeSteps)
			}
		}
	}
}

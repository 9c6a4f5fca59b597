package function

import (
	"context"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// ColorSettingHS is one of a Color Light's N selectable settings: a
// brightness percentage, a hue/saturation pair converted to CIE1931 xy at
// publish time, and the fade duration (in 100ms units) used transitioning
// into it.
type ColorSettingHS struct {
	BrightnessPercent uint8
	HueDegrees        float32
	Saturation        float32
	Fade100ms         uint16
}

// ColorLightSettings is a Color Light function's persisted configuration
// (spec §4.H "Color Light"): Light plus a hue/saturation pair per setting,
// converted to a chromaticity (x, y) when published.
type ColorLightSettings struct {
	Timeout10ms  uint16
	OffFade100ms uint16
	TimeoutFade  uint16
	Settings     []ColorSettingHS
}

// newColorLightRunner implements spec §4.H "Color Light": as Light, but each
// setting additionally carries a hue/saturation pair converted to CIE1931 xy
// chromaticity and published on the "x"/"y" plugs each time the light is
// switched on (or a confirming command republishes the target), before the
// brightness transition starts. Nothing is published on "x"/"y" when the
// light switches off. As in Light, the first setting is always used.
func newColorLightRunner(s ColorLightSettings, plugs map[string]*Plug) func(ctx context.Context) {
	cmdIn := plugs["cmd"]
	onOffOut := plugs["out"]
	brightnessOut := plugs["brightness"]
	xOut := plugs["x"]
	yOut := plugs["y"]
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

			if state.state {
				x, y := hueToCie(setting.HueDegrees, setting.Saturation)
				if xOut != nil {
					xOut.Topic.Publish(message.Message{Type: message.TypeLevel, Level: message.EncodeFloatWithFlag(x, false)})
				}
				if yOut != nil {
					yOut.Topic.Publish(message.Message{Type: message.TypeLevel, Level: message.EncodeFloatWithFlag(y, false)})
				}
			}

			if brightnessOut != nil {
				inTransition = fadeSteps > 1
				brightness = publishTransition(ctx, brightnessOut.Topic, brightness, target, fadeSteps)
			}
		}
	}
}

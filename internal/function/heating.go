package function

import (
	"context"

	"github.com/fieldnode/nodecore/internal/message"
)

// heatingHysteresisKelvin is the two-position controller's dead band, per
// spec §4.H "Heating Control": "±0.2 K hysteresis".
const heatingHysteresisKelvin = 0.2

// nightSetbackKelvin lowers the effective setpoint while night mode is on.
// The original's HeatingControl coroutine tracks a "night" on/off value
// (FunctionInterface.cpp) but never folds it into the valve decision; a
// living setback is the idiomatic thermostat meaning of a night plug, so it
// is applied here as a supplemented resolution rather than carried as dead
// state like the original does.
const nightSetbackKelvin = 2.0

// HeatingControlSettings is a Heating Control function's persisted
// configuration (spec §4.H "Heating Control"): a default setpoint in
// Kelvin, used until a message arrives on the "setpoint" plug; the
// window-open and summer-mode overrides that force the valve closed arrive
// on plugs, not through these settings. NightStartCron/NightEndCron are optional 6-field
// cron expressions (parsed by sysclock.Calendar); when both are set,
// Runtime.start drives the "night" plug on that schedule instead of requiring
// an external publisher.
type HeatingControlSettings struct {
	SetpointKelvin float32
	NightStartCron string
	NightEndCron   string
}

// newHeatingControlRunner implements spec §4.H "Heating Control": a
// two-position controller comparing "measured" against the setpoint (from
// "setpoint", defaulting to the persisted settings value) with ±0.2K
// hysteresis, publishing the valve's on/off state on "valve" whenever it
// changes (the valve starts closed, so nothing is published until the
// first opening). The valve is
// forced closed whenever the function is off, a window is reported open on
// "window", or summer mode is active on "summer"; night mode lowers the
// effective setpoint by nightSetbackKelvin.
func newHeatingControlRunner(s HeatingControlSettings, plugs map[string]*Plug) func(ctx context.Context) {
	measuredIn := plugs["measured"]
	windowIn := plugs["window"]
	summerIn := plugs["summer"]
	onOffIn := plugs["on_off"]
	nightIn := plugs["night"]
	setpointIn := plugs["setpoint"]
	valveOut := plugs["valve"]

	return func(ctx context.Context) {
		measuredSub := message.NewSubscriber(message.TypeTemperature)
		if measuredIn != nil {
			measuredIn.Topic.Subscribe(measuredSub)
			defer measuredIn.Topic.Unsubscribe(measuredSub)
		}
		windowSub := message.NewSubscriber(message.TypeOnOff)
		if windowIn != nil {
			windowIn.Topic.Subscribe(windowSub)
			defer windowIn.Topic.Unsubscribe(windowSub)
		}
		summerSub := message.NewSubscriber(message.TypeOnOff)
		if summerIn != nil {
			summerIn.Topic.Subscribe(summerSub)
			defer summerIn.Topic.Unsubscribe(summerSub)
		}
		cmdSub := message.NewSubscriber(message.TypeOnOff)
		if onOffIn != nil {
			onOffIn.Topic.Subscribe(cmdSub)
			defer onOffIn.Topic.Unsubscribe(cmdSub)
		}
		nightSub := message.NewSubscriber(message.TypeOnOff)
		if nightIn != nil {
			nightIn.Topic.Subscribe(nightSub)
			defer nightIn.Topic.Unsubscribe(nightSub)
		}
		setpointSub := message.NewSubscriber(message.TypeTemperature)
		if setpointIn != nil {
			setpointIn.Topic.Subscribe(setpointSub)
			defer setpointIn.Topic.Unsubscribe(setpointSub)
		}

		events := fanIn(ctx, measuredSub, windowSub, summerSub, cmdSub, nightSub, setpointSub)

		enabled := true
		windowOpen := false
		summer := false
		night := false
		valveOpen := false
		setpoint := s.SetpointKelvin
		published := false

		publish := func() {
			closed := !enabled || windowOpen || summer
			want := !closed && valveOpen
			if want == published {
				return
			}
			published = want
			if valveOut != nil {
				val := message.Uint8Value(0)
				if want {
					val = 1
				}
				valveOut.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: val})
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				effectiveSetpoint := setpoint
				if night {
					effectiveSetpoint -= nightSetbackKelvin
				}
				switch ev.from {
				case 0:
					kelvin := ev.msg.Temperature.Value
					if kelvin <= effectiveSetpoint-heatingHysteresisKelvin {
						valveOpen = true
					} else if kelvin >= effectiveSetpoint+heatingHysteresisKelvin {
						valveOpen = false
					}
				case 1:
					windowOpen = ev.msg.OnOff == message.OnOffOn
				case 2:
					summer = ev.msg.OnOff == message.OnOffOn
				case 3:
					enabled = ev.msg.OnOff == message.OnOffOn
				case 4:
					night = ev.msg.OnOff == message.OnOffOn
				case 5:
					setpoint = ev.msg.Temperature.Value
				}
				publish()
			}
		}
	}
}

// fanInEvent tags a message with the index of the subscriber it arrived on,
// shared by any function kind that must react to whichever of several
// independent input plugs changes first (Heating Control's six inputs,
// Timed Blind's four).
type fanInEvent struct {
	from int
	msg  message.Message
}

// fanIn merges each subscriber's message stream into a single channel
// tagged with the subscriber's index, since select only works over a fixed
// set of channels.
func fanIn(ctx context.Context, subs ...*message.Subscriber) <-chan fanInEvent {
	out := make(chan fanInEvent)
	for i, sub := range subs {
		go func(i int, sub *message.Subscriber) {
			for {
				m, err := sub.Wait(ctx)
				if err != nil {
					return
				}
				select {
				case out <- fanInEvent{from: i, msg: m}:
				case <-ctx.Done():
					return
				}
			}
		}(i, sub)
	}
	return out
}

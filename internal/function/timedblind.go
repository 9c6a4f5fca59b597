package function

import (
	"context"
	"time"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
)

// positionReportInterval is the minimum cadence at which a moving
// TimedBlind reports position, per spec §4.H "Timed Blind": "position
// reporting at least every 200ms while moving".
const positionReportInterval = 200 * time.Millisecond

// blindDirection is the motor's current motion, or blindStopped.
type blindDirection int8

const (
	blindStopped blindDirection = 0
	blindUp      blindDirection = 1
	blindDown    blindDirection = -1
)

// TimedBlindSettings is a Timed Blind function's persisted configuration
// (spec §4.H "Timed Blind"): full-travel time (0 to fully closed) and the
// hold duration a button press must continue past to be promoted from a
// nudge (stop at release) into continuous movement (run to the end).
type TimedBlindSettings struct {
	FullTravel100ms  uint16
	HoldPromote100ms uint16
	NudgeStep100ms   uint16
}

// newTimedBlindRunner implements spec §4.H "Timed Blind" and its interface
// table's four in-plugs/two out-plugs (grounded on the original's
// TIMED_BLIND coroutine, FunctionInterface.cpp):
//
//   - "button3" (3-state button, TypeUpDown): Up/Down presses start motion
//     in that direction; Toggle is the release signal — released after
//     holding past HoldPromote100ms stops the motor at the current
//     position, released before that promotes the press into a run to the
//     end (mirrors the original's "released: stop if holdTime elapsed"
//     branch).
//   - "button2" (2-state button, TypeTrigger): each trigger toggles
//     direction and runs to the opposite end, the original's "trigger"
//     plugIndex 1 branch.
//   - "level" (level in, TypeLevel): sets (Flag clear) or steps (Flag set)
//     the target position by value*FullTravel100ms.
//   - "enable_close" (TypeOnOff): gates downward motion while off.
//
// Outputs: "motion" (3-state, TypeUpDown: Up=opening, Down=closing,
// Toggle=stopped) published on every state change, and "position"
// (TypeLevel, 0=open..1=closed) reported at least every 200ms while moving.
func newTimedBlindRunner(s TimedBlindSettings, plugs map[string]*Plug) func(ctx context.Context) {
	button3In := plugs["button3"]
	button2In := plugs["button2"]
	levelIn := plugs["level"]
	enableCloseIn := plugs["enable_close"]
	motionOut := plugs["motion"]
	posOut := plugs["position"]
	fullTravel := sysclock.Milliseconds(int(s.FullTravel100ms) * 100)
	holdPromote := sysclock.Milliseconds(int(s.HoldPromote100ms) * 100)

	return func(ctx context.Context) {
		button3Sub := message.NewSubscriber(message.TypeUpDown)
		if button3In != nil {
			button3In.Topic.Subscribe(button3Sub)
			defer button3In.Topic.Unsubscribe(button3Sub)
		}
		button2Sub := message.NewSubscriber(message.TypeTrigger)
		if button2In != nil {
			button2In.Topic.Subscribe(button2Sub)
			defer button2In.Topic.Unsubscribe(button2Sub)
		}
		levelSub := message.NewSubscriber(message.TypeLevel)
		if levelIn != nil {
			levelIn.Topic.Subscribe(levelSub)
			defer levelIn.Topic.Unsubscribe(levelSub)
		}
		enableCloseSub := message.NewSubscriber(message.TypeOnOff)
		if enableCloseIn != nil {
			enableCloseIn.Topic.Subscribe(enableCloseSub)
			defer enableCloseIn.Topic.Unsubscribe(enableCloseSub)
		}
		events := fanIn(ctx, button3Sub, button2Sub, levelSub, enableCloseSub)

		var position float32 // 0 = open, 1 = fully closed
		dir := blindStopped
		pressedAt := time.Time{}
		enableDown := true
		levelTarget := float32(-1) // level-in position to stop at; negative runs to the end
		publishMotion(motionOut, dir)

		for {
			var timeout <-chan time.Time
			var timer *time.Timer
			if dir != blindStopped {
				timer = time.NewTimer(positionReportInterval)
				timeout = timer.C
			}

			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-events:
				if timer != nil {
					timer.Stop()
				}
				if !ok {
					return
				}
				switch ev.from {
				case 0: // button3
					levelTarget = -1
					if ev.msg.UpDown == message.UpDownToggle {
						// released: stop only if held past the hold-promote
						// window; a quicker release promotes the nudge into
						// a run to the end, matching spec.md's "release
						// before holdTime elapsed lets the blind continue".
						if time.Since(pressedAt) >= holdPromote.Duration() {
							dir = blindStopped
						}
						break
					}
					pressedAt = time.Now()
					if ev.msg.UpDown == message.UpDownUp {
						dir = blindUp
					} else {
						dir = blindDown
					}
				case 1: // button2, toggles direction each press
					levelTarget = -1
					if dir != blindStopped {
						dir = blindStopped
					} else if position > 0 {
						dir = blindUp
					} else {
						dir = blindDown
					}
				case 2: // level in
					target := ev.msg.Level.Value
					if ev.msg.Level.Flag {
						target = position + target
					}
					levelTarget = target
					if target > position {
						dir = blindDown
					} else if target < position {
						dir = blindUp
					} else {
						dir = blindStopped
					}
				case 3: // enable_close
					enableDown = ev.msg.OnOff == message.OnOffOn
					if !enableDown && dir == blindDown {
						dir = blindStopped
					}
				}
			case <-timeout:
			}

			if !enableDown && dir == blindDown {
				dir = blindStopped
			}
			if dir == blindStopped {
				publishMotion(motionOut, dir)
				publishPosition(posOut, position)
				continue
			}

			step := float32(sysclock.FromDuration(positionReportInterval)) / float32(fullTravel)
			if fullTravel <= 0 {
				step = 1
			}
			position += step * float32(dir)
			if levelTarget >= 0 && ((dir == blindDown && position >= levelTarget) || (dir == blindUp && position <= levelTarget)) {
				position = levelTarget
				dir = blindStopped
				levelTarget = -1
			} else if position >= 1 {
				position = 1
				dir = blindStopped
			} else if position <= 0 {
				position = 0
				dir = blindStopped
			}
			publishMotion(motionOut, dir)
			publishPosition(posOut, position)
		}
	}
}

func publishMotion(motionOut *Plug, dir blindDirection) {
	if motionOut == nil {
		return
	}
	v := message.UpDownToggle
	switch dir {
	case blindUp:
		v = message.UpDownUp
	case blindDown:
		v = message.UpDownDown
	}
	motionOut.Topic.Publish(message.Message{Type: message.TypeUpDown, UpDown: v})
}

func publishPosition(posOut *Plug, position float32) {
	if posOut == nil {
		return
	}
	posOut.Topic.Publish(message.Message{Type: message.TypeLevel, Level: message.EncodeFloatWithFlag(position, false)})
}

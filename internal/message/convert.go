package message

// Convert implements spec §4.G's convert(dstType, dstMsg, srcType, srcMsg):
// a fixed, partial conversion table between message types. It returns the
// converted message and true if the (srcType, dstType) pair is defined, or
// a zero Message and false if not — in which case the caller must not
// resume the waiting subscriber, per spec.
//
// The table is grounded on the original's convert() switch in
// _examples/original_source/software/control/src/Message.cpp: every
// pairing it defines is reproduced here; pairings it leaves undefined
// return false here too, rather than inventing a plausible-looking
// conversion.
func Convert(dstType Type, srcType Type, src Message) (Message, bool) {
	if dstType == srcType {
		return src, true
	}

	switch {
	case srcType == TypeTrigger && dstType == TypeOnOff:
		// TRIGGER -> ON_OFF: active (non-zero trigger) toggles.
		if src.Trigger != 0 {
			return Message{Type: TypeOnOff, OnOff: OnOffToggle}, true
		}
		return Message{}, false

	case srcType == TypeUpDown && dstType == TypeOnOff:
		// UP_DOWN -> ON_OFF: up -> off, down -> on.
		switch src.UpDown {
		case UpDownUp:
			return Message{Type: TypeOnOff, OnOff: OnOffOff}, true
		case UpDownDown:
			return Message{Type: TypeOnOff, OnOff: OnOffOn}, true
		default:
			return Message{}, false
		}

	case srcType == TypeOnOff && dstType == TypeUpDown:
		switch src.OnOff {
		case OnOffOff:
			return Message{Type: TypeUpDown, UpDown: UpDownUp}, true
		case OnOffOn:
			return Message{Type: TypeUpDown, UpDown: UpDownDown}, true
		default:
			return Message{}, false
		}

	case srcType == TypeOnOff && dstType == TypeTrigger:
		if src.OnOff == OnOffOn {
			return Message{Type: TypeTrigger, Trigger: 1}, true
		}
		return Message{Type: TypeTrigger, Trigger: 0}, true

	case srcType == TypeOnOff && dstType == TypeLevel:
		// ON_OFF -> LEVEL: off -> 0.0, on -> 1.0, absolute.
		var v float32
		if src.OnOff == OnOffOn {
			v = 1
		}
		return Message{Type: TypeLevel, Level: EncodeFloatWithFlag(v, false)}, true

	case srcType == TypeLevel && dstType == TypeOnOff:
		if src.Level.Value > 0 {
			return Message{Type: TypeOnOff, OnOff: OnOffOn}, true
		}
		return Message{Type: TypeOnOff, OnOff: OnOffOff}, true

	case srcType == TypeLevel && dstType == TypeMoveToLevel:
		// LEVEL -> MOVE_TO_LEVEL: move directly to the level with no
		// explicit rate (second FloatWithFlag left zero/absolute).
		return Message{
			Type: TypeMoveToLevel,
			MoveToLevel: [2]FloatWithFlag{
				src.Level,
				EncodeFloatWithFlag(0, false),
			},
		}, true

	case srcType == TypeTemperature && dstType == TypeTemperature:
		return src, true

	default:
		return Message{}, false
	}
}

// CelsiusToKelvinMessage converts an absolute-Celsius float into a
// Temperature message carrying Kelvin, the fahrenheit/celsius-style
// arithmetic conversion spec §4.G calls out explicitly.
func CelsiusToKelvinMessage(celsius float32) Message {
	return Message{Type: TypeTemperature, Temperature: EncodeFloatWithFlag(celsiusToKelvin(celsius), false)}
}

// KelvinMessageToCelsius extracts an absolute Kelvin temperature message's
// value back into Celsius.
func KelvinMessageToCelsius(m Message) float32 {
	return kelvinToCelsius(m.Temperature.Value)
}

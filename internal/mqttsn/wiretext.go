package mqttsn

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/golobby/cast"

	"github.com/fieldnode/nodecore/internal/message"
)

var float32Type = reflect.TypeOf(float32(0))

// parseFloat32 coerces text to a float32 using golobby/cast.FromType, the
// same loosely-typed string-to-value coercion the teacher's env feeder uses
// to turn environment variable strings into typed config fields.
func parseFloat32(text string) (float32, bool) {
	v, err := cast.FromType(text, float32Type)
	if err != nil {
		return 0, false
	}
	f, ok := v.(float32)
	return f, ok
}

// EncodeWireText renders m as the short text payload spec §4.F's wire
// grammar describes.
func EncodeWireText(m message.Message) string {
	switch m.Type {
	case message.TypeOnOff:
		switch m.OnOff {
		case message.OnOffOff:
			return "off"
		case message.OnOffOn:
			return "on"
		default:
			return "toggle"
		}
	case message.TypeTrigger:
		if m.Trigger != 0 {
			return "active"
		}
		return "inactive"
	case message.TypeUpDown:
		switch m.UpDown {
		case message.UpDownUp:
			return "up"
		case message.UpDownDown:
			return "down"
		default:
			return "inactive"
		}
	case message.TypeLevel:
		return encodeFloatWithFlag(m.Level)
	case message.TypeMoveToLevel:
		level := encodeFloatWithFlag(m.MoveToLevel[0])
		rate := encodeFloatWithFlag(m.MoveToLevel[1])
		return level + " " + rate + "/s"
	case message.TypeTemperature:
		return encodeFloatWithFlag(m.Temperature)
	case message.TypeAirPressure:
		return strconv.FormatFloat(float64(m.AirPressure), 'f', -1, 32)
	case message.TypeResistance:
		return strconv.FormatFloat(float64(m.Resistance), 'f', -1, 32)
	default:
		return ""
	}
}

func encodeFloatWithFlag(f message.FloatWithFlag) string {
	s := strconv.FormatFloat(float64(f.Value), 'f', -1, 32)
	if f.Flag {
		return "!" + s
	}
	return s
}

// DecodeWireText parses text into a Message of the given wanted type,
// following spec §4.F's wire grammar:
//
//	on/off/1/0/toggle/!            -> ON_OFF (2 = toggle)
//	inactive/active/#/!            -> TRIGGER
//	inactive/up/down/#/+/-         -> UP_DOWN
//	level/move-to-level: optional leading "!" marks relative, then a
//	decimal float, optional second float with "s" or "/s" for a rate.
//
// It reports false if text does not parse into wantType's grammar.
func DecodeWireText(wantType message.Type, text string) (message.Message, bool) {
	text = strings.TrimSpace(text)
	switch wantType {
	case message.TypeOnOff:
		return decodeOnOff(text)
	case message.TypeTrigger:
		return decodeTrigger(text)
	case message.TypeUpDown:
		return decodeUpDown(text)
	case message.TypeLevel:
		fwf, ok := decodeFloatWithFlag(text)
		if !ok {
			return message.Message{}, false
		}
		return message.Message{Type: message.TypeLevel, Level: fwf}, true
	case message.TypeMoveToLevel:
		return decodeMoveToLevel(text)
	case message.TypeTemperature:
		fwf, ok := decodeFloatWithFlag(text)
		if !ok {
			return message.Message{}, false
		}
		return message.Message{Type: message.TypeTemperature, Temperature: fwf}, true
	case message.TypeAirPressure:
		v, ok := parseFloat32(text)
		if !ok {
			return message.Message{}, false
		}
		return message.Message{Type: message.TypeAirPressure, AirPressure: v}, true
	case message.TypeResistance:
		v, ok := parseFloat32(text)
		if !ok {
			return message.Message{}, false
		}
		return message.Message{Type: message.TypeResistance, Resistance: v}, true
	default:
		return message.Message{}, false
	}
}

func decodeOnOff(text string) (message.Message, bool) {
	switch text {
	case "on", "1":
		return message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn}, true
	case "off", "0":
		return message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOff}, true
	case "toggle", "!":
		return message.Message{Type: message.TypeOnOff, OnOff: message.OnOffToggle}, true
	default:
		return message.Message{}, false
	}
}

func decodeTrigger(text string) (message.Message, bool) {
	switch text {
	case "active", "!":
		return message.Message{Type: message.TypeTrigger, Trigger: 1}, true
	case "inactive", "#":
		return message.Message{Type: message.TypeTrigger, Trigger: 0}, true
	default:
		return message.Message{}, false
	}
}

func decodeUpDown(text string) (message.Message, bool) {
	switch text {
	case "up", "+":
		return message.Message{Type: message.TypeUpDown, UpDown: message.UpDownUp}, true
	case "down", "-":
		return message.Message{Type: message.TypeUpDown, UpDown: message.UpDownDown}, true
	case "inactive", "#":
		return message.Message{Type: message.TypeUpDown, UpDown: message.UpDownToggle}, true
	default:
		return message.Message{}, false
	}
}

// decodeFloatWithFlag parses an optional leading "!" (relative flag)
// followed by a decimal float, using golobby/cast the same way the
// teacher's env feeder coerces loosely typed config strings into Go
// values.
func decodeFloatWithFlag(text string) (message.FloatWithFlag, bool) {
	relative := false
	if strings.HasPrefix(text, "!") {
		relative = true
		text = text[1:]
	}
	v, ok := parseFloat32(text)
	if !ok {
		return message.FloatWithFlag{}, false
	}
	return message.EncodeFloatWithFlag(v, relative), true
}

// decodeMoveToLevel parses "<level> <rate>s" or "<level> <rate>/s", with
// an optional leading "!" on the level marking a relative move.
func decodeMoveToLevel(text string) (message.Message, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return message.Message{}, false
	}
	level, ok := decodeFloatWithFlag(fields[0])
	if !ok {
		return message.Message{}, false
	}
	if len(fields) == 1 {
		return message.Message{
			Type:        message.TypeMoveToLevel,
			MoveToLevel: [2]message.FloatWithFlag{level, message.EncodeFloatWithFlag(0, false)},
		}, true
	}
	rateText := strings.TrimSuffix(strings.TrimSuffix(fields[1], "/s"), "s")
	rate, ok := decodeFloatWithFlag(rateText)
	if !ok {
		return message.Message{}, false
	}
	return message.Message{
		Type:        message.TypeMoveToLevel,
		MoveToLevel: [2]message.FloatWithFlag{level, rate},
	}, true
}

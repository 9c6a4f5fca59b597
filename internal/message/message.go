// Package message implements the node's typed message union and its fixed
// conversion table (spec §4.G), plus the intrusive-style publisher/
// subscriber plane that function plugs and the MQTT-SN broker both build on.
package message

import "math"

// Type tags one variant of the fixed-size Message union (spec §4.G),
// grounded on the original's MessageType enum in
// _examples/original_source/software/control/src/Message.hpp.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeOnOff
	TypeTrigger
	TypeUpDown
	TypeLevel
	TypeMoveToLevel
	TypeTemperature
	TypeAirPressure
	TypeResistance
)

func (t Type) String() string {
	switch t {
	case TypeOnOff:
		return "on_off"
	case TypeTrigger:
		return "trigger"
	case TypeUpDown:
		return "up_down"
	case TypeLevel:
		return "level"
	case TypeMoveToLevel:
		return "move_to_level"
	case TypeTemperature:
		return "temperature"
	case TypeAirPressure:
		return "air_pressure"
	case TypeResistance:
		return "resistance"
	default:
		return "unknown"
	}
}

// on/off and up/down command values (spec §4.G abridged enums, grounded on
// Message.hpp's anonymous command enums).
const (
	OnOffOff Uint8Value = iota
	OnOffOn
	OnOffToggle
)

const (
	UpDownUp Uint8Value = iota
	UpDownDown
	UpDownToggle
)

// Uint8Value is a plain byte-sized command/state value (onOff, trigger,
// upDown carry one of these).
type Uint8Value = uint8

// FloatWithFlag is a float32 value plus a boolean flag such as "absolute vs
// relative" (spec §4.G). The original firmware packs that flag into the
// float's lowest mantissa bit; here the flag is a separate field, and the
// value's lowest mantissa bit is kept cleared so it carries the same
// precision as the packed form.
type FloatWithFlag struct {
	Value float32
	Flag  bool
}

// bit0 of the float's bit pattern, isolated and cleared through
// math.Float32bits/Float32frombits exactly as the original does through a
// reinterpret-cast union member.
const flagBit uint32 = 1

// EncodeFloatWithFlag pairs v, with its lowest mantissa bit cleared, with flag.
func EncodeFloatWithFlag(v float32, flag bool) FloatWithFlag {
	return FloatWithFlag{Value: maskValue(v), Flag: flag}
}

// maskValue clears the low mantissa bit of v so the flag never perturbs the
// carried value beyond the precision the original already discards.
func maskValue(v float32) float32 {
	bits := math.Float32bits(v) &^ flagBit
	return math.Float32frombits(bits)
}

// Message is the fixed-size union spec §4.G describes. Only the field
// matching Type is meaningful; callers must check Type before reading.
type Message struct {
	Type        Type
	OnOff       Uint8Value
	Trigger     Uint8Value
	UpDown      Uint8Value
	Level       FloatWithFlag
	MoveToLevel [2]FloatWithFlag
	Temperature FloatWithFlag // Kelvin; Flag = relative (vs. absolute)
	AirPressure float32
	Resistance  float32
}

// celsiusToKelvin and its inverse, used by the temperature conversion table
// entries (absolute values only — a relative delta needs no offset).
const celsiusKelvinOffset = 273.15

func celsiusToKelvin(c float32) float32 { return c + celsiusKelvinOffset }
func kelvinToCelsius(k float32) float32 { return k - celsiusKelvinOffset }

package store

import (
	"bytes"
	"encoding/binary"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/function"
)

// recordNameLength is the fixed name field width, per spec §4 "Function
// record": "Persistent header (1 byte id, 1 byte type tag, 16-byte name)".
const recordNameLength = 16

// encodeHeader writes the 1-byte id, 1-byte type tag, 16-byte name header
// common to every persisted function record.
func encodeHeader(buf *bytes.Buffer, id uint8, kind function.Kind, name string) {
	buf.WriteByte(id)
	buf.WriteByte(byte(kind))
	nameBytes := make([]byte, recordNameLength)
	copy(nameBytes, name)
	buf.Write(nameBytes)
}

func decodeHeader(r *bytes.Reader) (id uint8, kind function.Kind, name string, err error) {
	idByte, err := r.ReadByte()
	if err != nil {
		return 0, 0, "", err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return 0, 0, "", err
	}
	nameBytes := make([]byte, recordNameLength)
	if _, err := r.Read(nameBytes); err != nil {
		return 0, 0, "", err
	}
	n := bytes.IndexByte(nameBytes, 0)
	if n < 0 {
		n = len(nameBytes)
	}
	return idByte, function.Kind(kindByte), string(nameBytes[:n]), nil
}

// writeString appends a 1-byte length prefix followed by s. The
// HeatingControl cron expressions use it; record and plug names use fixed
// 16-byte fields instead.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// encodePayload serialises settings, a type tag + length + payload
// encoding per REDESIGN FLAGS "Variable-length persistent records": do not
// rely on struct layout, keep a compact serialised form and a typed
// reader/writer per function kind.
func encodePayload(kind function.Kind, settings any) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case function.KindSwitch:
		s, ok := settings.(function.SwitchSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "switch settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.Timeout10ms)

	case function.KindLight:
		s, ok := settings.(function.LightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "light settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.Timeout10ms)
		binary.Write(&buf, binary.LittleEndian, s.OffFade100ms)
		binary.Write(&buf, binary.LittleEndian, s.TimeoutFade)
		binary.Write(&buf, binary.LittleEndian, uint8(len(s.Settings)))
		for _, cs := range s.Settings {
			buf.WriteByte(cs.BrightnessPercent)
			binary.Write(&buf, binary.LittleEndian, cs.Fade100ms)
		}

	case function.KindColorLight:
		s, ok := settings.(function.ColorLightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "color light settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.Timeout10ms)
		binary.Write(&buf, binary.LittleEndian, s.OffFade100ms)
		binary.Write(&buf, binary.LittleEndian, s.TimeoutFade)
		binary.Write(&buf, binary.LittleEndian, uint8(len(s.Settings)))
		for _, cs := range s.Settings {
			buf.WriteByte(cs.BrightnessPercent)
			binary.Write(&buf, binary.LittleEndian, cs.HueDegrees)
			binary.Write(&buf, binary.LittleEndian, cs.Saturation)
			binary.Write(&buf, binary.LittleEndian, cs.Fade100ms)
		}

	case function.KindAnimatedLight:
		s, ok := settings.(function.AnimatedLightSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "animated light settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.Timeout10ms)
		binary.Write(&buf, binary.LittleEndian, s.OffFade100ms)
		steps := s.Steps
		if len(steps) > function.MaxAnimationSteps {
			steps = steps[:function.MaxAnimationSteps]
		}
		binary.Write(&buf, binary.LittleEndian, uint8(len(steps)))
		for _, st := range steps {
			buf.WriteByte(st.BrightnessPercent)
			binary.Write(&buf, binary.LittleEndian, st.Fade100ms)
			binary.Write(&buf, binary.LittleEndian, st.Hold100ms)
		}

	case function.KindTimedBlind:
		s, ok := settings.(function.TimedBlindSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "timed blind settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.FullTravel100ms)
		binary.Write(&buf, binary.LittleEndian, s.HoldPromote100ms)
		binary.Write(&buf, binary.LittleEndian, s.NudgeStep100ms)

	case function.KindHeatingControl:
		s, ok := settings.(function.HeatingControlSettings)
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "heating control settings type mismatch")
		}
		binary.Write(&buf, binary.LittleEndian, s.SetpointKelvin)
		writeString(&buf, s.NightStartCron)
		writeString(&buf, s.NightEndCron)

	default:
		return nil, nodecore.NewError(nodecore.KindInvalidParameter, "unknown function kind")
	}
	return buf.Bytes(), nil
}

func decodePayload(kind function.Kind, payload []byte) (any, error) {
	r := bytes.NewReader(payload)
	switch kind {
	case function.KindSwitch:
		var s function.SwitchSettings
		if err := binary.Read(r, binary.LittleEndian, &s.Timeout10ms); err != nil {
			return nil, err
		}
		return s, nil

	case function.KindLight:
		var s function.LightSettings
		if err := binary.Read(r, binary.LittleEndian, &s.Timeout10ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.OffFade100ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.TimeoutFade); err != nil {
			return nil, err
		}
		count, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		for i := byte(0); i < count; i++ {
			var cs function.ColorSetting
			if cs.BrightnessPercent, err = r.ReadByte(); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &cs.Fade100ms); err != nil {
				return nil, err
			}
			s.Settings = append(s.Settings, cs)
		}
		return s, nil

	case function.KindColorLight:
		var s function.ColorLightSettings
		if err := binary.Read(r, binary.LittleEndian, &s.Timeout10ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.OffFade100ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.TimeoutFade); err != nil {
			return nil, err
		}
		count, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		for i := byte(0); i < count; i++ {
			var cs function.ColorSettingHS
			if cs.BrightnessPercent, err = r.ReadByte(); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &cs.HueDegrees); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &cs.Saturation); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &cs.Fade100ms); err != nil {
				return nil, err
			}
			s.Settings = append(s.Settings, cs)
		}
		return s, nil

	case function.KindAnimatedLight:
		var s function.AnimatedLightSettings
		if err := binary.Read(r, binary.LittleEndian, &s.Timeout10ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.OffFade100ms); err != nil {
			return nil, err
		}
		count, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		for i := byte(0); i < count; i++ {
			var st function.AnimationStep
			if st.BrightnessPercent, err = r.ReadByte(); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &st.Fade100ms); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &st.Hold100ms); err != nil {
				return nil, err
			}
			s.Steps = append(s.Steps, st)
		}
		return s, nil

	case function.KindTimedBlind:
		var s function.TimedBlindSettings
		if err := binary.Read(r, binary.LittleEndian, &s.FullTravel100ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.HoldPromote100ms); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.NudgeStep100ms); err != nil {
			return nil, err
		}
		return s, nil

	case function.KindHeatingControl:
		var s function.HeatingControlSettings
		if err := binary.Read(r, binary.LittleEndian, &s.SetpointKelvin); err != nil {
			return nil, err
		}
		var err error
		if s.NightStartCron, err = readString(r); err != nil {
			return nil, err
		}
		if s.NightEndCron, err = readString(r); err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, nodecore.NewError(nodecore.KindInvalidParameter, "unknown function kind")
	}
}

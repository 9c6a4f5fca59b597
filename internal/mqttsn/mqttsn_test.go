package mqttsn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldnode/nodecore/internal/message"
)

func TestDJB2IsStable(t *testing.T) {
	require.Equal(t, djb2("room/light"), djb2("room/light"))
	require.NotEqual(t, djb2("room/light"), djb2("room/blind"))
}

func TestTopicTableReusesExistingEntry(t *testing.T) {
	tt := newTopicTable()
	a := tt.getTopicIndex("room/light", true)
	b := tt.getTopicIndex("room/light", true)
	require.Equal(t, a, b)
}

func TestTopicTableWithoutAddReturnsMinusOne(t *testing.T) {
	tt := newTopicTable()
	require.Equal(t, -1, tt.getTopicIndex("unknown", false))
}

func TestTopicTableReusesFreedSlot(t *testing.T) {
	tt := newTopicTable()
	idx := tt.getTopicIndex("a", true)
	tt.release(idx)
	reused := tt.getTopicIndex("b", true)
	require.Equal(t, idx, reused)
}

func TestRetainedArenaSetAndErase(t *testing.T) {
	tt := newTopicTable()
	idx := tt.getTopicIndex("a", true)
	tt.setRetained(idx, []byte("on"))
	v, ok := tt.retained(idx)
	require.True(t, ok)
	require.Equal(t, "on", string(v))

	tt.setRetained(idx, nil)
	_, ok = tt.retained(idx)
	require.False(t, ok)
}

func TestRetainedArenaShiftsLaterOffsets(t *testing.T) {
	tt := newTopicTable()
	a := tt.getTopicIndex("a", true)
	b := tt.getTopicIndex("b", true)
	tt.setRetained(a, []byte("111"))
	tt.setRetained(b, []byte("22"))

	tt.setRetained(a, nil) // erase a's 3 bytes, shifting b's offset down by 3
	v, ok := tt.retained(b)
	require.True(t, ok)
	require.Equal(t, "22", string(v))
}

func TestWireTextRoundTripOnOff(t *testing.T) {
	for _, text := range []string{"on", "off"} {
		msg, ok := DecodeWireText(message.TypeOnOff, text)
		require.True(t, ok)
		require.Equal(t, text, EncodeWireText(msg))
	}
}

func TestDecodeMoveToLevelWithRate(t *testing.T) {
	msg, ok := DecodeWireText(message.TypeMoveToLevel, "!0.5 2/s")
	require.True(t, ok)
	require.True(t, msg.MoveToLevel[0].Flag)
	require.InDelta(t, 0.5, msg.MoveToLevel[0].Value, 0.001)
	require.InDelta(t, 2, msg.MoveToLevel[1].Value, 0.001)
}

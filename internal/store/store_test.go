package store

import (
	"context"
	"testing"

	"github.com/fieldnode/nodecore/internal/function"
	"github.com/fieldnode/nodecore/internal/message"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendWriteReadErase(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	key := Key(NamespaceFunction, 1)

	require.NoError(t, b.Write(ctx, key, []byte{1, 2, 3}))

	n, ok, err := b.Size(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, n)

	buf := make([]byte, 3)
	read, err := b.Read(ctx, key, buf)
	require.NoError(t, err)
	require.Equal(t, 3, read)
	require.Equal(t, []byte{1, 2, 3}, buf)

	require.NoError(t, b.Erase(ctx, key))
	_, ok, err = b.Size(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryBackendKeysFiltersByNamespace(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, Key(NamespaceFunction, 1), []byte{1}))
	require.NoError(t, b.Write(ctx, Key(NamespaceAlarm, 2), []byte{2}))

	keys, err := b.Keys(ctx, NamespaceFunction)
	require.NoError(t, err)
	require.Equal(t, []uint16{Key(NamespaceFunction, 1)}, keys)
}

func TestFunctionStoreSaveLoadRoundTripsSwitch(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewTopicRegistry()
	fs := NewFunctionStore(backend, registry)

	cmdTopic := message.NewTopic(message.TypeOnOff)
	outTopic := message.NewTopic(message.TypeOnOff)
	registry.Register(cmdTopic)
	registry.Register(outTopic)

	rec := function.Record{
		ID:       7,
		Name:     "porch",
		Kind:     function.KindSwitch,
		Settings: function.SwitchSettings{Timeout10ms: 500},
		PlugTopic: map[string]*message.Topic{
			"cmd": cmdTopic,
			"out": outTopic,
		},
	}

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, rec))

	loaded, err := fs.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "porch", loaded[0].Name)
	require.Equal(t, function.KindSwitch, loaded[0].Kind)
	require.Equal(t, function.SwitchSettings{Timeout10ms: 500}, loaded[0].Settings)
	require.Same(t, cmdTopic, loaded[0].PlugTopic["cmd"])
	require.Same(t, outTopic, loaded[0].PlugTopic["out"])
}

func TestFunctionStoreRoundTripsLightWithSettings(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewTopicRegistry()
	fs := NewFunctionStore(backend, registry)

	brightnessTopic := message.NewTopic(message.TypeLevel)
	registry.Register(brightnessTopic)

	rec := function.Record{
		ID:   3,
		Name: "kitchen-light",
		Kind: function.KindLight,
		Settings: function.LightSettings{
			Timeout10ms:  100,
			OffFade100ms: 20,
			TimeoutFade:  5,
			Settings: []function.ColorSetting{
				{BrightnessPercent: 80, Fade100ms: 10},
				{BrightnessPercent: 30, Fade100ms: 2},
			},
		},
		PlugTopic: map[string]*message.Topic{"brightness": brightnessTopic},
	}

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, rec))

	loaded, err := fs.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, rec.Settings, loaded[0].Settings)
}

func TestFunctionStoreRoundTripsHeatingControlWithNightSchedule(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewTopicRegistry()
	fs := NewFunctionStore(backend, registry)

	valveTopic := message.NewTopic(message.TypeOnOff)
	registry.Register(valveTopic)

	rec := function.Record{
		ID:   4,
		Name: "bedroom-heating",
		Kind: function.KindHeatingControl,
		Settings: function.HeatingControlSettings{
			SetpointKelvin: 293.15,
			NightStartCron: "0 0 22 * * *",
			NightEndCron:   "0 0 6 * * *",
		},
		PlugTopic: map[string]*message.Topic{"valve": valveTopic},
	}

	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, rec))

	loaded, err := fs.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, rec.Settings, loaded[0].Settings)
}

func TestFunctionStoreDeleteRemovesRecord(t *testing.T) {
	backend := NewMemoryBackend()
	registry := NewTopicRegistry()
	fs := NewFunctionStore(backend, registry)

	rec := function.Record{ID: 9, Name: "x", Kind: function.KindSwitch, Settings: function.SwitchSettings{}}
	ctx := context.Background()
	require.NoError(t, fs.Save(ctx, rec))
	require.NoError(t, fs.Delete(ctx, 9))

	loaded, err := fs.LoadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

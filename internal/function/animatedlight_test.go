package function

import (
	"context"
	"testing"
	"time"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/stretchr/testify/require"
)

func TestAnimatedLightCyclesThroughSteps(t *testing.T) {
	cmdTopic := message.NewTopic(message.TypeOnOff)
	brightnessTopic := message.NewTopic(message.TypeLevel)
	plugs := map[string]*Plug{
		"cmd":        {Name: "cmd", Topic: cmdTopic},
		"brightness": {Name: "brightness", Topic: brightnessTopic},
	}

	brightnessSub := message.NewSubscriber(message.TypeLevel)
	brightnessTopic.Subscribe(brightnessSub)

	settings := AnimatedLightSettings{
		Steps: []AnimationStep{
			{BrightnessPercent: 50, Fade100ms: 1, Hold100ms: 1},
			{BrightnessPercent: 100, Fade100ms: 1, Hold100ms: 1},
		},
	}
	run := newAnimatedLightRunner(settings, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	cmdTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	first, err := brightnessSub.Wait(waitCtx)
	require.NoError(t, err)
	require.InDelta(t, 0.5, first.Level.Value, 0.01)

	waitCtx2, waitCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel2()
	second, err2 := brightnessSub.Wait(waitCtx2)
	require.NoError(t, err2)
	require.InDelta(t, 1.0, second.Level.Value, 0.01)
}

func TestAnimatedLightOffCommandStopsAnimation(t *testing.T) {
	cmdTopic := message.NewTopic(message.TypeOnOff)
	brightnessTopic := message.NewTopic(message.TypeLevel)
	plugs := map[string]*Plug{
		"cmd":        {Name: "cmd", Topic: cmdTopic},
		"brightness": {Name: "brightness", Topic: brightnessTopic},
	}

	brightnessSub := message.NewSubscriber(message.TypeLevel)
	brightnessTopic.Subscribe(brightnessSub)

	settings := AnimatedLightSettings{
		OffFade100ms: 1,
		Steps: []AnimationStep{
			{BrightnessPercent: 50, Fade100ms: 1, Hold100ms: 50},
		},
	}
	run := newAnimatedLightRunner(settings, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	cmdTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	_, err := brightnessSub.Wait(waitCtx)
	require.NoError(t, err)

	cmdTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOff})

	waitCtx2, waitCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel2()
	got, err2 := brightnessSub.Wait(waitCtx2)
	require.NoError(t, err2)
	require.Equal(t, float32(0), got.Level.Value)
}

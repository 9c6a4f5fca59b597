package function

import (
	"context"
	"testing"
	"time"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/stretchr/testify/require"
)

func TestColorLightRunnerPublishesChromaticityOnTurnOn(t *testing.T) {
	cmdTopic := message.NewTopic(message.TypeOnOff)
	xTopic := message.NewTopic(message.TypeLevel)
	yTopic := message.NewTopic(message.TypeLevel)
	plugs := map[string]*Plug{
		"cmd": {Name: "cmd", Topic: cmdTopic},
		"x":   {Name: "x", Topic: xTopic},
		"y":   {Name: "y", Topic: yTopic},
	}

	xSub := message.NewSubscriber(message.TypeLevel)
	xTopic.Subscribe(xSub)

	settings := ColorLightSettings{
		Settings: []ColorSettingHS{{BrightnessPercent: 100, HueDegrees: 0, Saturation: 1, Fade100ms: 1}},
	}
	run := newColorLightRunner(settings, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	cmdTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	got, err := xSub.Wait(waitCtx)
	require.NoError(t, err)
	require.Greater(t, got.Level.Value, float32(0.5))
}

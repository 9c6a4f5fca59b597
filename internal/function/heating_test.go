package function

import (
	"context"
	"testing"
	"time"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/stretchr/testify/require"
)

func TestHeatingControlOpensValveBelowSetpoint(t *testing.T) {
	measuredTopic := message.NewTopic(message.TypeTemperature)
	valveTopic := message.NewTopic(message.TypeOnOff)
	plugs := map[string]*Plug{
		"measured": {Name: "measured", Topic: measuredTopic},
		"valve":    {Name: "valve", Topic: valveTopic},
	}

	valveSub := message.NewSubscriber(message.TypeOnOff)
	valveTopic.Subscribe(valveSub)

	run := newHeatingControlRunner(HeatingControlSettings{SetpointKelvin: 293.15}, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	measuredTopic.Publish(message.Message{Type: message.TypeTemperature, Temperature: message.EncodeFloatWithFlag(292, false)})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	got, err := valveSub.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)
}

func TestHeatingControlForcesValveClosedOnWindowOpen(t *testing.T) {
	measuredTopic := message.NewTopic(message.TypeTemperature)
	windowTopic := message.NewTopic(message.TypeOnOff)
	valveTopic := message.NewTopic(message.TypeOnOff)
	plugs := map[string]*Plug{
		"measured": {Name: "measured", Topic: measuredTopic},
		"window":   {Name: "window", Topic: windowTopic},
		"valve":    {Name: "valve", Topic: valveTopic},
	}

	valveSub := message.NewSubscriber(message.TypeOnOff)
	valveTopic.Subscribe(valveSub)

	run := newHeatingControlRunner(HeatingControlSettings{SetpointKelvin: 293.15}, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	measuredTopic.Publish(message.Message{Type: message.TypeTemperature, Temperature: message.EncodeFloatWithFlag(280, false)})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	got, err := valveSub.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)

	windowTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})

	waitCtx2, waitCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel2()
	got2, err2 := valveSub.Wait(waitCtx2)
	require.NoError(t, err2)
	require.Equal(t, message.OnOffOff, got2.OnOff)
}

func TestHeatingControlNightSetbackLowersEffectiveSetpoint(t *testing.T) {
	measuredTopic := message.NewTopic(message.TypeTemperature)
	nightTopic := message.NewTopic(message.TypeOnOff)
	valveTopic := message.NewTopic(message.TypeOnOff)
	plugs := map[string]*Plug{
		"measured": {Name: "measured", Topic: measuredTopic},
		"night":    {Name: "night", Topic: nightTopic},
		"valve":    {Name: "valve", Topic: valveTopic},
	}

	valveSub := message.NewSubscriber(message.TypeOnOff)
	valveTopic.Subscribe(valveSub)

	run := newHeatingControlRunner(HeatingControlSettings{SetpointKelvin: 293.15}, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	nightTopic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})

	// 292K is above the night-setback effective setpoint (293.15-2=291.15)
	// plus hysteresis, so the valve must stay off despite being below the
	// daytime setpoint.
	measuredTopic.Publish(message.Message{Type: message.TypeTemperature, Temperature: message.EncodeFloatWithFlag(292, false)})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer waitCancel()
	_, err := valveSub.Wait(waitCtx)
	require.Error(t, err)
}

func TestHeatingControlSetpointPlugOverridesDefault(t *testing.T) {
	measuredTopic := message.NewTopic(message.TypeTemperature)
	setpointTopic := message.NewTopic(message.TypeTemperature)
	valveTopic := message.NewTopic(message.TypeOnOff)
	plugs := map[string]*Plug{
		"measured": {Name: "measured", Topic: measuredTopic},
		"setpoint": {Name: "setpoint", Topic: setpointTopic},
		"valve":    {Name: "valve", Topic: valveTopic},
	}

	valveSub := message.NewSubscriber(message.TypeOnOff)
	valveTopic.Subscribe(valveSub)

	run := newHeatingControlRunner(HeatingControlSettings{SetpointKelvin: 280}, plugs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx)

	time.Sleep(10 * time.Millisecond)
	setpointTopic.Publish(message.Message{Type: message.TypeTemperature, Temperature: message.EncodeFloatWithFlag(300, false)})
	time.Sleep(10 * time.Millisecond)
	measuredTopic.Publish(message.Message{Type: message.TypeTemperature, Temperature: message.EncodeFloatWithFlag(292, false)})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	got, err := valveSub.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, message.OnOffOn, got.OnOff)
}

package message

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTopicPublishDeliversConvertedMessageToSubscriber(t *testing.T) {
	topic := NewTopic(TypeTrigger)
	sub := NewSubscriber(TypeOnOff)
	topic.Subscribe(sub)

	go topic.Publish(Message{Type: TypeTrigger, Trigger: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, OnOffToggle, got.OnOff)
}

func TestTopicPublishSkipsSubscriberWithUndefinedConversion(t *testing.T) {
	topic := NewTopic(TypeResistance)
	sub := NewSubscriber(TypeAirPressure)
	topic.Subscribe(sub)

	topic.Publish(Message{Type: TypeResistance, Resistance: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.Error(t, err) // never resumed; times out via ctx
}

func TestTopicListenerInvokedSynchronously(t *testing.T) {
	topic := NewTopic(TypeOnOff)
	var got Message
	topic.Listen(func(m Message) { got = m })

	topic.Publish(Message{Type: TypeOnOff, OnOff: OnOffOn})
	require.Equal(t, OnOffOn, got.OnOff)
}

func TestTopicSubscribeDeliversRetainedPayload(t *testing.T) {
	topic := NewTopic(TypeTrigger)
	topic.SetRetained(Message{Type: TypeTrigger, Trigger: 1})

	sub := NewSubscriber(TypeOnOff)
	topic.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, OnOffToggle, got.OnOff)
}

func TestTopicSubscribeSkipsRetainedOnUndefinedConversion(t *testing.T) {
	topic := NewTopic(TypeResistance)
	topic.SetRetained(Message{Type: TypeResistance, Resistance: 10})

	sub := NewSubscriber(TypeAirPressure)
	topic.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.Error(t, err)
}

func TestTopicClearRetainedStopsDelivery(t *testing.T) {
	topic := NewTopic(TypeOnOff)
	topic.SetRetained(Message{Type: TypeOnOff, OnOff: OnOffOn})
	topic.ClearRetained()

	sub := NewSubscriber(TypeOnOff)
	topic.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.Error(t, err)
}

func TestTopicUnsubscribeStopsDelivery(t *testing.T) {
	topic := NewTopic(TypeOnOff)
	sub := NewSubscriber(TypeOnOff)
	topic.Subscribe(sub)
	topic.Unsubscribe(sub)

	topic.Publish(Message{Type: TypeOnOff, OnOff: OnOffOn})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	require.Error(t, err)
}

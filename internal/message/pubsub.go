package message

import (
	"context"
	"sync"

	"github.com/fieldnode/nodecore/internal/task"
)

// Subscriber is one listener on a Topic's plug. It holds the Type it wants
// delivered (its own message buffer's type, in the original's terms) and a
// Barrier woken once per successful conversion+publish. Subscribers form an
// intrusive-style list on their Topic (spec §4.G), here a slice guarded by
// the Topic's mutex rather than a linked list, since Go has no equivalent
// need to avoid a heap allocation per node.
type Subscriber struct {
	WantType Type
	barrier  *task.Barrier

	mu      sync.Mutex
	pending *Message // retained payload delivered while no Wait was parked
}

// NewSubscriber returns a Subscriber waiting for messages of wantType.
func NewSubscriber(wantType Type) *Subscriber {
	return &Subscriber{WantType: wantType, barrier: task.NewBarrier()}
}

// Wait blocks until a publish converts successfully into this subscriber's
// WantType, returning the converted Message. A retained payload that
// Subscribe delivered while no Wait was parked is returned first.
func (s *Subscriber) Wait(ctx context.Context) (Message, error) {
	s.mu.Lock()
	if p := s.pending; p != nil {
		s.pending = nil
		s.mu.Unlock()
		return *p, nil
	}
	s.mu.Unlock()
	v, err := s.barrier.Wait(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	return v.(Message), nil
}

// Listener is a callback-style subscriber: instead of parking a goroutine
// on a Barrier, it registers a function invoked synchronously on publish
// (spec §4.G's listener list, used where a function plug must react without
// spinning up a coroutine per plug, e.g. the MQTT-SN broker draining a
// retained topic into every newly subscribed connection).
type Listener func(m Message)

// Topic is a publish point: a fixed message Type and the list of
// subscribers/listeners currently attached to it.
type Topic struct {
	Type Type

	mu          sync.Mutex
	subscribers []*Subscriber
	listeners   []Listener
	retained    *Message
}

// NewTopic returns an empty Topic carrying messages of the given Type.
func NewTopic(t Type) *Topic {
	return &Topic{Type: t}
}

// SetRetained stores msg as the topic's current retained payload (spec
// §4.F's retained-message arena, exposed at the Topic level so any
// subscriber — local function plug or MQTT-SN broker connection — sees the
// same "last value" semantics). A zero Message can still be retained; use
// ClearRetained to erase.
func (t *Topic) SetRetained(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := msg
	t.retained = &v
}

// ClearRetained erases the topic's retained payload, if any.
func (t *Topic) ClearRetained() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retained = nil
}

// Subscribe attaches sub to the topic and, if the topic currently holds a
// retained payload, delivers it immediately — converted into sub.WantType
// exactly like a live Publish would be, and silently skipped if that
// conversion is undefined (spec §4.F: "new subscriptions receive the
// retained message").
func (t *Topic) Subscribe(sub *Subscriber) {
	t.mu.Lock()
	t.subscribers = append(t.subscribers, sub)
	retained := t.retained
	t.mu.Unlock()

	if retained == nil {
		return
	}
	if converted, ok := Convert(sub.WantType, t.Type, *retained); ok {
		if !sub.barrier.ResumeFirst(converted) {
			sub.mu.Lock()
			sub.pending = &converted
			sub.mu.Unlock()
		}
	}
}

// Unsubscribe detaches sub from the topic, if present.
func (t *Topic) Unsubscribe(sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Listen attaches a Listener callback to the topic.
func (t *Topic) Listen(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Publish delivers msg (of the topic's own Type) to every subscriber and
// listener, converting into each subscriber's WantType per spec §4.G: "for
// each subscriber on the matching topic, attempt conversion into its message
// buffer; if successful, resume one waiter on its Barrier." A subscriber
// whose conversion is undefined is silently skipped — it is not resumed,
// and Publish does not error.
func (t *Topic) Publish(msg Message) {
	t.mu.Lock()
	subs := append([]*Subscriber(nil), t.subscribers...)
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, sub := range subs {
		converted, ok := Convert(sub.WantType, t.Type, msg)
		if !ok {
			continue
		}
		sub.barrier.ResumeFirst(converted)
	}
	for _, l := range listeners {
		l(msg)
	}
}

package store

import (
	"sync"

	"github.com/fieldnode/nodecore/internal/message"
)

// TopicRegistry is a simple bidirectional id<->Topic table, the default
// TopicResolver implementation used to persist plug bindings as stable
// numeric ids instead of in-memory pointers.
type TopicRegistry struct {
	mu        sync.RWMutex
	byID      map[uint16]*message.Topic
	idByTopic map[*message.Topic]uint16
	next      uint16
}

// NewTopicRegistry returns an empty TopicRegistry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		byID:      make(map[uint16]*message.Topic),
		idByTopic: make(map[*message.Topic]uint16),
	}
}

// Register assigns t a stable id, reusing any id already assigned to t.
func (r *TopicRegistry) Register(t *message.Topic) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.idByTopic[t]; ok {
		return id
	}
	id := r.next
	r.next++
	r.byID[id] = t
	r.idByTopic[t] = id
	return id
}

// Topic implements TopicResolver.
func (r *TopicRegistry) Topic(id uint16) (*message.Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// TopicID implements TopicResolver.
func (r *TopicRegistry) TopicID(t *message.Topic) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByTopic[t]
	return id, ok
}

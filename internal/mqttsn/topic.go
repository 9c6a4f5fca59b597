package mqttsn

import "sync"

// topicInfo is one entry in the topic table: its name, the byte range it
// occupies in the retained-message arena (if any), and the bound message
// type local publishers/subscribers on this topic exchange.
type topicInfo struct {
	name     string
	hash     uint32
	msgType  MessageType
	inUse    bool
	retOff   int
	retLen   int
	retCap   int
	hasRetain bool
}

// topicTable is the broker's linearly scanned topic table plus its
// retained-message byte arena (spec §4.F). It has no fixed capacity: a new
// topic reuses a free slot or is appended.
type topicTable struct {
	mu     sync.Mutex
	topics []topicInfo
	arena  []byte
}

func newTopicTable() *topicTable {
	return &topicTable{}
}

// djb2 hashes name per spec §4.F ("hashes the name (DJB2)").
func djb2(name string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// getTopicIndex implements spec §4.F's getTopicIndex(name, add): hash the
// name, linearly scan for a matching or free slot, optionally appending a
// new one. It returns -1 if not found and add is false; with add set it
// always returns an index.
func (t *topicTable) getTopicIndex(name string, add bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := djb2(name)
	freeIdx := -1
	for i, info := range t.topics {
		if info.inUse && info.hash == h && info.name == name {
			return i
		}
		if !info.inUse && freeIdx == -1 {
			freeIdx = i
		}
	}
	if !add {
		return -1
	}
	if freeIdx != -1 {
		t.topics[freeIdx] = topicInfo{name: name, hash: h, inUse: true}
		return freeIdx
	}
	t.topics = append(t.topics, topicInfo{name: name, hash: h, inUse: true})
	return len(t.topics) - 1
}

func (t *topicTable) nameOf(idx int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.topics) {
		return ""
	}
	return t.topics[idx].name
}

func (t *topicTable) release(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.topics) {
		return
	}
	t.eraseRetainedLocked(idx)
	t.topics[idx] = topicInfo{}
}

// setRetained implements spec §4.F's retained-arena update: a non-empty
// payload overwrites in place if capacity suffices, else reallocates at the
// arena's end; an empty payload erases. insert/erase shift the arena and
// fix up every topic whose offset is at or after the mutation point.
func (t *topicTable) setRetained(idx int, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.topics) {
		return
	}
	if len(payload) == 0 {
		t.eraseRetainedLocked(idx)
		return
	}

	info := &t.topics[idx]
	if info.hasRetain && len(payload) <= info.retCap {
		copy(t.arena[info.retOff:info.retOff+len(payload)], payload)
		info.retLen = len(payload)
		return
	}

	if info.hasRetain {
		t.eraseRetainedLocked(idx)
	}

	off := len(t.arena)
	t.arena = append(t.arena, payload...)
	info.retOff = off
	info.retLen = len(payload)
	info.retCap = len(payload)
	info.hasRetain = true
}

// eraseRetainedLocked removes idx's retained bytes from the arena, shifting
// every later byte down and fixing up every topic whose offset follows the
// erased region. Caller must hold t.mu.
func (t *topicTable) eraseRetainedLocked(idx int) {
	info := &t.topics[idx]
	if !info.hasRetain {
		return
	}
	start, capLen := info.retOff, info.retCap
	t.arena = append(t.arena[:start], t.arena[start+capLen:]...)
	for i := range t.topics {
		if i == idx {
			continue
		}
		if t.topics[i].hasRetain && t.topics[i].retOff >= start+capLen {
			t.topics[i].retOff -= capLen
		}
	}
	info.hasRetain = false
	info.retOff, info.retLen, info.retCap = 0, 0, 0
}

// retained returns idx's current retained payload and whether one exists.
func (t *topicTable) retained(idx int) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.topics) || !t.topics[idx].hasRetain {
		return nil, false
	}
	info := t.topics[idx]
	out := make([]byte, info.retLen)
	copy(out, t.arena[info.retOff:info.retOff+info.retLen])
	return out, true
}

// Package store implements the node's persistent key/value boundary (spec
// §4 "Persistence interface" / §6 "Persisted state layout"): a flash/FRAM-
// like size/read/write/erase contract, an in-memory Backend for tests and
// the host emulator, and the function-record tag+length+payload codec
// (REDESIGN FLAGS: "Variable-length persistent records").
package store

import (
	"context"
	"sync"

	"github.com/fieldnode/nodecore"
)

// Namespace bits distinguish record kinds sharing the same flat key space,
// per spec §6: "alarm records at base id STORAGE_ID_ALARM | n and function
// records at STORAGE_ID_FUNCTION | n".
const (
	NamespaceAlarm    uint16 = 0x1000
	NamespaceFunction uint16 = 0x2000
)

// Key builds a namespaced storage key from a namespace and a record index.
func Key(namespace uint16, n uint32) uint16 {
	return namespace | uint16(n)
}

// Backend is the flash/FRAM read/write/erase contract spec §6 names
// exactly: size(key), read(key,len,buf), write(key,len,buf), erase(key).
// Grounded on the teacher's modules/cache CacheEngine interface split
// (Connect/Close/Get/Set/Delete/Flush) narrowed to the node's actual
// persistence surface — no TTL or connection lifecycle applies to
// non-volatile storage.
type Backend interface {
	// Size reports the stored length of key, or ok=false if no record is
	// stored under key.
	Size(ctx context.Context, key uint16) (n int, ok bool, err error)

	// Read copies up to len(buf) bytes starting at offset 0 of key's record
	// into buf, returning the number of bytes copied.
	Read(ctx context.Context, key uint16, buf []byte) (int, error)

	// Write stores buf under key, replacing any prior record.
	Write(ctx context.Context, key uint16, buf []byte) error

	// Erase removes key's record, if any.
	Erase(ctx context.Context, key uint16) error

	// Keys returns every key currently stored in namespace (the high bits
	// of Key), for enumeration at boot.
	Keys(ctx context.Context, namespace uint16) ([]uint16, error)
}

// MemoryBackend implements Backend with an in-memory map, the Go analogue
// of the teacher's MemoryCache engine with the TTL/eviction machinery
// stripped out (flash records do not expire).
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[uint16][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[uint16][]byte)}
}

func (b *MemoryBackend) Size(ctx context.Context, key uint16) (int, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return 0, false, nil
	}
	return len(rec), true, nil
}

func (b *MemoryBackend) Read(ctx context.Context, key uint16, buf []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return 0, nodecore.NewError(nodecore.KindInvalidParameter, "no record stored under key")
	}
	n := copy(buf, rec)
	return n, nil
}

func (b *MemoryBackend) Write(ctx context.Context, key uint16, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = cp
	return nil
}

func (b *MemoryBackend) Erase(ctx context.Context, key uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *MemoryBackend) Keys(ctx context.Context, namespace uint16) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []uint16
	for k := range b.records {
		if k&^0x0FFF == namespace {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

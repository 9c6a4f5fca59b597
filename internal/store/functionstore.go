package store

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/function"
	"github.com/fieldnode/nodecore/internal/message"
)

// TopicResolver maps a persisted plug binding back to the live Topic it
// refers to, decoupling the persistence layer (which only ever sees a
// stable numeric topic id) from the runtime's in-memory Topic objects.
type TopicResolver interface {
	Topic(id uint16) (*message.Topic, bool)
	TopicID(t *message.Topic) (uint16, bool)
}

// FunctionStore adapts a Backend into internal/function.Store, implementing
// spec §4's function-record persistence contract on top of the namespaced
// size/read/write/erase Backend. Plug-to-Topic bindings are persisted as
// (name, topic id) pairs and resolved through resolver at load time.
type FunctionStore struct {
	backend  Backend
	resolver TopicResolver
}

// NewFunctionStore returns a FunctionStore persisting through backend,
// resolving plug topic ids through resolver.
func NewFunctionStore(backend Backend, resolver TopicResolver) *FunctionStore {
	return &FunctionStore{backend: backend, resolver: resolver}
}

// LoadAll implements internal/function.Store: decode every record stored
// under NamespaceFunction, skipping (not failing) a record that cannot be
// read or decoded or whose plug topic cannot be resolved. Records carry no
// checksum, so a corrupted record that still decodes is loaded as is.
func (s *FunctionStore) LoadAll(ctx context.Context) ([]function.Record, error) {
	keys, err := s.backend.Keys(ctx, NamespaceFunction)
	if err != nil {
		return nil, err
	}

	var records []function.Record
	for _, key := range keys {
		n, ok, err := s.backend.Size(ctx, key)
		if err != nil || !ok {
			continue
		}
		buf := make([]byte, n)
		if _, err := s.backend.Read(ctx, key, buf); err != nil {
			continue
		}
		rec, err := s.decodeRecord(key, buf)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save encodes rec and writes it under its namespaced key.
func (s *FunctionStore) Save(ctx context.Context, rec function.Record) error {
	buf, err := s.encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, Key(NamespaceFunction, rec.ID), buf)
}

// Delete erases rec.ID's stored record.
func (s *FunctionStore) Delete(ctx context.Context, id uint32) error {
	return s.backend.Erase(ctx, Key(NamespaceFunction, id))
}

func (s *FunctionStore) encodeRecord(rec function.Record) ([]byte, error) {
	var buf bytes.Buffer
	encodeHeader(&buf, uint8(rec.ID), rec.Kind, rec.Name)

	payload, err := encodePayload(rec.Kind, rec.Settings)
	if err != nil {
		return nil, err
	}

	plugNames := make([]string, 0, len(rec.PlugTopic))
	for name := range rec.PlugTopic {
		plugNames = append(plugNames, name)
	}
	buf.WriteByte(uint8(len(plugNames)))
	for _, name := range plugNames {
		topicID, ok := s.resolver.TopicID(rec.PlugTopic[name])
		if !ok {
			return nil, nodecore.NewError(nodecore.KindInvalidParameter, "plug topic has no registered id: "+name)
		}
		nameBytes := make([]byte, recordNameLength)
		copy(nameBytes, name)
		buf.Write(nameBytes)
		binary.Write(&buf, binary.LittleEndian, topicID)
	}

	binary.Write(&buf, binary.LittleEndian, uint16(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func (s *FunctionStore) decodeRecord(key uint16, raw []byte) (function.Record, error) {
	r := bytes.NewReader(raw)
	_, kind, name, err := decodeHeader(r)
	if err != nil {
		return function.Record{}, err
	}

	plugCountByte, err := r.ReadByte()
	if err != nil {
		return function.Record{}, err
	}
	plugTopics := make(map[string]*message.Topic, plugCountByte)
	for i := byte(0); i < plugCountByte; i++ {
		nameBytes := make([]byte, recordNameLength)
		if _, err := r.Read(nameBytes); err != nil {
			return function.Record{}, err
		}
		n := bytes.IndexByte(nameBytes, 0)
		if n < 0 {
			n = len(nameBytes)
		}
		var topicID uint16
		if err := binary.Read(r, binary.LittleEndian, &topicID); err != nil {
			return function.Record{}, err
		}
		topic, ok := s.resolver.Topic(topicID)
		if !ok {
			return function.Record{}, nodecore.NewError(nodecore.KindInvalidParameter, "unresolvable plug topic id")
		}
		plugTopics[string(nameBytes[:n])] = topic
	}

	var payloadLen uint16
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return function.Record{}, err
	}
	payload := make([]byte, payloadLen)
	if _, err := r.Read(payload); err != nil {
		return function.Record{}, err
	}

	settings, err := decodePayload(kind, payload)
	if err != nil {
		return function.Record{}, err
	}

	return function.Record{
		ID:        uint32(key &^ NamespaceFunction),
		Name:      name,
		Kind:      kind,
		Settings:  settings,
		PlugTopic: plugTopics,
	}, nil
}

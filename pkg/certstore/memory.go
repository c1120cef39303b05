// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package certstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore keeps entries in process memory. Sessions are exclusive.
type MemoryStore struct {
	lock    sync.Mutex
	session sync.Mutex
	nextID  int64
	entries map[int64]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]Entry)}
}

func (m *MemoryStore) Add(_ context.Context, entry Entry) (Entry, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.nextID++
	entry.ID = m.nextID
	m.entries[entry.ID] = entry

	return entry, nil
}

func (m *MemoryStore) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.session.Lock()

	return &memorySession{store: m}, nil
}

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.entries)
}

// Labels returns the label of every stored entry.
func (m *MemoryStore) Labels() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	labels := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		labels = append(labels, e.Label)
	}

	return labels
}

type memorySession struct {
	store  *MemoryStore
	closed bool
}

func (s *memorySession) Find(_ context.Context, label string) ([]Entry, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}

	s.store.lock.Lock()
	defer s.store.lock.Unlock()

	var out []Entry
	for _, e := range s.store.entries {
		if e.Label == label {
			out = append(out, e)
		}
	}

	return out, nil
}

func (s *memorySession) Export(_ context.Context, entry Entry, password string) ([]byte, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}

	return ExportEntry(entry, password)
}

func (s *memorySession) Remove(_ context.Context, entry Entry) error {
	if s.closed {
		return errors.New("session closed")
	}

	s.store.lock.Lock()
	defer s.store.lock.Unlock()

	if _, ok := s.store.entries[entry.ID]; !ok {
		return errors.Errorf("entry %d not found", entry.ID)
	}

	delete(s.store.entries, entry.ID)

	return nil
}

func (s *memorySession) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.store.session.Unlock()

	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import "sync"

type record struct {
	values   map[string]string
	holders  int
	revision uint32
}

// MemStore keeps metadata records in memory.
type MemStore struct {
	mu       sync.RWMutex
	records  map[Ref]*record
	next     Ref
	onChange func(Ref)
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[Ref]*record)}
}

// OnChange registers a hook invoked (outside the store lock) after a record changes.
func (m *MemStore) OnChange(fn func(Ref)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Create allocates a new record holding url.
func (m *MemStore) Create(url string) Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	if m.next == 0 {
		m.next = 1
	}
	ref := m.next
	m.records[ref] = &record{
		values:   map[string]string{KeyURL: url},
		holders:  1,
		revision: 1,
	}
	return ref
}

// Len returns the number of live records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Retain adds a holder to ref.
func (m *MemStore) Retain(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[ref]; ok {
		rec.holders++
	}
}

// Release drops a holder and frees the record on the last one.
func (m *MemStore) Release(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ref]
	if !ok {
		return
	}
	rec.holders--
	if rec.holders <= 0 {
		delete(m.records, ref)
	}
}

// Get returns the value stored for key.
func (m *MemStore) Get(ref Ref, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[ref]
	if !ok {
		return "", false
	}
	v, ok := rec.values[key]
	return v, ok
}

// Set stores value under key, bumping the revision when it changes.
func (m *MemStore) Set(ref Ref, key, value string) bool {
	m.mu.Lock()
	rec, ok := m.records[ref]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if cur, exists := rec.values[key]; exists && cur == value {
		m.mu.Unlock()
		return false
	}
	rec.values[key] = value
	rec.revision++
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(ref)
	}
	return true
}

// Delete removes key from the record.
func (m *MemStore) Delete(ref Ref, key string) {
	m.mu.Lock()
	rec, ok := m.records[ref]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, exists := rec.values[key]; !exists {
		m.mu.Unlock()
		return
	}
	delete(rec.values, key)
	rec.revision++
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(ref)
	}
}

// Revision returns the record revision, zero when the record is gone.
func (m *MemStore) Revision(ref Ref) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[ref]; ok {
		return rec.revision
	}
	return 0
}

// Exists reports whether ref is still allocated.
func (m *MemStore) Exists(ref Ref) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[ref]
	return ok
}

// Holders returns the current holder count of ref.
func (m *MemStore) Holders(ref Ref) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[ref]; ok {
		return rec.holders
	}
	return 0
}

// Copy duplicates the listed keys from src to dst, skipping keys src lacks.
func Copy(s Store, src, dst Ref, keys ...string) {
	for _, key := range keys {
		if v, ok := s.Get(src, key); ok {
			s.Set(dst, key, v)
		}
	}
}

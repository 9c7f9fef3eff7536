package storage

import (
	"sync"

	"biomonkey/internal/grid"
)

// MemoryStore keeps pages in a spatial hash grid. Stored and returned pages
// are copies.
type MemoryStore struct {
	mu    sync.RWMutex
	pages *grid.Grid[*PageData]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: grid.New[*PageData]()}
}

func (m *MemoryStore) Load(x, z int) (*PageData, bool, error) {
	m.mu.RLock()
	page, ok := m.pages.Get(x, z)
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return page.clone(), true, nil
}

func (m *MemoryStore) Save(page *PageData) error {
	dup := page.clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages.Put(dup)
}

func (m *MemoryStore) Delete(x, z int) error {
	m.mu.Lock()
	m.pages.Remove(x, z)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages.Len()
}

func (m *MemoryStore) Close() error { return nil }

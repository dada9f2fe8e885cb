package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore реализует LayoutStore в памяти.
// Используется в тестах и когда хранилище отключено в конфиге.
// Данные теряются при перезапуске.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*Snapshot
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Snapshot)}
}

func (m *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return ErrEmptyVolumeID
	}
	if err := validate(ctx, snap.VolumeID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotReady
	}

	c := cloneSnapshot(snap)
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	m.data[c.VolumeID] = c
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrNotReady
	}

	s, ok := m.data[volumeID]
	if !ok {
		return nil, false, nil
	}
	return cloneSnapshot(s), true, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrNotReady
	}

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotReady
	}
	delete(m.data, volumeID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

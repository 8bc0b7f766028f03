package reservations

import (
	"context"
	"sync"
)

// MemoryStore is a Lookup backed by a map; used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string][]Reservation
}

func NewMemoryStore(seed ...Reservation) *MemoryStore {
	m := &MemoryStore{byName: make(map[string][]Reservation)}
	for _, r := range seed {
		m.Add(r)
	}
	return m
}

func (m *MemoryStore) Add(r Reservation) {
	key := NormalizeName(r.GuestName)
	m.mu.Lock()
	m.byName[key] = append(m.byName[key], r)
	m.mu.Unlock()
}

func (m *MemoryStore) Lookup(ctx context.Context, name string) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.byName[NormalizeName(name)]
	if len(rs) == 0 {
		return Reservation{}, ErrNotFound
	}
	best := rs[0]
	for _, r := range rs[1:] {
		if r.CheckIn.After(best.CheckIn) {
			best = r
		}
	}
	return best, nil
}

package cache

import (
	"context"
	"sync"
	"time"

	"studiobook/internal/domain"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process cache with a fixed TTL. A zero TTL keeps entries until invalidated.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[Key]entry
	now     func() time.Time

	genAll     uint64
	genWeekday [7]uint64
	genDate    map[domain.Date]uint64
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[Key]entry),
		now:     time.Now,
		genDate: make(map[domain.Date]uint64),
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (m *Memory) Stamp(_ context.Context, date domain.Date) Stamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stampLocked(date)
}

func (m *Memory) stampLocked(date domain.Date) Stamp {
	return Stamp{All: m.genAll, Weekday: m.genWeekday[date.Weekday()], Date: m.genDate[date]}
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, stamp Stamp) {
	e := entry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stampLocked(key.Date) != stamp {
		return
	}
	m.entries[key] = e
}

func (m *Memory) InvalidateDate(_ context.Context, date domain.Date) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genDate[date]++
	for _, mode := range modes {
		delete(m.entries, Key{Date: date, Mode: mode})
	}
}

func (m *Memory) InvalidateWeekday(_ context.Context, day time.Weekday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genWeekday[day]++
	for k := range m.entries {
		if k.Date.Weekday() == day {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) InvalidateAll(context.Context) {
	m.mu.Lock()
	m.genAll++
	// Date counters restart; stamps taken earlier still differ on All.
	m.genDate = make(map[domain.Date]uint64)
	m.entries = make(map[Key]entry)
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

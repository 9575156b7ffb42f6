package session

import (
	"sync"
	"time"
)

// Manager serializes update handling per phone number, so a user's context
// and pending next step are never touched by two deliveries at once.
// Different phones run in parallel.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*userLock
	now   func() time.Time
}

type userLock struct {
	mu       sync.Mutex
	lastUsed time.Time
	holders  int
}

func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*userLock),
		now:   time.Now,
	}
}

// WithLock executes fn while holding the per-phone mutex and returns its error.
func (m *Manager) WithLock(phone string, fn func() error) error {
	unlock := m.Lock(phone)
	defer unlock()
	return fn()
}

// Lock blocks until phone's mutex is held and returns the function releasing it.
func (m *Manager) Lock(phone string) (unlock func()) {
	m.mu.Lock()
	ul, ok := m.locks[phone]
	if !ok {
		ul = &userLock{}
		m.locks[phone] = ul
	}
	ul.holders++
	m.mu.Unlock()

	ul.mu.Lock()

	return func() {
		m.mu.Lock()
		ul.lastUsed = m.now()
		ul.holders--
		m.mu.Unlock()
		ul.mu.Unlock()
	}
}

// Cleanup removes locks idle for longer than maxAge. Locks that are held or
// waited on are kept.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for phone, ul := range m.locks {
		if ul.holders == 0 && now.Sub(ul.lastUsed) > maxAge {
			delete(m.locks, phone)
			removed++
		}
	}
	return removed
}

// Len reports how many phones currently have a lock entry.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

package session

import (
	"sync"
	"testing"
	"time"
)

func TestWithLock_SerializesSamePhone(t *testing.T) {
	m := NewManager()
	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock("5511999990000", func() error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder at a time, saw %d", maxSeen)
	}
}

func TestWithLock_DifferentPhonesInParallel(t *testing.T) {
	m := NewManager()
	unlock := m.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		m.WithLock("b", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked by lock on a")
	}
}

func TestCleanup(t *testing.T) {
	m := NewManager()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.WithLock("old", func() error { return nil })
	held := m.Lock("held")
	defer held()

	now = now.Add(2 * time.Hour)
	m.WithLock("fresh", func() error { return nil })

	if removed := m.Cleanup(time.Hour); removed != 1 {
		t.Fatalf("expected 1 lock removed, got %d", removed)
	}
	if m.Len() != 2 {
		t.Fatalf("expected held and fresh locks to remain, got %d", m.Len())
	}
}

package cache

import "time"

// SetClock replaces the time source for tests.
func (m *Memory[V]) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

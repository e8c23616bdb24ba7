package lease

import (
	"context"
	"sync"
	"time"

	"icsimport/internal/clock"
)

// Memory is a process-local lease table.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	held  map[string]time.Time
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System{}
	}
	return &Memory{clock: clk, held: make(map[string]time.Time)}
}

// Acquire takes name for ttl unless an earlier acquisition is still running.
// There is no release; a lease only ends by expiring.
func (m *Memory) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if until, ok := m.held[name]; ok && now.Before(until) {
		return false, nil
	}
	m.held[name] = now.Add(ttl)
	return true, nil
}

// HeldUntil reports when name expires. The zero time means it was never
// acquired.
func (m *Memory) HeldUntil(_ context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[name], nil
}

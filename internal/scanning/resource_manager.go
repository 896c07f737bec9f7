package scanning

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ResourceManager bounds the number of port pipelines that may run at once.
type ResourceManager interface {
	// Acquire blocks until a slot is available or ctx is done.
	Acquire(ctx context.Context) error

	// Release returns a slot previously obtained with Acquire.
	Release()

	// InFlight returns the number of slots currently held.
	InFlight() int

	// Capacity returns the slot count.
	Capacity() int

	// GetStats reports capacity, current and peak usage.
	GetStats() map[string]interface{}
}

// SlotManager implements ResourceManager on a weighted semaphore.
type SlotManager struct {
	capacity int
	sem      *semaphore.Weighted

	mu       sync.Mutex
	inFlight int
	peak     int
}

// NewSlotManager creates a manager with the given capacity. Capacities below
// one are raised to one.
func NewSlotManager(capacity int) *SlotManager {
	if capacity <= 0 {
		capacity = 1
	}
	return &SlotManager{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire implements ResourceManager.
func (m *SlotManager) Acquire(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire scan slot: %w", err)
	}

	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	m.mu.Unlock()
	return nil
}

// Release implements ResourceManager.
func (m *SlotManager) Release() {
	m.mu.Lock()
	if m.inFlight == 0 {
		m.mu.Unlock()
		return
	}
	m.inFlight--
	m.mu.Unlock()

	m.sem.Release(1)
}

// InFlight implements ResourceManager.
func (m *SlotManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Capacity implements ResourceManager.
func (m *SlotManager) Capacity() int {
	return m.capacity
}

// GetStats implements ResourceManager. "peak" is the highest number of slots
// ever held at the same time.
func (m *SlotManager) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"capacity":        m.capacity,
		"in_flight":       m.inFlight,
		"available_slots": m.capacity - m.inFlight,
		"peak":            m.peak,
	}
}

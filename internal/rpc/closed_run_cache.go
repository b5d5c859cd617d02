package rpc

import (
	"sync"

	"github.com/tauagent/tau/internal/models"
)

// closedRunCache retains RunState for runs that have reached a terminal
// status, bounded to capacity entries with FIFO eviction (spec.md §8
// invariant 8: oldest insertion evicted first, never by any other order).
type closedRunCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	states   map[string]models.RunState
}

func newClosedRunCache(capacity int) *closedRunCache {
	if capacity <= 0 {
		capacity = ClosedRunStatusCapacity
	}
	return &closedRunCache{capacity: capacity, states: make(map[string]models.RunState)}
}

// Put inserts or overwrites state for runID. A run already present keeps its
// original insertion position for eviction purposes; only a new runID is
// appended to the eviction order.
func (c *closedRunCache) Put(runID string, state models.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.states[runID]; !exists {
		c.order = append(c.order, runID)
	}
	c.states[runID] = state

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.states, oldest)
	}
}

// Get returns the cached state for runID, if present.
func (c *closedRunCache) Get(runID string) (models.RunState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[runID]
	return state, ok
}

// Len reports the number of entries currently retained.
func (c *closedRunCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

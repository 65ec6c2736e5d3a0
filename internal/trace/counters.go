// SPDX-License-Identifier: MIT

package trace

import (
	"fmt"
	"sync"
)

// Counters owns the monotonic ID state for trace events and correlation IDs.
// IDs are never reused within a process lifetime. The seed is injectable so
// tests produce deterministic IDs.
type Counters struct {
	mu          sync.Mutex
	event       uint64
	correlation uint64
}

// NewCounters creates a counter set starting at seed (typically 0).
func NewCounters(seed uint64) *Counters {
	return &Counters{event: seed, correlation: seed}
}

// NextEventID returns the next event ID, format EVT-NNNN.
func (c *Counters) NextEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.event++
	return fmt.Sprintf("EVT-%04d", c.event)
}

// NextCorrelationID returns the next correlation ID, format COR-NNNN.
func (c *Counters) NextCorrelationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correlation++
	return fmt.Sprintf("COR-%04d", c.correlation)
}

// Get returns the current counter values.
func (c *Counters) Get() (event, correlation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event, c.correlation
}

// Reset rewinds both counters to seed. Test use only; resetting in a live
// process would violate the no-reuse invariant.
func (c *Counters) Reset(seed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.event = seed
	c.correlation = seed
}

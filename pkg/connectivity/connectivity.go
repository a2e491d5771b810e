// Package connectivity defines the signal the sync coordinator listens to.
// The core does not detect network conditions itself; a platform-specific
// monitor feeds transitions in.
package connectivity

import "sync"

// State is a snapshot of the device's network condition. Metered and
// Charging only matter when sync constraints reference them.
type State struct {
	Online   bool
	Metered  bool
	Charging bool
}

// Monitor reports the current network state and a stream of transitions.
// Duplicate or missed notifications must be tolerated by consumers; the
// drain trigger is idempotent.
type Monitor interface {
	State() State
	Events() <-chan State
}

// Manual is a Monitor driven by explicit Set calls, for hosts that bridge
// their own reachability callbacks and for tests.
type Manual struct {
	mu     sync.Mutex
	state  State
	events chan State
}

// NewManual creates a monitor with the given initial state.
func NewManual(initial State) *Manual {
	return &Manual{
		state: initial,
		// Buffered so publishers never block; a slow consumer misses
		// intermediate states, not the latest one it eventually reads.
		events: make(chan State, 16),
	}
}

// State returns the current state.
func (m *Manual) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the transition stream. Intended for a single consumer.
func (m *Manual) Events() <-chan State {
	return m.events
}

// Set publishes a new state. Setting an identical state is a no-op, which
// absorbs duplicate platform notifications.
func (m *Manual) Set(state State) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	select {
	case m.events <- state:
	default:
		// Channel full; the consumer will read State() when it catches up.
	}
}

// SetOnline flips only the online flag.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	state.Online = online
	m.Set(state)
}

package timevariance

import (
	"sync"
	"time"
)

// Callback receives the new state of a machine after it changed. It runs on
// a timer goroutine without the machine lock held.
type Callback func(state int, objectID int64)

// Machine tracks one (object, type) pair.
type Machine struct {
	policy      Policy
	description string
	objectID    int64
	start       time.Time
	callback    Callback
	registry    *Registry

	mu       sync.Mutex
	state    int
	timer    Timer
	paused   bool
	disposed bool
}

func (m *Machine) Type() Type           { return m.policy.Type }
func (m *Machine) Description() string  { return m.description }
func (m *Machine) ObjectID() int64      { return m.objectID }
func (m *Machine) StartTime() time.Time { return m.start }
func (m *Machine) MaxState() int        { return m.policy.MaxState() }

// State returns the last evaluated state.
func (m *Machine) State() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) checkState(state int) {
	if state < 0 || state > m.policy.MaxState() {
		panic(&StateRangeError{Type: m.policy.Type, State: state, Max: m.policy.MaxState()})
	}
}

// NextEventTime returns when the machine leaves state. The terminated state
// never leaves, so its event time is the zero time.
func (m *Machine) NextEventTime(state int) time.Time {
	m.checkState(state)
	if state == StateTerminated {
		return time.Time{}
	}
	return LimitEventTime(m.start.Add(m.policy.Offsets[state]))
}

// LastEventTime is when the machine terminates.
func (m *Machine) LastEventTime() time.Time {
	return m.NextEventTime(m.policy.MaxState())
}

func (m *Machine) advance(state int) int {
	switch {
	case state == StateNone:
		return 1
	case state == m.policy.MaxState():
		return StateTerminated
	default:
		return state + 1
	}
}

// FindNextState walks forward from state to the state that holds at now.
func (m *Machine) FindNextState(now time.Time, state int) int {
	if state == StateTerminated {
		return StateTerminated
	}
	if state == StateNone {
		state = 1
	}
	for !now.Before(m.NextEventTime(state)) {
		state = m.advance(state)
		if state == StateTerminated {
			break
		}
	}
	return state
}

// Adjustment is the factor of a state. Out-of-range states panic with
// *StateRangeError.
func (m *Machine) Adjustment(state int) float64 {
	m.checkState(state)
	return m.policy.Factors[state]
}

// AdjustmentAt evaluates the factor that applies at now, independent of the
// machine's current timer state.
func (m *Machine) AdjustmentAt(now time.Time) float64 {
	return m.Adjustment(m.FindNextState(now, StateNone))
}

// IsRunningAt reports whether the machine still has a transition ahead.
func (m *Machine) IsRunningAt(now time.Time) bool {
	return m.LastEventTime().After(now)
}

// Start registers the machine and evaluates it. The first evaluation sets
// the initial state silently; later transitions invoke the callback.
func (m *Machine) Start() {
	m.registry.add(m)
	m.run()
}

// Pause stops the timer and keeps the state.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.stopTimerLocked()
}

// Resume re-evaluates a paused machine and restarts its timer.
func (m *Machine) Resume() {
	m.mu.Lock()
	if m.disposed || !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	m.mu.Unlock()
	m.run()
}

// Dispose stops the machine for good and unregisters it.
func (m *Machine) Dispose() {
	m.halt()
	m.registry.remove(m)
}

func (m *Machine) halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.stopTimerLocked()
}

func (m *Machine) run() {
	m.mu.Lock()
	if m.disposed || m.paused {
		m.mu.Unlock()
		return
	}
	prev := m.state
	next := m.FindNextState(m.registry.clock.Now(), prev)
	if next == prev {
		m.scheduleLocked()
		m.mu.Unlock()
		return
	}
	m.state = next
	m.stopTimerLocked()
	if next != StateTerminated {
		m.scheduleLocked()
	} else {
		m.disposed = true
	}
	m.mu.Unlock()

	log := m.registry.logger.With("group", m.description, "type", m.Type().String(), "object_id", m.objectID)
	log.Debug("timevariance: transition", "from", prev, "to", next)
	if next == StateTerminated {
		log.Debug("timevariance: terminated")
	}

	if prev != StateNone && m.callback != nil {
		m.callback(next, m.objectID)
	}
	if next == StateTerminated {
		m.registry.remove(m)
	}
}

func (m *Machine) scheduleLocked() {
	if m.state == StateTerminated {
		return
	}
	m.stopTimerLocked()
	clock := m.registry.clock
	d := m.NextEventTime(m.state).Sub(clock.Now())
	if d < 0 {
		d = 0
	}
	m.timer = clock.AfterFunc(d, m.run)
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
